package shades

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-shades/internal/device"
	"github.com/nerrad567/gray-logic-shades/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-shades/internal/journal"
)

// Logger defines the logging interface used throughout this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MQTTClient is the subset of the MQTT infrastructure the bridge needs.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// LogLevelSetter adjusts the process log level at runtime.
// Implemented by the logging infrastructure.
type LogLevelSetter interface {
	SetLevel(level string)
}

// BridgeOptions holds the collaborators for a Bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health messages.
	// Default: "shades".
	BridgeID string

	// Version is the bridge software version for health messages.
	Version string

	// MQTT is the broker connection (required).
	MQTT MQTTClient

	// Registry is the authoritative device store (required).
	Registry *device.Registry

	// Gateway is the generation-specific client (required).
	Gateway GatewayClient

	// Locator owns the primary designation (required).
	Locator *Locator

	// Scheduler drives the synchronisation loop (required).
	Scheduler *Scheduler

	// Reconciler applies snapshots and events (required).
	Reconciler *Reconciler

	// Stream is the event stream client. Nil for the poll generation.
	Stream *StreamClient

	// Health reports bridge status (required).
	Health *HealthReporter

	// Journal records forwarded commands. Optional.
	Journal journal.Repository

	// Telemetry writes time-series metrics. Optional.
	Telemetry *influxdb.Client

	// LogLevel adjusts the runtime log level. Optional.
	LogLevel LogLevelSetter

	// Logger is optional.
	Logger Logger
}

// Bridge is the host boundary: it subscribes to command and config
// topics, validates and forwards commands to the primary gateway, and
// publishes state, discovery and health back to the broker. It also
// implements Notifier so reconciliation passes surface as retained
// state publishes and telemetry writes.
type Bridge struct {
	bridgeID string
	version  string

	mqtt       MQTTClient
	registry   *device.Registry
	gateway    GatewayClient
	locator    *Locator
	scheduler  *Scheduler
	reconciler *Reconciler
	stream     *StreamClient
	health     *HealthReporter
	journal    journal.Repository
	telemetry  *influxdb.Client
	logLevel   LogLevelSetter
	logger     Logger

	ctx       context.Context
	ctxCancel context.CancelFunc

	stopOnce sync.Once
}

// NewBridge validates the options and creates a bridge.
// Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	if opts.Locator == nil {
		return nil, fmt.Errorf("locator is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if opts.Reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if opts.Health == nil {
		return nil, fmt.Errorf("health reporter is required")
	}

	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = protocolName
	}

	return &Bridge{
		bridgeID:   bridgeID,
		version:    opts.Version,
		mqtt:       opts.MQTT,
		registry:   opts.Registry,
		gateway:    opts.Gateway,
		locator:    opts.Locator,
		scheduler:  opts.Scheduler,
		reconciler: opts.Reconciler,
		stream:     opts.Stream,
		health:     opts.Health,
		journal:    opts.Journal,
		telemetry:  opts.Telemetry,
		logLevel:   opts.LogLevel,
		logger:     opts.Logger,
	}, nil
}

// Start wires the notifier, subscribes to the broker and launches the
// stream, scheduler and health reporter.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.ctxCancel = context.WithCancel(ctx)

	if err := b.health.PublishStarting(); err != nil {
		b.logWarn("failed to publish starting status", "error", err)
	}

	b.reconciler.SetNotifier(b)
	b.reconciler.SetRediscoveryRequest(b.scheduler.RequestRediscovery)

	if err := b.mqtt.Subscribe(CommandSubscribeTopic(), 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	if err := b.mqtt.Subscribe(ConfigTopic(), 1, b.handleConfig); err != nil {
		return fmt.Errorf("subscribing to config: %w", err)
	}

	if b.stream != nil {
		b.stream.Start(b.ctx)
	}
	b.scheduler.Start(b.ctx)
	b.health.Start(b.ctx)

	b.logInfo("shade bridge started",
		"bridge_id", b.bridgeID,
		"generation", b.gateway.Generation())
	return nil
}

// Stop shuts the bridge down: scheduler first so no pass is mid-flight,
// then the stream, then health (which publishes a final stopping
// status). Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.scheduler.Stop()
		if b.stream != nil {
			b.stream.Stop()
		}
		b.health.Stop()
		if b.ctxCancel != nil {
			b.ctxCancel()
		}
		b.logInfo("shade bridge stopped")
	})
}

// --- command handling ---

// commandError is a validation failure destined for a failed ack and a
// rejected journal entry.
type commandError struct {
	code    string
	message string
}

func (e *commandError) Error() string { return e.message }

// handleCommand processes one command message from the host.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logWarn("discarding malformed command", "topic", topic, "error", err)
		return nil // Not retryable; don't make the broker redeliver.
	}
	if cmd.DeviceID == "" {
		b.logWarn("discarding command without device id", "topic", topic, "command", cmd.Command)
		return nil
	}

	start := time.Now()
	kind := device.CommandKind(cmd.Command)

	var err error
	if kind == device.CommandActivateScene {
		err = b.executeSceneCommand(cmd)
	} else {
		err = b.executeShadeCommand(cmd, kind)
	}

	b.finishCommand(cmd, kind, start, err)
	return nil
}

// executeShadeCommand validates a shade command against the target's
// capability, acknowledges acceptance, and forwards it to the primary.
func (b *Bridge) executeShadeCommand(cmd CommandMessage, kind device.CommandKind) error {
	shade, err := b.registry.GetShade(cmd.DeviceID)
	if err != nil {
		return &commandError{ErrCodeNotConfigured,
			fmt.Sprintf("shade %s is not tracked", cmd.DeviceID)}
	}

	capability := device.Classify(shade.Capability)
	if !isKnownCommand(kind) {
		return &commandError{ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command %q", cmd.Command)}
	}
	if !capability.SupportsCommand(kind) {
		return &commandError{ErrCodeInvalidParameters,
			fmt.Sprintf("command %q is not supported by %s shades", cmd.Command, capability.Name)}
	}

	pos, cmdErr := commandPositions(cmd, kind, capability)
	if cmdErr != nil {
		return cmdErr
	}

	primary, err := b.locator.Primary()
	if err != nil {
		return &commandError{ErrCodeDeviceUnreachable, "no primary gateway designated"}
	}

	// Acknowledge acceptance before the gateway round-trip; a failure
	// publishes a second, failed ack.
	b.publishAck(NewAckMessage(cmd, AckAccepted))

	switch kind {
	case device.CommandStop:
		err = b.gateway.StopShade(b.ctx, primary, cmd.DeviceID)
	case device.CommandJog:
		err = b.gateway.JogShade(b.ctx, primary, cmd.DeviceID)
	default:
		err = b.gateway.SetPositions(b.ctx, primary, cmd.DeviceID, pos)
	}
	if err != nil {
		return fmt.Errorf("forwarding %s to gateway: %w", cmd.Command, err)
	}
	return nil
}

// executeSceneCommand forwards a scene activation to the primary.
func (b *Bridge) executeSceneCommand(cmd CommandMessage) error {
	if _, err := b.registry.GetScene(cmd.DeviceID); err != nil {
		return &commandError{ErrCodeNotConfigured,
			fmt.Sprintf("scene %s is not tracked", cmd.DeviceID)}
	}

	primary, err := b.locator.Primary()
	if err != nil {
		return &commandError{ErrCodeDeviceUnreachable, "no primary gateway designated"}
	}

	b.publishAck(NewAckMessage(cmd, AckAccepted))

	if err := b.gateway.ActivateScene(b.ctx, primary, cmd.DeviceID); err != nil {
		return fmt.Errorf("forwarding scene activation to gateway: %w", err)
	}

	// The poll generation cannot report activation back; assert it
	// optimistically and let the next full sync clear it.
	if b.gateway.Generation() == GenerationPoll {
		b.reconciler.NoteSceneActivation(b.ctx, cmd.DeviceID)
	}
	return nil
}

// finishCommand publishes the failure ack when needed, journals the
// command, and records metrics.
func (b *Bridge) finishCommand(cmd CommandMessage, kind device.CommandKind, start time.Time, err error) {
	latency := time.Since(start)
	outcome := journal.OutcomeSuccess
	errText := ""

	var cmdErr *commandError
	switch {
	case err == nil:
	case errors.As(err, &cmdErr):
		// Rejected before reaching the gateway: the only ack is a failure.
		outcome = journal.OutcomeRejected
		errText = cmdErr.message
		b.publishAck(NewAckError(cmd, cmdErr.code, cmdErr.message))
		b.logWarn("command rejected",
			"command", cmd.Command, "device", cmd.DeviceID,
			"code", cmdErr.code, "reason", cmdErr.message)
	default:
		outcome = journal.OutcomeFailed
		errText = err.Error()
		code := ErrCodeProtocolError
		if errors.Is(err, ErrGatewayUnreachable) || errors.Is(err, ErrNotPrimary) {
			code = ErrCodeDeviceUnreachable
		}
		if errors.Is(err, context.DeadlineExceeded) {
			code = ErrCodeTimeout
		}
		b.publishAck(NewAckError(cmd, code, err.Error()))
		b.logError("command failed",
			"command", cmd.Command, "device", cmd.DeviceID, "error", err)
	}

	targetKind := journal.TargetShade
	if kind == device.CommandActivateScene {
		targetKind = journal.TargetScene
	}

	if b.journal != nil {
		entry := &journal.Entry{
			Command:    cmd.Command,
			TargetKind: targetKind,
			TargetID:   cmd.DeviceID,
			Parameters: cmd.Parameters,
			Source:     cmd.Source,
			Outcome:    outcome,
			Error:      errText,
			LatencyMs:  latency.Milliseconds(),
		}
		if jerr := b.journal.Record(b.ctx, entry); jerr != nil {
			b.logWarn("journal write failed", "error", jerr)
		}
	}

	if b.telemetry != nil {
		b.telemetry.WriteCommandLatency(cmd.Command, targetKind,
			float64(latency.Milliseconds()), err == nil)
	}
	b.health.NoteCommand(err == nil)

	if err == nil {
		b.logInfo("command forwarded",
			"command", cmd.Command, "device", cmd.DeviceID,
			"latency", latency.String())
	}
}

// commandPositions derives the position targets for a movement command.
// Returns a zero Positions for stop and jog.
func commandPositions(cmd CommandMessage, kind device.CommandKind, capability device.Capability) (Positions, *commandError) {
	var pos Positions
	full := 100

	// open/close drive the primary dimension, or the secondary on
	// variants with no primary (top-down).
	lift := func(pct int) {
		if capability.HasPrimary {
			pos.Primary = &pct
		} else {
			pos.Secondary = &pct
		}
	}

	switch kind {
	case device.CommandOpen:
		lift(0)
	case device.CommandClose:
		lift(full)
	case device.CommandTiltOpen:
		tilt := capability.ClampTilt(0)
		pos.Tilt = &tilt
	case device.CommandTiltClose:
		tilt := capability.ClampTilt(full)
		pos.Tilt = &tilt
	case device.CommandSetPosition:
		return positionsFromParameters(cmd.Parameters, capability)
	case device.CommandStop, device.CommandJog:
		// No targets.
	}
	return pos, nil
}

// positionsFromParameters validates set_position parameters against the
// capability's dimensions.
func positionsFromParameters(params map[string]any, capability device.Capability) (Positions, *commandError) {
	var pos Positions

	for _, dim := range []struct {
		name string
		has  bool
		dst  **int
	}{
		{"primary", capability.HasPrimary, &pos.Primary},
		{"secondary", capability.HasSecondary, &pos.Secondary},
		{"tilt", capability.HasTilt, &pos.Tilt},
	} {
		raw, present := params[dim.name]
		if !present {
			continue
		}
		if !dim.has {
			return Positions{}, &commandError{ErrCodeInvalidParameters,
				fmt.Sprintf("%s shades have no %s dimension", capability.Name, dim.name)}
		}
		pct, ok := asPercent(raw)
		if !ok {
			return Positions{}, &commandError{ErrCodeInvalidParameters,
				fmt.Sprintf("%s must be a number between 0 and 100", dim.name)}
		}
		if dim.name == "tilt" {
			pct = capability.ClampTilt(pct)
		}
		*dim.dst = &pct
	}

	if pos.IsZero() {
		return Positions{}, &commandError{ErrCodeInvalidParameters,
			"set_position requires at least one position parameter"}
	}
	return pos, nil
}

// asPercent converts a JSON parameter value to a 0-100 percent.
func asPercent(raw any) (int, bool) {
	var pct int
	switch v := raw.(type) {
	case float64:
		pct = int(v + 0.5)
	case int:
		pct = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		pct = int(f + 0.5)
	default:
		return 0, false
	}
	if pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

// isKnownCommand reports whether the command kind is one the bridge
// understands at all.
func isKnownCommand(kind device.CommandKind) bool {
	for _, k := range device.AllCommandKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// --- config handling ---

// configMessage is an administrative call on the config topic.
type configMessage struct {
	Action string `json:"action"`
	Level  string `json:"level,omitempty"`
}

// handleConfig processes administrative messages: on-demand rediscovery
// and runtime log level changes.
func (b *Bridge) handleConfig(topic string, payload []byte) error {
	var msg configMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logWarn("discarding malformed config message", "topic", topic, "error", err)
		return nil
	}

	switch msg.Action {
	case "rediscover":
		b.logInfo("rediscovery requested via config topic")
		b.scheduler.RequestRediscovery()

	case "set_log_level":
		if b.logLevel == nil {
			b.logWarn("log level change requested but no setter wired")
			return nil
		}
		b.logLevel.SetLevel(msg.Level)
		b.logInfo("log level changed", "level", msg.Level)

	default:
		b.logWarn("unknown config action", "action", msg.Action)
	}
	return nil
}

// --- Notifier implementation ---

// ShadeChanged publishes the shade's state, retained, and writes
// position and battery telemetry.
func (b *Bridge) ShadeChanged(shade device.ShadeState) {
	state := shadeStatePayload(shade)
	b.publishState(NewStateMessage("shade", shade.ID, state))

	if b.telemetry != nil {
		b.telemetry.WriteShadePosition(shade.ID, shade.Primary, shade.Secondary, shade.Tilt)
		b.telemetry.WriteBatteryLevel(shade.ID, batteryCode(shade.Battery), string(shade.Battery))
	}
}

// SceneChanged publishes the scene's state, retained.
func (b *Bridge) SceneChanged(scene device.SceneState) {
	state := map[string]any{
		"name":   scene.Name,
		"active": scene.Active,
	}
	if scene.RoomID != "" {
		state["room_id"] = scene.RoomID
	}
	b.publishState(NewStateMessage("scene", scene.ID, state))
}

// ShadeRemoved clears the retained state for a removed shade.
func (b *Bridge) ShadeRemoved(id string) {
	b.clearState(id)
}

// SceneRemoved clears the retained state for a removed scene.
func (b *Bridge) SceneRemoved(id string) {
	b.clearState(id)
}

// PassCompleted writes sync telemetry, refreshes the health device
// count, and announces the population after a rediscovery pass.
func (b *Bridge) PassCompleted(mode SyncMode, result PassResult, duration time.Duration) {
	stats := b.registry.GetStats()
	b.health.SetDeviceCount(stats.TotalShades + stats.TotalScenes)

	if b.telemetry != nil {
		cycle := "long"
		switch mode {
		case SyncEvents:
			cycle = "short"
		case SyncRediscovery:
			cycle = "rediscovery"
		}
		b.telemetry.WriteSyncStats(cycle, result.Shades, result.Scenes,
			result.Changed, float64(duration.Milliseconds()))
	}

	if mode == SyncRediscovery {
		b.publishDiscovery()
	}
}

// publishDiscovery announces the tracked device population.
func (b *Bridge) publishDiscovery() {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.bridgeID,
		Shades:    []DiscoveredShade{},
		Scenes:    []DiscoveredScene{},
	}
	for _, s := range b.registry.ListShades() {
		msg.Shades = append(msg.Shades, DiscoveredShade{
			ID:         s.ID,
			Name:       s.Name,
			RoomID:     s.RoomID,
			Capability: s.Capability,
			Variant:    device.Classify(s.Capability).Name,
			Battery:    string(s.Battery),
		})
	}
	for _, s := range b.registry.ListScenes() {
		msg.Scenes = append(msg.Scenes, DiscoveredScene{
			ID:     s.ID,
			Name:   s.Name,
			RoomID: s.RoomID,
		})
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to encode discovery message", "error", err)
		return
	}
	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, false); err != nil {
		b.logWarn("failed to publish discovery", "error", err)
	}
}

// --- publish helpers ---

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to encode ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		b.logWarn("failed to publish ack", "device", ack.DeviceID, "error", err)
	}
}

func (b *Bridge) publishState(msg StateMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to encode state", "device", msg.DeviceID, "error", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(msg.DeviceID), payload, 1, true); err != nil {
		b.logWarn("failed to publish state", "device", msg.DeviceID, "error", err)
	}
}

// clearState publishes an empty retained payload, which deletes the
// retained state message from the broker.
func (b *Bridge) clearState(id string) {
	if err := b.mqtt.Publish(StateTopic(id), []byte{}, 1, true); err != nil {
		b.logWarn("failed to clear retained state", "device", id, "error", err)
	}
}

// shadeStatePayload builds the state map for a shade, carrying only the
// dimensions its capability exposes.
func shadeStatePayload(shade device.ShadeState) map[string]any {
	state := map[string]any{
		"name":       shade.Name,
		"capability": shade.Capability,
		"variant":    device.Classify(shade.Capability).Name,
		"battery":    string(shade.Battery),
		"motion":     shade.Motion,
	}
	if shade.RoomID != "" {
		state["room_id"] = shade.RoomID
	}
	if shade.Primary != nil {
		state["primary"] = *shade.Primary
	}
	if shade.Secondary != nil {
		state["secondary"] = *shade.Secondary
	}
	if shade.Tilt != nil {
		state["tilt"] = *shade.Tilt
	}
	return state
}

// batteryCode maps a decoded battery level back to the wire code for
// telemetry graphing.
func batteryCode(level device.BatteryLevel) int {
	switch level {
	case device.BatteryLow:
		return 1
	case device.BatteryMedium:
		return 2
	case device.BatteryHigh:
		return 3
	case device.BatteryWired:
		return 4
	default:
		return 0
	}
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}

func (b *Bridge) logError(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Error(msg, args...)
	}
}
