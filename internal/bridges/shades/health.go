package shades

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher

	// Collaborators consulted for status (all optional).
	locator   *Locator
	scheduler *Scheduler
	stream    *StreamClient
	gateway   GatewayClient

	// Device count (updated externally)
	deviceCount   int
	deviceCountMu sync.RWMutex

	// Command counters, bumped by the bridge.
	commandsForwarded uint64
	commandErrors     uint64
	countersMu        sync.Mutex

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Locator provides the primary designation and outage flag.
	Locator *Locator

	// Scheduler provides sync counters.
	Scheduler *Scheduler

	// Stream provides stream counters. Nil for the poll generation.
	Stream *StreamClient

	// Gateway identifies the API generation in health messages.
	Gateway GatewayClient
}

// NewHealthReporter creates a new health reporter.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		locator:   cfg.Locator,
		scheduler: cfg.Scheduler,
		stream:    cfg.Stream,
		gateway:   cfg.Gateway,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
// Must be called after creation. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		// Publish final stopping status (best-effort, ignore errors)
		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		h.publishStatus(HealthStopping, "")
	})
}

// SetDeviceCount updates the tracked device count.
func (h *HealthReporter) SetDeviceCount(count int) {
	h.deviceCountMu.Lock()
	h.deviceCount = count
	h.deviceCountMu.Unlock()
}

// NoteCommand records a forwarded command for the statistics block.
func (h *HealthReporter) NoteCommand(ok bool) {
	h.countersMu.Lock()
	h.commandsForwarded++
	if !ok {
		h.commandErrors++
	}
	h.countersMu.Unlock()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
// Called during bridge initialization.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
// Useful for forcing an update after a significant event.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// GetLWTPayload returns the Last Will and Testament message payload.
// This should be set as the MQTT will message during connection.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	msg := NewLWTMessage(h.bridgeID)
	return json.Marshal(msg)
}

// GetLWTTopic returns the topic for the Last Will and Testament.
func (h *HealthReporter) GetLWTTopic() string {
	return HealthTopic()
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Publish initial status
	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	if h.locator != nil {
		if h.locator.Outage() {
			return HealthDegraded, "no gateway candidate reachable"
		}
		if _, err := h.locator.Primary(); err != nil {
			return HealthDegraded, "no primary gateway designated"
		}
	}

	return HealthHealthy, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil // No publisher configured
	}

	h.deviceCountMu.RLock()
	deviceCount := h.deviceCount
	h.deviceCountMu.RUnlock()

	msg := NewHealthMessage(h.bridgeID, h.version, status,
		h.gatewayStatus(), h.statistics(), deviceCount, h.startTime)
	if reason != "" {
		msg.Reason = reason
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Publish (QoS 1, retained)
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

// gatewayStatus builds the primary gateway block.
func (h *HealthReporter) gatewayStatus() *GatewayStatus {
	if h.locator == nil {
		return nil
	}

	gs := &GatewayStatus{Status: "connected"}
	if h.gateway != nil {
		gs.Generation = h.gateway.Generation()
	}
	if addr, err := h.locator.Primary(); err == nil {
		gs.Address = addr
	}
	if h.locator.Outage() || gs.Address == "" {
		gs.Status = "outage"
	}
	return gs
}

// statistics assembles the operational metrics block.
func (h *HealthReporter) statistics() BridgeStatistics {
	var stats BridgeStatistics

	h.countersMu.Lock()
	stats.CommandsForwarded = h.commandsForwarded
	stats.Errors = h.commandErrors
	h.countersMu.Unlock()

	if h.scheduler != nil {
		stats.FullSyncs = h.scheduler.Stats().FullSyncs
	}
	if h.stream != nil {
		ss := h.stream.Stats()
		stats.EventsReceived = ss.EventsReceived
		stats.EventsDropped = ss.Dropped
		stats.Errors += ss.Malformed
	}
	return stats
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
