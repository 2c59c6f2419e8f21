package shades

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-shades/internal/device"
)

// SyncMode selects how a reconciliation pass treats the snapshot.
type SyncMode string

// Pass modes.
const (
	// SyncRefresh updates tracked entities and never deletes.
	SyncRefresh SyncMode = "refresh"

	// SyncRediscovery additionally removes tracked identifiers absent
	// from the snapshot.
	SyncRediscovery SyncMode = "rediscovery"

	// SyncEvents is an event-only pass (the scheduler's short cycle).
	SyncEvents SyncMode = "events"
)

// staleEventAge is how long a buffered event may sit unacted before it
// is evicted instead of applied.
const staleEventAge = 2 * time.Minute

// PassResult summarises one reconciliation pass.
type PassResult struct {
	// Shades and Scenes are the entity counts the snapshot carried.
	Shades int
	Scenes int

	// Changed counts registry mutations that altered observable state.
	Changed int

	// EventsApplied counts processed (non-evicted) events.
	EventsApplied int

	// Evicted counts stale events discarded unapplied.
	Evicted int
}

// Notifier receives change notifications from reconciliation passes.
// The bridge implements it to publish MQTT state and write telemetry.
// Calls arrive on the scheduler goroutine and must not block.
type Notifier interface {
	ShadeChanged(shade device.ShadeState)
	SceneChanged(scene device.SceneState)
	ShadeRemoved(id string)
	SceneRemoved(id string)
	PassCompleted(mode SyncMode, result PassResult, duration time.Duration)
}

// noopNotifier is used until a notifier is wired.
type noopNotifier struct{}

func (noopNotifier) ShadeChanged(device.ShadeState)                {}
func (noopNotifier) SceneChanged(device.SceneState)                {}
func (noopNotifier) ShadeRemoved(string)                           {}
func (noopNotifier) SceneRemoved(string)                           {}
func (noopNotifier) PassCompleted(SyncMode, PassResult, time.Duration) {}

// Reconciler applies snapshots and events to the device registry. It is
// the registry's sole mutator and runs exclusively on the scheduler
// goroutine; a pass touches the registry only with fully parsed input
// (malformed items were discarded at the client parse boundary), so an
// abandoned fetch never leaves a half-applied pass.
type Reconciler struct {
	registry   *device.Registry
	classifier *device.Classifier
	notifier   Notifier
	logger     Logger

	// onRediscoverNeeded raises a rediscovery request with the
	// scheduler (set by the bridge wiring). May be nil.
	onRediscoverNeeded func()
}

// NewReconciler creates a reconciler over the registry.
func NewReconciler(registry *device.Registry, classifier *device.Classifier, logger Logger) *Reconciler {
	return &Reconciler{
		registry:   registry,
		classifier: classifier,
		notifier:   noopNotifier{},
		logger:     logger,
	}
}

// SetNotifier wires change notifications. Call before the scheduler starts.
func (r *Reconciler) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	r.notifier = n
}

// SetRediscoveryRequest wires the scene-add rediscovery trigger.
// Call before the scheduler starts.
func (r *Reconciler) SetRediscoveryRequest(fn func()) {
	r.onRediscoverNeeded = fn
}

// RunPass applies an optional snapshot and the drained events,
// snapshot-first. All applications are idempotent: re-running a pass
// with the same input changes nothing.
func (r *Reconciler) RunPass(ctx context.Context, snap *Snapshot, events []Event, mode SyncMode) PassResult {
	start := time.Now()
	var res PassResult

	if snap != nil {
		r.applySnapshot(ctx, snap, mode, &res)
	}
	r.applyEvents(ctx, events, &res)

	r.notifier.PassCompleted(mode, res, time.Since(start))
	return res
}

// NoteSceneActivation optimistically flags a scene active. Used by the
// command path for the poll generation, whose gateway cannot report
// activation; the next full sync's explicit inactive flag clears it.
func (r *Reconciler) NoteSceneActivation(ctx context.Context, sceneID string) {
	changed, err := r.registry.SetSceneActive(ctx, sceneID, true)
	if err != nil {
		r.logDebug("optimistic scene activation skipped",
			"scene", sceneID, "error", err)
		return
	}
	if changed {
		r.notifyScene(sceneID)
	}
}

// applySnapshot replaces the fields the snapshot actually carries.
// Fields the wire cannot express (motion; scene activation on the push
// generation) are preserved from the tracked state.
func (r *Reconciler) applySnapshot(ctx context.Context, snap *Snapshot, mode SyncMode, res *PassResult) {
	seenShades := make(map[string]bool, len(snap.Shades))
	for _, rec := range snap.Shades {
		seenShades[rec.ID] = true
		res.Shades++

		// Classification gap logging (once per unknown code).
		r.classifier.Classify(rec.Capability)

		motion := false
		if existing, err := r.registry.GetShade(rec.ID); err == nil {
			motion = existing.Motion
		}

		state := &device.ShadeState{
			ID:         rec.ID,
			Name:       fallbackName("Shade", rec.Name, rec.ID),
			RoomID:     rec.RoomID,
			Capability: rec.Capability,
			Primary:    rec.Positions.Primary,
			Secondary:  rec.Positions.Secondary,
			Tilt:       rec.Positions.Tilt,
			Battery:    rec.Battery,
			Motion:     motion,
		}
		changed, err := r.registry.UpsertShade(ctx, state)
		if err != nil {
			r.logWarn("shade snapshot rejected", "id", rec.ID, "error", err)
			continue
		}
		if changed {
			res.Changed++
			r.notifyShade(rec.ID)
		}
	}

	seenScenes := make(map[string]bool, len(snap.Scenes))
	for _, rec := range snap.Scenes {
		seenScenes[rec.ID] = true
		res.Scenes++

		active := false
		if rec.Active != nil {
			active = *rec.Active
		} else if existing, err := r.registry.GetScene(rec.ID); err == nil {
			active = existing.Active
		}

		state := &device.SceneState{
			ID:     rec.ID,
			Name:   fallbackName("Scene", rec.Name, rec.ID),
			RoomID: rec.RoomID,
			Active: active,
		}
		changed, err := r.registry.UpsertScene(ctx, state)
		if err != nil {
			r.logWarn("scene snapshot rejected", "id", rec.ID, "error", err)
			continue
		}
		if changed {
			res.Changed++
			r.notifyScene(rec.ID)
		}
	}

	if mode != SyncRediscovery {
		return
	}

	// Rediscovery removes tracked identifiers the gateway no longer
	// reports, registry and persistence both.
	for _, s := range r.registry.ListShades() {
		if seenShades[s.ID] {
			continue
		}
		if err := r.registry.RemoveShade(ctx, s.ID); err != nil {
			r.logWarn("shade removal failed", "id", s.ID, "error", err)
			continue
		}
		res.Changed++
		r.notifier.ShadeRemoved(s.ID)
	}
	for _, s := range r.registry.ListScenes() {
		if seenScenes[s.ID] {
			continue
		}
		if err := r.registry.RemoveScene(ctx, s.ID); err != nil {
			r.logWarn("scene removal failed", "id", s.ID, "error", err)
			continue
		}
		res.Changed++
		r.notifier.SceneRemoved(s.ID)
	}
}

// fallbackName synthesises a display name for entities the gateway
// reports nameless, so a missing name never drops the record.
func fallbackName(kind, name, id string) string {
	if name == "" {
		return kind + " " + id
	}
	return name
}

// applyEvents applies drained events in arrival order, evicting any that
// sat buffered beyond the stale age.
func (r *Reconciler) applyEvents(ctx context.Context, events []Event, res *PassResult) {
	now := time.Now()
	for _, ev := range events {
		if now.Sub(ev.ReceivedAt) > staleEventAge {
			res.Evicted++
			r.logWarn("stale event evicted",
				"kind", string(ev.Kind),
				"target", ev.TargetID,
				"age", now.Sub(ev.ReceivedAt).String())
			continue
		}
		r.applyEvent(ctx, ev, res)
		res.EventsApplied++
	}
}

// applyEvent applies one event. Unknown target identifiers are logged
// and skipped; the next full sync will pick the entity up.
func (r *Reconciler) applyEvent(ctx context.Context, ev Event, res *PassResult) {
	switch ev.Kind {
	case EventHomeUpdated, EventShadeOnline, EventShadeOffline:
		// Observability only. shade-online already advanced the stream
		// heartbeat at the read loop.
		r.logDebug("stream event observed", "kind", string(ev.Kind), "target", ev.TargetID)

	case EventSceneActivated:
		r.setSceneActive(ctx, ev.TargetID, true, res)

	case EventSceneDeactivated:
		r.setSceneActive(ctx, ev.TargetID, false, res)

	case EventSceneAdded:
		r.logInfo("scene added on gateway, requesting rediscovery", "scene", ev.TargetID)
		if r.onRediscoverNeeded != nil {
			r.onRediscoverNeeded()
		}

	case EventMotionStarted:
		r.setMotion(ctx, ev, true, res)

	case EventMotionStopped:
		r.setMotion(ctx, ev, false, res)

	case EventBatteryAlert:
		r.setBattery(ctx, ev, res)
	}
}

// setSceneActive flips a scene's activation flag.
func (r *Reconciler) setSceneActive(ctx context.Context, id string, active bool, res *PassResult) {
	changed, err := r.registry.SetSceneActive(ctx, id, active)
	if err != nil {
		r.logDebug("scene event for untracked scene", "id", id, "error", err)
		return
	}
	if changed {
		res.Changed++
		r.notifyScene(id)
	}
}

// setMotion updates a shade's motion flag and, when the event carries
// positions (targets on start, settled values on stop), those too.
func (r *Reconciler) setMotion(ctx context.Context, ev Event, motion bool, res *PassResult) {
	shade, err := r.registry.GetShade(ev.TargetID)
	if err != nil {
		r.logDebug("motion event for untracked shade", "id", ev.TargetID, "error", err)
		return
	}

	shade.Motion = motion
	if ev.Positions != nil {
		if ev.Positions.Primary != nil {
			shade.Primary = ev.Positions.Primary
		}
		if ev.Positions.Secondary != nil {
			shade.Secondary = ev.Positions.Secondary
		}
		if ev.Positions.Tilt != nil {
			shade.Tilt = ev.Positions.Tilt
		}
	}

	changed, err := r.registry.UpsertShade(ctx, shade)
	if err != nil {
		r.logWarn("motion update rejected", "id", ev.TargetID, "error", err)
		return
	}
	if changed {
		res.Changed++
		r.notifyShade(ev.TargetID)
	}
}

// setBattery applies a battery-alert reading.
func (r *Reconciler) setBattery(ctx context.Context, ev Event, res *PassResult) {
	if ev.Battery == nil {
		return
	}
	shade, err := r.registry.GetShade(ev.TargetID)
	if err != nil {
		r.logDebug("battery event for untracked shade", "id", ev.TargetID, "error", err)
		return
	}

	shade.Battery = *ev.Battery
	changed, err := r.registry.UpsertShade(ctx, shade)
	if err != nil {
		r.logWarn("battery update rejected", "id", ev.TargetID, "error", err)
		return
	}
	if changed {
		res.Changed++
		r.notifyShade(ev.TargetID)
	}
}

// notifyShade sends the registry's stored view (capability-stripped) to
// the notifier.
func (r *Reconciler) notifyShade(id string) {
	shade, err := r.registry.GetShade(id)
	if err != nil {
		return
	}
	r.notifier.ShadeChanged(*shade)
}

func (r *Reconciler) notifyScene(id string) {
	scene, err := r.registry.GetScene(id)
	if err != nil {
		return
	}
	r.notifier.SceneChanged(*scene)
}

func (r *Reconciler) logDebug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *Reconciler) logInfo(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Reconciler) logWarn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
