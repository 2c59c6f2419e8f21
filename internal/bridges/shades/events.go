package shades

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-shades/internal/device"
)

// EventKind classifies an item from the push gateway's event stream.
type EventKind string

// Stream event kinds the bridge acts on or observes.
const (
	// EventHomeUpdated signals that the gateway's home document changed.
	// Observability only; the next full sync picks up the change.
	EventHomeUpdated EventKind = "home"

	// EventSceneActivated flags a scene active.
	EventSceneActivated EventKind = "scene-activated"

	// EventSceneDeactivated clears a scene's active flag.
	EventSceneDeactivated EventKind = "scene-deactivated"

	// EventSceneAdded announces a new scene; raises a rediscovery request.
	EventSceneAdded EventKind = "scene-add"

	// EventShadeOnline is a per-shade keep-alive. It advances the stream
	// heartbeat and is otherwise not acted upon.
	EventShadeOnline EventKind = "shade-online"

	// EventShadeOffline marks a shade unreachable on the gateway radio.
	// Observability only.
	EventShadeOffline EventKind = "shade-offline"

	// EventMotionStarted sets a shade's motion flag, optionally carrying
	// the movement's target positions.
	EventMotionStarted EventKind = "motion-started"

	// EventMotionStopped clears the motion flag, optionally carrying the
	// settled current positions.
	EventMotionStopped EventKind = "motion-stopped"

	// EventBatteryAlert carries a fresh battery reading.
	EventBatteryAlert EventKind = "battery-alert"
)

// keepAliveLine is the literal handshake/keep-alive line the push gateway
// writes on the event stream. It is not a JSON envelope.
const keepAliveLine = "100HELO"

// Event is one classified item from the event stream.
// Immutable once classified.
type Event struct {
	// Kind is the classified event kind.
	Kind EventKind

	// TargetID is the shade or scene the event refers to ("" for
	// home-level events).
	TargetID string

	// Positions carries target positions (motion-started) or current
	// positions (motion-stopped) when the envelope includes them.
	Positions *Positions

	// Battery carries the decoded battery level for battery-alert events.
	Battery *device.BatteryLevel

	// ReceivedAt is when the line was read off the stream. Events that
	// sit unacted in the buffer too long are evicted, not applied.
	ReceivedAt time.Time
}

// eventEnvelope is the wire form of a stream event line.
type eventEnvelope struct {
	Evt              string         `json:"evt"`
	ID               int            `json:"id"`
	CurrentPositions *pushPositions `json:"currentPositions"`
	TargetPositions  *pushPositions `json:"targetPositions"`
	BatteryStatus    *int           `json:"batteryStatus"`
}

// parseEventLine classifies one stream line into an Event.
// Returns ErrUnknownEventKind for recognisably shaped envelopes of an
// unknown kind, ErrMalformedEvent for anything unparseable. The caller is
// expected to have handled the keep-alive line already.
func parseEventLine(line []byte, now time.Time) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if env.Evt == "" {
		return Event{}, fmt.Errorf("%w: missing evt field", ErrMalformedEvent)
	}

	ev := Event{ReceivedAt: now}
	if env.ID != 0 {
		ev.TargetID = strconv.Itoa(env.ID)
	}

	switch env.Evt {
	case "home", "homedoc-updated":
		ev.Kind = EventHomeUpdated
	case string(EventSceneActivated):
		ev.Kind = EventSceneActivated
	case string(EventSceneDeactivated):
		ev.Kind = EventSceneDeactivated
	case string(EventSceneAdded):
		ev.Kind = EventSceneAdded
	case string(EventShadeOnline):
		ev.Kind = EventShadeOnline
	case string(EventShadeOffline):
		ev.Kind = EventShadeOffline
	case string(EventMotionStarted):
		ev.Kind = EventMotionStarted
		if env.TargetPositions != nil {
			pos := env.TargetPositions.toModel()
			ev.Positions = &pos
		}
	case string(EventMotionStopped):
		ev.Kind = EventMotionStopped
		if env.CurrentPositions != nil {
			pos := env.CurrentPositions.toModel()
			ev.Positions = &pos
		}
	case string(EventBatteryAlert):
		ev.Kind = EventBatteryAlert
		if env.BatteryStatus != nil {
			level := device.BatteryFromCode(*env.BatteryStatus)
			ev.Battery = &level
		}
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventKind, env.Evt)
	}

	return ev, nil
}
