package device

import "time"

// ShadeState represents one physical covering tracked by the bridge.
// Position fields are pointers: nil means "not valid for this shade's
// capability", enforced by the Registry on every write. Populated values
// are on the model scale (0 = fully open, 100 = fully closed).
type ShadeState struct {
	// Identity (gateway-assigned, stable across syncs)
	ID     string `json:"id"`
	Name   string `json:"name"`
	RoomID string `json:"room_id,omitempty"`

	// Capability is the gateway-reported capability code.
	// See Classify for the code → variant mapping.
	Capability int `json:"capability"`

	// Positions, percent closed (0–100)
	Primary   *int `json:"primary,omitempty"`
	Secondary *int `json:"secondary,omitempty"`
	Tilt      *int `json:"tilt,omitempty"`

	// Battery is the decoded battery status.
	Battery BatteryLevel `json:"battery"`

	// Motion is true between motion-started and motion-stopped events.
	// A missed motion-stopped (process restart mid-travel) leaves it set
	// until the next motion cycle; there is no timeout-based clearing.
	Motion bool `json:"motion"`

	// LastSeen is when this shade last appeared in a snapshot or event.
	LastSeen time.Time `json:"last_seen"`
}

// DeepCopy creates a complete independent copy of the ShadeState.
// Pointer position fields are cloned so modifications to the copy do not
// affect the original. This is essential for cache isolation.
func (s *ShadeState) DeepCopy() *ShadeState {
	if s == nil {
		return nil
	}

	cpy := *s // Shallow copy of value fields

	cpy.Primary = copyIntPtr(s.Primary)
	cpy.Secondary = copyIntPtr(s.Secondary)
	cpy.Tilt = copyIntPtr(s.Tilt)

	return &cpy
}

// Equal reports whether two shade states carry the same observable state.
// LastSeen is deliberately excluded: it advances on every sync and would
// make every pass look like a change.
func (s *ShadeState) Equal(o *ShadeState) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.ID == o.ID &&
		s.Name == o.Name &&
		s.RoomID == o.RoomID &&
		s.Capability == o.Capability &&
		intPtrEqual(s.Primary, o.Primary) &&
		intPtrEqual(s.Secondary, o.Secondary) &&
		intPtrEqual(s.Tilt, o.Tilt) &&
		s.Battery == o.Battery &&
		s.Motion == o.Motion
}

// SceneState represents a gateway-stored scene and its activation flag.
type SceneState struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	RoomID string `json:"room_id,omitempty"`

	// Active reflects the most recent event or snapshot, whichever applied
	// last. For poll-only gateways it is asserted optimistically by the
	// command path and cleared by the next full sync.
	Active bool `json:"active"`

	// LastSeen is when this scene last appeared in a snapshot or event.
	LastSeen time.Time `json:"last_seen"`
}

// DeepCopy creates an independent copy of the SceneState.
func (s *SceneState) DeepCopy() *SceneState {
	if s == nil {
		return nil
	}
	cpy := *s
	return &cpy
}

// Equal reports whether two scene states carry the same observable state.
// LastSeen is excluded for the same reason as ShadeState.Equal.
func (s *SceneState) Equal(o *SceneState) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.ID == o.ID &&
		s.Name == o.Name &&
		s.RoomID == o.RoomID &&
		s.Active == o.Active
}

// BatteryLevel represents a shade's reported battery status.
type BatteryLevel string

// Battery levels, decoded from the gateway's 0–4 wire code.
const (
	BatteryNone   BatteryLevel = "none"
	BatteryLow    BatteryLevel = "low"
	BatteryMedium BatteryLevel = "medium"
	BatteryHigh   BatteryLevel = "high"
	BatteryWired  BatteryLevel = "wired"
)

// AllBatteryLevels returns all valid battery levels.
func AllBatteryLevels() []BatteryLevel {
	return []BatteryLevel{
		BatteryNone,
		BatteryLow,
		BatteryMedium,
		BatteryHigh,
		BatteryWired,
	}
}

// IsValid checks if the battery level is a known value.
func (b BatteryLevel) IsValid() bool {
	for _, level := range AllBatteryLevels() {
		if b == level {
			return true
		}
	}
	return false
}

// BatteryFromCode decodes the gateway's integer battery status.
// Unknown codes map to BatteryNone.
func BatteryFromCode(code int) BatteryLevel {
	switch code {
	case 1:
		return BatteryLow
	case 2:
		return BatteryMedium
	case 3:
		return BatteryHigh
	case 4:
		return BatteryWired
	default:
		return BatteryNone
	}
}

// copyIntPtr clones an optional position value.
func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// intPtrEqual compares two optional position values.
func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
