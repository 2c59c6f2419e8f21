package device

import "sync"

// CommandKind identifies a shade or scene command.
type CommandKind string

// Command kinds accepted at the host boundary and forwarded to the gateway.
const (
	CommandOpen          CommandKind = "open"
	CommandClose         CommandKind = "close"
	CommandStop          CommandKind = "stop"
	CommandJog           CommandKind = "jog"
	CommandTiltOpen      CommandKind = "tilt_open"
	CommandTiltClose     CommandKind = "tilt_close"
	CommandSetPosition   CommandKind = "set_position"
	CommandActivateScene CommandKind = "activate_scene"
)

// AllCommandKinds returns every command kind the bridge understands.
func AllCommandKinds() []CommandKind {
	return []CommandKind{
		CommandOpen,
		CommandClose,
		CommandStop,
		CommandJog,
		CommandTiltOpen,
		CommandTiltClose,
		CommandSetPosition,
		CommandActivateScene,
	}
}

// Capability describes which of the primary/secondary/tilt dimensions are
// physically meaningful for a shade, and which commands it accepts. It is
// the single source of truth consulted by the Registry (field stripping),
// the reconciliation engine (snapshot field selection) and the bridge
// (command validation and exposed schema). Variation must never be
// re-derived from the code at a call site.
type Capability struct {
	// Code is the gateway-reported capability code.
	Code int

	// Name is a short human-readable variant name for logs and discovery.
	Name string

	// Field presence. A false field is never written to a ShadeState.
	HasPrimary   bool
	HasSecondary bool
	HasTilt      bool

	// TiltLimited marks 90-degree pivot variants. Their usable tilt range
	// stops just short of the midpoint; command targets of 50 or more are
	// clamped to 49.
	TiltLimited bool

	// Commands is the full set of meaningful commands for this variant.
	Commands []CommandKind
}

// SupportsCommand reports whether the capability accepts the given command.
func (c Capability) SupportsCommand(kind CommandKind) bool {
	for _, k := range c.Commands {
		if k == kind {
			return true
		}
	}
	return false
}

// ClampTilt bounds a tilt target to the capability's usable range.
// Values are clamped to 0–100 for all tilt variants, and to at most 49 for
// 90-degree pivots.
func (c Capability) ClampTilt(pct int) int {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if c.TiltLimited && pct >= tiltMidpoint {
		pct = tiltMidpoint - 1
	}
	return pct
}

// tiltMidpoint is the flat-slat position on the 0–100 tilt scale. Slats on
// a 90-degree pivot cannot travel past it.
const tiltMidpoint = 50

// Base command sets shared by the table below.
var (
	liftCommands = []CommandKind{
		CommandOpen, CommandClose, CommandStop, CommandJog, CommandSetPosition,
	}
	liftTiltCommands = []CommandKind{
		CommandOpen, CommandClose, CommandStop, CommandJog,
		CommandTiltOpen, CommandTiltClose, CommandSetPosition,
	}
	tiltOnlyCommands = []CommandKind{
		CommandTiltOpen, CommandTiltClose, CommandStop, CommandJog, CommandSetPosition,
	}
)

// capabilityTable maps every known capability code to its variant.
// Codes and field sets follow the gateway vendor's published numbering.
var capabilityTable = map[int]Capability{
	0: {Code: 0, Name: "bottom-up", HasPrimary: true, Commands: liftCommands},
	1: {Code: 1, Name: "bottom-up-tilt-90", HasPrimary: true, HasTilt: true, TiltLimited: true, Commands: liftTiltCommands},
	2: {Code: 2, Name: "bottom-up-tilt-180", HasPrimary: true, HasTilt: true, Commands: liftTiltCommands},
	3: {Code: 3, Name: "vertical", HasPrimary: true, Commands: liftCommands},
	4: {Code: 4, Name: "vertical-tilt-180", HasPrimary: true, HasTilt: true, Commands: liftTiltCommands},
	5: {Code: 5, Name: "tilt-only-180", HasTilt: true, Commands: tiltOnlyCommands},
	6: {Code: 6, Name: "top-down", HasSecondary: true, Commands: liftCommands},
	7: {Code: 7, Name: "top-down-bottom-up", HasPrimary: true, HasSecondary: true, Commands: liftCommands},
	8: {Code: 8, Name: "dual-overlapped", HasPrimary: true, HasSecondary: true, Commands: liftCommands},
	9: {Code: 9, Name: "dual-overlapped-tilt-90", HasPrimary: true, HasSecondary: true, HasTilt: true, TiltLimited: true, Commands: liftTiltCommands},
	10: {Code: 10, Name: "dual-overlapped-tilt-180", HasPrimary: true, HasSecondary: true, HasTilt: true, Commands: liftTiltCommands},
}

// Classify maps a capability code to its variant. Unknown codes return a
// safe default exposing only the primary position and the basic lift
// command set; callers that care about classification gaps should use a
// Classifier, which logs each unknown code once.
func Classify(code int) Capability {
	if capability, ok := capabilityTable[code]; ok {
		return capability
	}
	return Capability{
		Code:       code,
		Name:       "unknown",
		HasPrimary: true,
		Commands:   liftCommands,
	}
}

// KnownCapabilityCodes returns the capability codes in the table, for
// discovery payloads and tests.
func KnownCapabilityCodes() []int {
	codes := make([]int, 0, len(capabilityTable))
	for code := range capabilityTable {
		codes = append(codes, code)
	}
	return codes
}

// Classifier wraps Classify with once-per-code gap logging. A single
// instance is shared by the reconciliation engine so an installation full
// of an unrecognised shade model produces one log line, not one per sync.
//
// Thread Safety: safe for concurrent use.
type Classifier struct {
	logger Logger

	seenMu sync.Mutex
	seen   map[int]bool
}

// NewClassifier creates a classifier. A nil logger disables gap logging.
func NewClassifier(logger Logger) *Classifier {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Classifier{
		logger: logger,
		seen:   make(map[int]bool),
	}
}

// Classify maps a capability code to its variant, logging the first
// occurrence of each unknown code.
func (c *Classifier) Classify(code int) Capability {
	capability := Classify(code)
	if capability.Name != "unknown" {
		return capability
	}

	c.seenMu.Lock()
	first := !c.seen[code]
	c.seen[code] = true
	c.seenMu.Unlock()

	if first {
		c.logger.Warn("unknown shade capability code, using safe default",
			"code", code,
		)
	}
	return capability
}
