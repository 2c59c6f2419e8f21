package device

import (
	"sync"
	"testing"
)

func TestClassify_KnownCodes(t *testing.T) {
	tests := []struct {
		code         int
		name         string
		hasPrimary   bool
		hasSecondary bool
		hasTilt      bool
		tiltLimited  bool
	}{
		{0, "bottom-up", true, false, false, false},
		{1, "bottom-up-tilt-90", true, false, true, true},
		{2, "bottom-up-tilt-180", true, false, true, false},
		{3, "vertical", true, false, false, false},
		{4, "vertical-tilt-180", true, false, true, false},
		{5, "tilt-only-180", false, false, true, false},
		{6, "top-down", false, true, false, false},
		{7, "top-down-bottom-up", true, true, false, false},
		{8, "dual-overlapped", true, true, false, false},
		{9, "dual-overlapped-tilt-90", true, true, true, true},
		{10, "dual-overlapped-tilt-180", true, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.code)
			if got.Name != tt.name {
				t.Errorf("Name = %q, want %q", got.Name, tt.name)
			}
			if got.HasPrimary != tt.hasPrimary {
				t.Errorf("HasPrimary = %v, want %v", got.HasPrimary, tt.hasPrimary)
			}
			if got.HasSecondary != tt.hasSecondary {
				t.Errorf("HasSecondary = %v, want %v", got.HasSecondary, tt.hasSecondary)
			}
			if got.HasTilt != tt.hasTilt {
				t.Errorf("HasTilt = %v, want %v", got.HasTilt, tt.hasTilt)
			}
			if got.TiltLimited != tt.tiltLimited {
				t.Errorf("TiltLimited = %v, want %v", got.TiltLimited, tt.tiltLimited)
			}
		})
	}
}

func TestClassify_UnknownCode(t *testing.T) {
	got := Classify(42)

	if got.Name != "unknown" {
		t.Errorf("Name = %q, want %q", got.Name, "unknown")
	}
	if !got.HasPrimary || got.HasSecondary || got.HasTilt {
		t.Errorf("unknown code fields = (%v, %v, %v), want primary only",
			got.HasPrimary, got.HasSecondary, got.HasTilt)
	}
	if !got.SupportsCommand(CommandOpen) || !got.SupportsCommand(CommandSetPosition) {
		t.Error("unknown code should support the basic lift command set")
	}
	if got.SupportsCommand(CommandTiltOpen) {
		t.Error("unknown code should not support tilt commands")
	}
}

func TestCapability_CommandSets(t *testing.T) {
	tests := []struct {
		code    int
		command CommandKind
		want    bool
	}{
		{0, CommandOpen, true},
		{0, CommandTiltOpen, false},
		{2, CommandTiltOpen, true},
		{2, CommandTiltClose, true},
		{5, CommandTiltOpen, true},
		{5, CommandOpen, false},
		{5, CommandClose, false},
		{5, CommandStop, true},
		{7, CommandSetPosition, true},
		{7, CommandTiltClose, false},
		{9, CommandTiltOpen, true},
		{10, CommandJog, true},
	}

	for _, tt := range tests {
		got := Classify(tt.code).SupportsCommand(tt.command)
		if got != tt.want {
			t.Errorf("Classify(%d).SupportsCommand(%q) = %v, want %v",
				tt.code, tt.command, got, tt.want)
		}
	}
}

func TestCapability_ClampTilt(t *testing.T) {
	limited := Classify(1)
	full := Classify(2)

	tests := []struct {
		name       string
		capability Capability
		in         int
		want       int
	}{
		{"limited below midpoint", limited, 30, 30},
		{"limited at midpoint", limited, 50, 49},
		{"limited above midpoint", limited, 100, 49},
		{"full range midpoint", full, 50, 50},
		{"full range max", full, 100, 100},
		{"negative clamps to zero", full, -5, 0},
		{"above max clamps", full, 150, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.capability.ClampTilt(tt.in); got != tt.want {
				t.Errorf("ClampTilt(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

// countingLogger records warn calls for log-once assertions.
type countingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *countingLogger) Debug(string, ...any) {}
func (l *countingLogger) Info(string, ...any)  {}
func (l *countingLogger) Error(string, ...any) {}
func (l *countingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func (l *countingLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warns
}

func TestClassifier_LogsUnknownOnce(t *testing.T) {
	logger := &countingLogger{}
	classifier := NewClassifier(logger)

	// Same unknown code repeatedly: one warning.
	for i := 0; i < 5; i++ {
		classifier.Classify(42)
	}
	if got := logger.warnCount(); got != 1 {
		t.Errorf("warn count after repeated unknown code = %d, want 1", got)
	}

	// A different unknown code gets its own warning.
	classifier.Classify(43)
	if got := logger.warnCount(); got != 2 {
		t.Errorf("warn count after second unknown code = %d, want 2", got)
	}

	// Known codes never warn.
	classifier.Classify(0)
	classifier.Classify(10)
	if got := logger.warnCount(); got != 2 {
		t.Errorf("warn count after known codes = %d, want 2", got)
	}
}

func TestClassifier_UnknownStillUsable(t *testing.T) {
	classifier := NewClassifier(nil)

	got := classifier.Classify(42)
	if !got.HasPrimary {
		t.Error("unknown code should expose the primary position")
	}
	if got.Code != 42 {
		t.Errorf("Code = %d, want 42", got.Code)
	}
}

func TestKnownCapabilityCodes(t *testing.T) {
	codes := KnownCapabilityCodes()
	if len(codes) != 11 {
		t.Fatalf("len(KnownCapabilityCodes()) = %d, want 11", len(codes))
	}

	seen := make(map[int]bool, len(codes))
	for _, code := range codes {
		seen[code] = true
	}
	for want := 0; want <= 10; want++ {
		if !seen[want] {
			t.Errorf("KnownCapabilityCodes() missing code %d", want)
		}
	}
}
