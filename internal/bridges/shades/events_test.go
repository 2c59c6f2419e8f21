package shades

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-shades/internal/device"
)

func TestParseEventLine(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		line       string
		wantKind   EventKind
		wantTarget string
	}{
		{
			name:     "home updated",
			line:     `{"evt":"home"}`,
			wantKind: EventHomeUpdated,
		},
		{
			name:     "homedoc updated alias",
			line:     `{"evt":"homedoc-updated"}`,
			wantKind: EventHomeUpdated,
		},
		{
			name:       "scene activated",
			line:       `{"evt":"scene-activated","id":7}`,
			wantKind:   EventSceneActivated,
			wantTarget: "7",
		},
		{
			name:       "scene deactivated",
			line:       `{"evt":"scene-deactivated","id":7}`,
			wantKind:   EventSceneDeactivated,
			wantTarget: "7",
		},
		{
			name:       "scene added",
			line:       `{"evt":"scene-add","id":9}`,
			wantKind:   EventSceneAdded,
			wantTarget: "9",
		},
		{
			name:       "shade online",
			line:       `{"evt":"shade-online","id":42}`,
			wantKind:   EventShadeOnline,
			wantTarget: "42",
		},
		{
			name:       "shade offline",
			line:       `{"evt":"shade-offline","id":42}`,
			wantKind:   EventShadeOffline,
			wantTarget: "42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := parseEventLine([]byte(tt.line), now)
			if err != nil {
				t.Fatalf("parseEventLine() error = %v", err)
			}
			if ev.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", ev.Kind, tt.wantKind)
			}
			if ev.TargetID != tt.wantTarget {
				t.Errorf("TargetID = %q, want %q", ev.TargetID, tt.wantTarget)
			}
			if !ev.ReceivedAt.Equal(now) {
				t.Errorf("ReceivedAt = %v, want %v", ev.ReceivedAt, now)
			}
		})
	}
}

func TestParseEventLine_MotionStartedCarriesTargets(t *testing.T) {
	line := `{"evt":"motion-started","id":42,"targetPositions":{"primary":0.40}}`

	ev, err := parseEventLine([]byte(line), time.Now())
	if err != nil {
		t.Fatalf("parseEventLine() error = %v", err)
	}
	if ev.Kind != EventMotionStarted {
		t.Fatalf("Kind = %q, want %q", ev.Kind, EventMotionStarted)
	}
	if ev.Positions == nil || ev.Positions.Primary == nil {
		t.Fatal("expected target primary position")
	}
	if *ev.Positions.Primary != 40 {
		t.Errorf("Primary = %d, want 40", *ev.Positions.Primary)
	}
}

func TestParseEventLine_MotionStoppedCarriesCurrent(t *testing.T) {
	line := `{"evt":"motion-stopped","id":42,"currentPositions":{"primary":1.0,"tilt":0.25}}`

	ev, err := parseEventLine([]byte(line), time.Now())
	if err != nil {
		t.Fatalf("parseEventLine() error = %v", err)
	}
	if ev.Kind != EventMotionStopped {
		t.Fatalf("Kind = %q, want %q", ev.Kind, EventMotionStopped)
	}
	if ev.Positions == nil {
		t.Fatal("expected settled positions")
	}
	if ev.Positions.Primary == nil || *ev.Positions.Primary != 100 {
		t.Errorf("Primary = %v, want 100", ev.Positions.Primary)
	}
	if ev.Positions.Tilt == nil || *ev.Positions.Tilt != 25 {
		t.Errorf("Tilt = %v, want 25", ev.Positions.Tilt)
	}
}

func TestParseEventLine_BatteryAlert(t *testing.T) {
	line := `{"evt":"battery-alert","id":3,"batteryStatus":1}`

	ev, err := parseEventLine([]byte(line), time.Now())
	if err != nil {
		t.Fatalf("parseEventLine() error = %v", err)
	}
	if ev.Kind != EventBatteryAlert {
		t.Fatalf("Kind = %q, want %q", ev.Kind, EventBatteryAlert)
	}
	if ev.Battery == nil || *ev.Battery != device.BatteryLow {
		t.Errorf("Battery = %v, want %q", ev.Battery, device.BatteryLow)
	}
}

func TestParseEventLine_UnknownKind(t *testing.T) {
	_, err := parseEventLine([]byte(`{"evt":"firmware-update","id":1}`), time.Now())
	if !errors.Is(err, ErrUnknownEventKind) {
		t.Errorf("error = %v, want ErrUnknownEventKind", err)
	}
}

func TestParseEventLine_Malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", "garbage"},
		{"keep-alive leaked through", keepAliveLine},
		{"missing evt", `{"id":42}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEventLine([]byte(tt.line), time.Now())
			if !errors.Is(err, ErrMalformedEvent) {
				t.Errorf("error = %v, want ErrMalformedEvent", err)
			}
		})
	}
}
