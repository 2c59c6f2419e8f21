package shades

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-shades/internal/device"
)

type schedulerFixture struct {
	scheduler *Scheduler
	gateway   *fakeGateway
	locator   *Locator
	registry  *device.Registry
	stream    *StreamClient
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()

	gw := newFakeGateway()
	gw.roles["gw-a"] = ProbePrimary
	gw.snapshot = &Snapshot{Shades: []ShadeRecord{
		{ID: "42", Name: "Kitchen", Positions: Positions{Primary: intPtr(0)}},
	}}

	loc := NewLocator(gw, []string{"gw-a"}, nil, nil)
	registry := newTestRegistry()
	engine := NewReconciler(registry, device.NewClassifier(nil), nil)
	stream := NewStreamClient(loc, time.Second, nil)

	sched, err := NewScheduler(SchedulerOptions{
		Locator:    loc,
		Gateway:    gw,
		Engine:     engine,
		Stream:     stream,
		LongCycle:  time.Hour,
		ShortCycle: time.Second,
		Heartbeat:  90 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	return &schedulerFixture{
		scheduler: sched,
		gateway:   gw,
		locator:   loc,
		registry:  registry,
		stream:    stream,
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	gw := newFakeGateway()
	loc := NewLocator(gw, []string{"a"}, nil, nil)
	engine := NewReconciler(newTestRegistry(), device.NewClassifier(nil), nil)

	tests := []struct {
		name string
		opts SchedulerOptions
	}{
		{"missing locator", SchedulerOptions{Gateway: gw, Engine: engine, LongCycle: time.Minute, ShortCycle: time.Second}},
		{"missing gateway", SchedulerOptions{Locator: loc, Engine: engine, LongCycle: time.Minute, ShortCycle: time.Second}},
		{"missing engine", SchedulerOptions{Locator: loc, Gateway: gw, LongCycle: time.Minute, ShortCycle: time.Second}},
		{"zero cycles", SchedulerOptions{Locator: loc, Gateway: gw, Engine: engine}},
		{"short not shorter than long", SchedulerOptions{Locator: loc, Gateway: gw, Engine: engine, LongCycle: time.Second, ShortCycle: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewScheduler(tt.opts); err == nil {
				t.Error("NewScheduler() error = nil, want validation failure")
			}
		})
	}
}

func TestScheduler_InitialFullSync(t *testing.T) {
	f := newSchedulerFixture(t)

	f.scheduler.Start(context.Background())
	defer f.scheduler.Stop()

	ok := waitFor(t, 3*time.Second, func() bool {
		return f.scheduler.Stats().FullSyncs == 1
	})
	if !ok {
		t.Fatalf("FullSyncs = %d, want 1", f.scheduler.Stats().FullSyncs)
	}

	if _, err := f.registry.GetShade("42"); err != nil {
		t.Errorf("initial sync did not populate the registry: %v", err)
	}
}

func TestScheduler_FullSyncFloor(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	f.scheduler.runFullSync(ctx)
	if got := f.scheduler.Stats().FullSyncs; got != 1 {
		t.Fatalf("FullSyncs = %d, want 1", got)
	}

	// A second trigger inside the floor is skipped and counted.
	f.scheduler.RequestRediscovery()
	f.scheduler.runFullSync(ctx)

	stats := f.scheduler.Stats()
	if stats.FullSyncs != 1 {
		t.Errorf("FullSyncs = %d, want 1", stats.FullSyncs)
	}
	if stats.FloorSkips != 1 {
		t.Errorf("FloorSkips = %d, want 1", stats.FloorSkips)
	}

	// The pending rediscovery request survives the skip.
	if !f.scheduler.rediscoverPending.Load() {
		t.Error("rediscovery request consumed by a skipped sync")
	}
}

func TestScheduler_RediscoveryConsumedAfterFetch(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	f.scheduler.RequestRediscovery()
	f.scheduler.runFullSync(ctx)

	if f.scheduler.rediscoverPending.Load() {
		t.Error("rediscovery request not consumed by a successful sync")
	}
}

func TestScheduler_RediscoveryRetainedOnFetchFailure(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	f.gateway.mu.Lock()
	f.gateway.snapshotErr = ErrGatewayUnreachable
	f.gateway.mu.Unlock()

	f.scheduler.RequestRediscovery()
	f.scheduler.runFullSync(ctx)

	stats := f.scheduler.Stats()
	if stats.FullSyncs != 0 {
		t.Errorf("FullSyncs = %d, want 0 after fetch failure", stats.FullSyncs)
	}
	if !f.scheduler.rediscoverPending.Load() {
		t.Error("rediscovery request lost on fetch failure")
	}
}

func TestScheduler_PrimaryChangeResetsSyncState(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	f.scheduler.runFullSync(ctx)
	if f.scheduler.currentPrimary != "gw-a" {
		t.Fatalf("currentPrimary = %q, want gw-a", f.scheduler.currentPrimary)
	}

	// The primary role moves to another gateway.
	f.gateway.mu.Lock()
	f.gateway.roles["gw-a"] = ProbeSecondary
	f.gateway.roles["gw-b"] = ProbePrimary
	f.gateway.mu.Unlock()
	f.locator.candidates = append(f.locator.candidates, candidate{address: "gw-b"})
	if _, err := f.locator.Elect(ctx); err != nil {
		t.Fatalf("Elect() error = %v", err)
	}

	// Outside the floor, the next sync adopts the new primary.
	f.scheduler.lastFull = time.Now().Add(-fullSyncFloor - time.Second)
	f.scheduler.runFullSync(ctx)

	if f.scheduler.currentPrimary != "gw-b" {
		t.Errorf("currentPrimary = %q, want gw-b", f.scheduler.currentPrimary)
	}
	if got := f.scheduler.Stats().FullSyncs; got != 2 {
		t.Errorf("FullSyncs = %d, want 2", got)
	}
}

func TestScheduler_ShortCycleDrainsEvents(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	// Seed the registry, then feed the stream buffer directly.
	f.scheduler.runFullSync(ctx)
	f.stream.buffer <- Event{Kind: EventMotionStarted, TargetID: "42", ReceivedAt: time.Now()}
	f.stream.lastActivity.Store(time.Now().UnixNano())

	f.scheduler.runShortCycle(ctx)

	stats := f.scheduler.Stats()
	if stats.EventsApplied < 1 {
		t.Errorf("EventsApplied = %d, want >= 1", stats.EventsApplied)
	}

	shade, err := f.registry.GetShade("42")
	if err != nil {
		t.Fatalf("GetShade() error = %v", err)
	}
	if !shade.Motion {
		t.Error("short cycle did not apply the motion event")
	}
}

func TestScheduler_HeartbeatForcesOneReconnect(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	// Last traffic far beyond the heartbeat deadline.
	f.stream.lastActivity.Store(time.Now().Add(-5 * time.Minute).UnixNano())

	f.scheduler.runShortCycle(ctx)
	if got := f.scheduler.Stats().ForcedReconnects; got != 1 {
		t.Fatalf("ForcedReconnects = %d, want 1", got)
	}

	// While that reconnect is still in flight, further ticks are absorbed
	// by the stream's guard.
	f.scheduler.runShortCycle(ctx)
	f.scheduler.runShortCycle(ctx)
	if got := f.scheduler.Stats().ForcedReconnects; got != 1 {
		t.Errorf("ForcedReconnects = %d, want still 1", got)
	}
}

func TestScheduler_HeartbeatIgnoredBeforeFirstTraffic(t *testing.T) {
	f := newSchedulerFixture(t)

	f.scheduler.runShortCycle(context.Background())
	if got := f.scheduler.Stats().ForcedReconnects; got != 0 {
		t.Errorf("ForcedReconnects = %d, want 0 with no stream traffic yet", got)
	}
}

func TestScheduler_PollGenerationShortCycleIsNoop(t *testing.T) {
	gw := newFakeGateway()
	gw.generation = GenerationPoll
	gw.roles["gw-a"] = ProbePrimary
	loc := NewLocator(gw, []string{"gw-a"}, nil, nil)
	engine := NewReconciler(newTestRegistry(), device.NewClassifier(nil), nil)

	sched, err := NewScheduler(SchedulerOptions{
		Locator:    loc,
		Gateway:    gw,
		Engine:     engine,
		Stream:     nil, // poll generation has no stream
		LongCycle:  time.Hour,
		ShortCycle: time.Second,
		Heartbeat:  time.Minute,
	})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	sched.runShortCycle(context.Background())
	if got := sched.Stats().Passes; got != 0 {
		t.Errorf("Passes = %d, want 0", got)
	}
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	f := newSchedulerFixture(t)
	f.scheduler.Start(context.Background())
	f.scheduler.Stop()
	f.scheduler.Stop()
}
