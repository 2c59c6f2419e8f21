package shades

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// fullSyncFloor is the hard minimum between full synchronisation
// executions, independent of the configured long cycle. A long tick or
// rediscovery request arriving before the floor elapses is skipped and
// counted, with no state effect.
const fullSyncFloor = 5 * time.Second

// SchedulerStats is a point-in-time snapshot of scheduler counters.
type SchedulerStats struct {
	FullSyncs        uint64
	FloorSkips       uint64
	Passes           uint64
	EventsApplied    uint64
	ForcedReconnects uint64
}

// SchedulerOptions holds the collaborators and cadences for a Scheduler.
type SchedulerOptions struct {
	// Locator owns the primary designation.
	Locator *Locator

	// Gateway is the generation-specific client used for snapshots.
	Gateway GatewayClient

	// Engine applies snapshots and events to the registry.
	Engine *Reconciler

	// Stream is the event stream client. Nil for the poll generation,
	// which has no push channel; its short cycle is a no-op.
	Stream *StreamClient

	// LongCycle is the full synchronisation interval.
	LongCycle time.Duration

	// ShortCycle is the event drain interval.
	ShortCycle time.Duration

	// Heartbeat is the stream silence threshold. When no stream traffic
	// (keep-alives included) arrives for this long, the scheduler
	// commands one guarded stream reconnect.
	Heartbeat time.Duration

	// Logger is optional.
	Logger Logger
}

// Scheduler drives the dual-cadence synchronisation loop. One goroutine
// owns both timers and all reconciliation: long ticks run full syncs,
// short ticks drain the stream buffer and police the heartbeat deadline.
// Rediscovery requests from any goroutine (MQTT admin, cron, scene-add
// events) set a pending flag the next full sync consumes.
//
// Sync state (last full sync time, current primary) resets when the
// primary gateway changes.
type Scheduler struct {
	locator *Locator
	gateway GatewayClient
	engine  *Reconciler
	stream  *StreamClient

	longCycle  time.Duration
	shortCycle time.Duration
	heartbeat  time.Duration

	rediscoverPending atomic.Bool

	// Loop-local sync state; touched only by the run goroutine.
	lastFull       time.Time
	currentPrimary string

	fullSyncs        atomic.Uint64
	floorSkips       atomic.Uint64
	passes           atomic.Uint64
	eventsApplied    atomic.Uint64
	forcedReconnects atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger Logger
}

// NewScheduler creates a scheduler. Call Start to begin the loop.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Locator == nil {
		return nil, fmt.Errorf("locator is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if opts.LongCycle <= 0 || opts.ShortCycle <= 0 {
		return nil, fmt.Errorf("cycle intervals must be positive")
	}
	if opts.ShortCycle >= opts.LongCycle {
		return nil, fmt.Errorf("short cycle must be shorter than long cycle")
	}

	return &Scheduler{
		locator:    opts.Locator,
		gateway:    opts.Gateway,
		engine:     opts.Engine,
		stream:     opts.Stream,
		longCycle:  opts.LongCycle,
		shortCycle: opts.ShortCycle,
		heartbeat:  opts.Heartbeat,
		done:       make(chan struct{}),
		logger:     opts.Logger,
	}, nil
}

// Start launches the synchronisation loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop shuts the loop down and waits for it to exit. An in-flight fetch
// finishes or fails on its own timeout; its pass is applied atomically
// or not at all.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// RequestRediscovery flags the next full sync to run in rediscovery
// mode (tracked identifiers absent from the snapshot are removed).
// Safe to call from any goroutine.
func (s *Scheduler) RequestRediscovery() {
	if !s.rediscoverPending.Swap(true) {
		s.logInfo("rediscovery requested")
	}
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		FullSyncs:        s.fullSyncs.Load(),
		FloorSkips:       s.floorSkips.Load(),
		Passes:           s.passes.Load(),
		EventsApplied:    s.eventsApplied.Load(),
		ForcedReconnects: s.forcedReconnects.Load(),
	}
}

// run is the cooperative loop over both tickers.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	longTicker := time.NewTicker(s.longCycle)
	defer longTicker.Stop()
	shortTicker := time.NewTicker(s.shortCycle)
	defer shortTicker.Stop()

	// Initial full sync so a restarted bridge converges without waiting
	// a whole long cycle.
	s.runFullSync(ctx)

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-longTicker.C:
			s.runFullSync(ctx)
		case <-shortTicker.C:
			s.runShortCycle(ctx)
		}
	}
}

// runFullSync executes one long-cycle synchronisation: election if
// needed, snapshot fetch, one reconciliation pass over snapshot plus any
// drained events. Fetch failure triggers re-election and a retry on the
// next cycle.
func (s *Scheduler) runFullSync(ctx context.Context) {
	mode := SyncRefresh
	if s.rediscoverPending.Load() {
		mode = SyncRediscovery
	}

	if !s.lastFull.IsZero() && time.Since(s.lastFull) < fullSyncFloor {
		s.floorSkips.Add(1)
		s.logWarn("full sync skipped, floor not elapsed",
			"since_last", time.Since(s.lastFull).String(),
			"floor", fullSyncFloor.String())
		// A pending rediscovery flag stays set for the next cycle.
		return
	}

	// Rediscovery re-runs the election first; otherwise reuse the
	// standing designation and elect only when there is none.
	primary, err := s.locator.Primary()
	if err != nil || mode == SyncRediscovery {
		primary, err = s.locator.Elect(ctx)
		if err != nil {
			s.logWarn("full sync deferred, election failed", "error", err)
			if primary == "" {
				return
			}
			// Stale primary kept in place: try it anyway.
		}
	}

	if primary != s.currentPrimary {
		if s.currentPrimary != "" {
			s.logInfo("primary gateway changed, resetting sync state",
				"previous", s.currentPrimary, "current", primary)
		}
		s.currentPrimary = primary
		s.lastFull = time.Time{}
	}

	start := time.Now()
	snap, err := s.gateway.FetchSnapshot(ctx, primary)
	if err != nil {
		if errors.Is(err, ErrNotPrimary) {
			s.logInfo("gateway lost primary role, re-electing", "address", primary)
		} else {
			s.logWarn("snapshot fetch failed", "address", primary, "error", err)
		}
		if _, eerr := s.locator.Elect(ctx); eerr != nil {
			s.logWarn("re-election failed", "error", eerr)
		}
		return
	}

	// The request is consumed only once a snapshot actually arrived.
	if mode == SyncRediscovery {
		s.rediscoverPending.Store(false)
	}

	events := s.drainStream()
	res := s.engine.RunPass(ctx, snap, events, mode)

	s.lastFull = time.Now()
	s.fullSyncs.Add(1)
	s.passes.Add(1)
	s.eventsApplied.Add(uint64(res.EventsApplied))

	s.logInfo("full sync complete",
		"mode", string(mode),
		"shades", res.Shades,
		"scenes", res.Scenes,
		"changed", res.Changed,
		"events", res.EventsApplied,
		"duration", time.Since(start).String())
}

// runShortCycle drains buffered stream events into a pass and checks the
// heartbeat deadline. No-op for the poll generation.
func (s *Scheduler) runShortCycle(ctx context.Context) {
	if s.stream == nil {
		return
	}

	if events := s.drainStream(); len(events) > 0 {
		res := s.engine.RunPass(ctx, nil, events, SyncEvents)
		s.passes.Add(1)
		s.eventsApplied.Add(uint64(res.EventsApplied))
	}

	if s.heartbeat <= 0 {
		return
	}
	last := s.stream.LastActivity()
	if last.IsZero() {
		// No traffic yet; the stream's own backoff handles connecting.
		return
	}
	if time.Since(last) > s.heartbeat {
		// The CAS guard inside Reconnect absorbs repeated ticks while
		// the reconnect is in flight.
		if s.stream.Reconnect() {
			s.forcedReconnects.Add(1)
			s.logWarn("stream heartbeat missed, forcing reconnect",
				"silence", time.Since(last).String(),
				"deadline", s.heartbeat.String())
		}
	}
}

// drainStream empties the event buffer, bounded by its capacity.
func (s *Scheduler) drainStream() []Event {
	if s.stream == nil {
		return nil
	}
	return s.stream.Drain(eventBufferSize)
}

func (s *Scheduler) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Scheduler) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
