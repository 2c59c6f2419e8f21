package shades

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Stream tuning constants.
const (
	// streamPath is the push generation's event endpoint.
	streamPath = "/home/events"

	// eventBufferSize bounds the producer/consumer buffer between the
	// stream read loop and the scheduler's short tick.
	eventBufferSize = 256

	// maxLineSize bounds one stream line.
	maxLineSize = 1024 * 1024

	// initialStreamBackoff is the first reconnect delay. Each failed
	// attempt grows it by backoffMultiplier, capped at the short-cycle
	// interval.
	initialStreamBackoff = time.Second
	backoffMultiplier    = 1.5
)

// StreamStats is a point-in-time snapshot of stream counters.
type StreamStats struct {
	EventsReceived uint64
	KeepAlives     uint64
	UnknownKinds   uint64
	Malformed      uint64
	Dropped        uint64
	Reconnects     uint64
}

// StreamClient maintains the long-lived event stream connection to the
// push generation's primary gateway. Classified events go into a single
// bounded buffer drained only by the scheduler's short tick; on overflow
// the newest event is dropped and counted. Every received line, the
// 100HELO keep-alive included, advances the last-activity timestamp the
// scheduler checks against the heartbeat deadline.
//
// Each reconnect re-queries the locator first, since a lost connection
// may indicate a primary change.
//
// Thread Safety: all methods are safe for concurrent use.
type StreamClient struct {
	locator    *Locator
	httpClient *http.Client // no overall timeout: the stream is endless
	maxBackoff time.Duration

	buffer chan Event

	lastActivity atomic.Int64 // unix nanos, 0 until first traffic

	// reconnecting guards forced reconnects: set by Reconnect, cleared
	// when a new connection is established. The CAS collapses concurrent
	// callers into one teardown.
	reconnecting atomic.Bool
	connMu       sync.Mutex
	connCancel   context.CancelFunc

	eventsReceived atomic.Uint64
	keepAlives     atomic.Uint64
	unknownKinds   atomic.Uint64
	malformed      atomic.Uint64
	dropped        atomic.Uint64
	reconnects     atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger Logger
}

// NewStreamClient creates a stream client. maxBackoff bounds the
// reconnect backoff; it is normally the configured short-cycle interval.
func NewStreamClient(locator *Locator, maxBackoff time.Duration, logger Logger) *StreamClient {
	if maxBackoff <= 0 {
		maxBackoff = initialStreamBackoff
	}
	return &StreamClient{
		locator:    locator,
		httpClient: &http.Client{},
		maxBackoff: maxBackoff,
		buffer:     make(chan Event, eventBufferSize),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Start launches the read loop. Call Stop to shut down.
func (s *StreamClient) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop closes the stream connection and waits for the read loop to exit.
// Safe to call multiple times.
func (s *StreamClient) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.connMu.Lock()
		if s.connCancel != nil {
			s.connCancel()
		}
		s.connMu.Unlock()
		s.wg.Wait()
	})
}

// Reconnect forces one stream reconnect, reporting whether this call
// initiated it. Calls while a reconnect is already in flight are
// absorbed by the guard, so a missed heartbeat deadline cannot start a
// reconnect storm.
func (s *StreamClient) Reconnect() bool {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return false
	}
	s.connMu.Lock()
	if s.connCancel != nil {
		s.connCancel()
	}
	s.connMu.Unlock()
	return true
}

// Drain removes up to max buffered events without blocking.
func (s *StreamClient) Drain(max int) []Event {
	var events []Event
	for len(events) < max {
		select {
		case ev := <-s.buffer:
			events = append(events, ev)
		default:
			return events
		}
	}
	return events
}

// LastActivity returns when the last stream line (keep-alives included)
// arrived. Zero before the first line.
func (s *StreamClient) LastActivity() time.Time {
	nanos := s.lastActivity.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Stats returns a snapshot of the stream counters.
func (s *StreamClient) Stats() StreamStats {
	return StreamStats{
		EventsReceived: s.eventsReceived.Load(),
		KeepAlives:     s.keepAlives.Load(),
		UnknownKinds:   s.unknownKinds.Load(),
		Malformed:      s.malformed.Load(),
		Dropped:        s.dropped.Load(),
		Reconnects:     s.reconnects.Load(),
	}
}

// run is the read loop: elect, connect, consume until disconnect, back
// off, repeat.
func (s *StreamClient) run(ctx context.Context) {
	defer s.wg.Done()

	backoff := initialStreamBackoff
	connectedBefore := false

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		// Re-query the locator before every attempt: a lost connection
		// may mean the primary role moved.
		addr, err := s.locator.Elect(ctx)
		if err != nil || addr == "" {
			s.logDebug("stream connect deferred, no primary", "error", err)
			if !s.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.maxBackoff)
			continue
		}

		connected, err := s.readStream(ctx, addr)
		if connected {
			if connectedBefore {
				s.reconnects.Add(1)
			}
			connectedBefore = true
			backoff = initialStreamBackoff
		}
		if err != nil && !isShutdown(ctx, s.done) {
			s.logWarn("event stream disconnected", "error", err)
		}

		if !s.sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, s.maxBackoff)
	}
}

// readStream holds one stream connection open and consumes lines until
// it breaks. Returns whether a connection was established.
func (s *StreamClient) readStream(ctx context.Context, addr string) (bool, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.connMu.Lock()
	s.connCancel = cancel
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		s.connCancel = nil
		s.connMu.Unlock()
	}()

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, baseURL(addr)+streamPath, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("%w: event stream returned %d", ErrGatewayUnreachable, resp.StatusCode)
	}

	// Connection is up: clear any forced-reconnect guard and mark
	// activity so the heartbeat clock starts from now.
	s.reconnecting.Store(false)
	s.lastActivity.Store(time.Now().UnixNano())
	s.logInfo("event stream connected", "address", addr)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// Every line advances the heartbeat, whatever its kind.
		now := time.Now()
		s.lastActivity.Store(now.UnixNano())

		if string(line) == keepAliveLine {
			s.keepAlives.Add(1)
			continue
		}

		ev, err := parseEventLine(line, now)
		if err != nil {
			switch {
			case errors.Is(err, ErrUnknownEventKind):
				s.unknownKinds.Add(1)
				s.logDebug("unrecognised event kind discarded", "error", err)
			default:
				s.malformed.Add(1)
				s.logWarn("malformed event discarded", "error", err)
			}
			continue
		}

		s.eventsReceived.Add(1)
		select {
		case s.buffer <- ev:
		default:
			s.dropped.Add(1)
			s.logWarn("event buffer full, dropping event",
				"kind", string(ev.Kind), "target", ev.TargetID)
		}
	}

	if err := scanner.Err(); err != nil {
		return true, err
	}
	return true, fmt.Errorf("%w: event stream ended", ErrGatewayUnreachable)
}

// sleep waits for d, returning false when shutdown interrupts it.
func (s *StreamClient) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// nextBackoff grows the reconnect delay, capped at max.
func nextBackoff(cur, max time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffMultiplier)
	if next > max {
		return max
	}
	return next
}

// isShutdown reports whether either shutdown signal has fired.
func isShutdown(ctx context.Context, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
	}
	return ctx.Err() != nil
}

func (s *StreamClient) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *StreamClient) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *StreamClient) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
