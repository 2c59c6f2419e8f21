package shades

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// streamLocator builds a locator that always elects the given address.
func streamLocator(addr string) *Locator {
	gw := newFakeGateway()
	gw.roles[addr] = ProbePrimary
	return NewLocator(gw, []string{addr}, nil, nil)
}

func TestStreamClient_ReceivesAndClassifies(t *testing.T) {
	lines := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != streamPath {
			http.NotFound(w, r)
			return
		}
		flusher := w.(http.Flusher)
		for line := range lines {
			if _, err := w.Write([]byte(line + "\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
	defer srv.Close()

	client := NewStreamClient(streamLocator(srv.URL), 3*time.Second, nil)
	client.Start(context.Background())
	defer client.Stop()

	lines <- keepAliveLine
	lines <- `{"evt":"scene-activated","id":7}`
	lines <- `{"evt":"never-heard-of-it","id":1}`
	lines <- `not json at all`
	lines <- `{"evt":"motion-started","id":42,"targetPositions":{"primary":0.5}}`
	close(lines)

	ok := waitFor(t, 3*time.Second, func() bool {
		s := client.Stats()
		return s.EventsReceived == 2 && s.KeepAlives == 1 &&
			s.UnknownKinds == 1 && s.Malformed == 1
	})
	if !ok {
		t.Fatalf("stats = %+v, want 2 events, 1 keep-alive, 1 unknown, 1 malformed", client.Stats())
	}

	events := client.Drain(eventBufferSize)
	if len(events) != 2 {
		t.Fatalf("drained %d events, want 2", len(events))
	}
	if events[0].Kind != EventSceneActivated || events[0].TargetID != "7" {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Kind != EventMotionStarted || events[1].TargetID != "42" {
		t.Errorf("event 1 = %+v", events[1])
	}

	if client.LastActivity().IsZero() {
		t.Error("LastActivity still zero after stream traffic")
	}
}

func TestStreamClient_KeepAliveAdvancesActivity(t *testing.T) {
	lines := make(chan string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		for line := range lines {
			if _, err := w.Write([]byte(line + "\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
	defer srv.Close()

	client := NewStreamClient(streamLocator(srv.URL), 3*time.Second, nil)
	client.Start(context.Background())
	defer client.Stop()

	lines <- keepAliveLine
	if !waitFor(t, 3*time.Second, func() bool { return client.Stats().KeepAlives == 1 }) {
		t.Fatal("keep-alive not counted")
	}
	first := client.LastActivity()

	time.Sleep(30 * time.Millisecond)
	lines <- keepAliveLine
	close(lines)

	if !waitFor(t, 3*time.Second, func() bool { return client.LastActivity().After(first) }) {
		t.Error("second keep-alive did not advance LastActivity")
	}

	// Keep-alives never reach the event buffer.
	if events := client.Drain(eventBufferSize); len(events) != 0 {
		t.Errorf("drained %d events from keep-alives, want 0", len(events))
	}
}

func TestStreamClient_Drain_Bounded(t *testing.T) {
	client := NewStreamClient(streamLocator("unused"), time.Second, nil)

	for i := 0; i < 10; i++ {
		client.buffer <- Event{Kind: EventHomeUpdated, ReceivedAt: time.Now()}
	}

	if got := len(client.Drain(4)); got != 4 {
		t.Errorf("Drain(4) = %d events, want 4", got)
	}
	if got := len(client.Drain(100)); got != 6 {
		t.Errorf("second Drain = %d events, want remaining 6", got)
	}
	if got := len(client.Drain(100)); got != 0 {
		t.Errorf("empty Drain = %d events, want 0", got)
	}
}

func TestStreamClient_Reconnect_Guarded(t *testing.T) {
	client := NewStreamClient(streamLocator("unused"), time.Second, nil)

	if !client.Reconnect() {
		t.Error("first Reconnect() = false, want true")
	}
	// In-flight reconnect absorbs further calls until a connection lands.
	if client.Reconnect() {
		t.Error("second Reconnect() = true while one is in flight")
	}
}

func TestStreamClient_ReconnectsAfterDisconnect(t *testing.T) {
	connects := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		connects <- struct{}{}
		flusher := w.(http.Flusher)
		w.Write([]byte(keepAliveLine + "\n")) //nolint:errcheck
		flusher.Flush()
		// Return immediately: connection drops, client must come back.
	}))
	defer srv.Close()

	client := NewStreamClient(streamLocator(srv.URL), 2*time.Second, nil)
	client.Start(context.Background())
	defer client.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-connects:
		case <-time.After(5 * time.Second):
			t.Fatalf("connection %d never arrived", i+1)
		}
	}

	if !waitFor(t, 3*time.Second, func() bool { return client.Stats().Reconnects >= 1 }) {
		t.Errorf("Reconnects = %d, want >= 1", client.Stats().Reconnects)
	}
}

func TestStreamClient_StopInterruptsConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte(keepAliveLine + "\n")) //nolint:errcheck
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewStreamClient(streamLocator(srv.URL), time.Second, nil)
	client.Start(context.Background())

	if !waitFor(t, 3*time.Second, func() bool { return client.Stats().KeepAlives == 1 }) {
		t.Fatal("stream never connected")
	}

	done := make(chan struct{})
	go func() {
		client.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}

	// Stop is idempotent.
	client.Stop()
}
