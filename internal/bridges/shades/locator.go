package shades

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
)

// Resolver turns a .local hostname into a dialable IP address.
// Production wiring uses multicast DNS (MDNSResolver); tests substitute
// a fixed map.
type Resolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

// candidate is one configured gateway address and its last known role.
type candidate struct {
	address string // as configured (may be host:port or name.local)
	role    ProbeResult
}

// Locator owns the primary gateway designation. It probes the configured
// candidate list in order, designates at most one primary at any time,
// and serialises elections: a caller that blocked behind a running
// election adopts that election's outcome instead of probing again.
//
// A total outage keeps the previous primary designation in place (stale
// is better than none) while reporting ErrNoGatewayReachable.
//
// Thread Safety: all methods are safe for concurrent use.
type Locator struct {
	client   GatewayClient
	resolver Resolver // nil disables .local resolution
	logger   Logger

	// electMu serialises election runs; mu guards the fields below.
	electMu sync.Mutex
	mu      sync.Mutex

	candidates []candidate
	primary    string // dialable address of the current primary ("" before first win)
	seq        uint64 // completed election count, drives outcome adoption
	outage     bool   // last election found nothing reachable
	lastErr    error  // outcome error of the last election, nil on success
}

// NewLocator creates a locator over the configured candidate addresses.
// The resolver may be nil when no .local candidates are configured.
func NewLocator(client GatewayClient, addresses []string, resolver Resolver, logger Logger) *Locator {
	cands := make([]candidate, 0, len(addresses))
	for _, addr := range addresses {
		cands = append(cands, candidate{address: addr})
	}
	return &Locator{
		client:     client,
		resolver:   resolver,
		logger:     logger,
		candidates: cands,
	}
}

// Primary returns the dialable address of the current primary gateway.
// Returns ErrNoPrimary until an election has succeeded.
func (l *Locator) Primary() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.primary == "" {
		return "", ErrNoPrimary
	}
	return l.primary, nil
}

// Outage reports whether the last election found no reachable candidate.
func (l *Locator) Outage() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outage
}

// Candidates returns the candidate addresses in their current probe
// order with their last known roles. For logs and health reporting.
func (l *Locator) Candidates() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.candidates))
	for _, c := range l.candidates {
		out[c.address] = c.role.String()
	}
	return out
}

// Elect runs (or adopts) a primary election and returns the resulting
// primary address. On failure the previous designation is returned
// alongside the error: ErrNoGatewayReachable for a total outage,
// ErrNoPrimary when candidates responded but none claimed the role.
func (l *Locator) Elect(ctx context.Context) (string, error) {
	l.mu.Lock()
	startSeq := l.seq
	l.mu.Unlock()

	l.electMu.Lock()
	defer l.electMu.Unlock()

	l.mu.Lock()
	if l.seq != startSeq {
		// An election completed while this caller waited; adopt it.
		primary, err := l.primary, l.lastErr
		l.mu.Unlock()
		return primary, err
	}
	cands := make([]candidate, len(l.candidates))
	copy(cands, l.candidates)
	l.mu.Unlock()

	var (
		primaryDial  string
		anyReachable bool
	)
	for i := range cands {
		dial, err := l.resolveAddress(ctx, cands[i].address)
		if err != nil {
			// Resolution failure marks the candidate unreachable for
			// this round without failing the election.
			l.logWarn("candidate resolution failed",
				"address", cands[i].address, "error", err)
			cands[i].role = ProbeUnreachable
			continue
		}

		role := l.client.Probe(ctx, dial)
		cands[i].role = role
		l.logDebug("candidate probed",
			"address", cands[i].address, "role", role.String())

		if role != ProbeUnreachable {
			anyReachable = true
		}
		if role == ProbePrimary && primaryDial == "" {
			primaryDial = dial
		}
	}

	// Reorder for future attempts: primary, then reachable secondaries,
	// then unreachable, preserving configured relative order per band.
	reordered := make([]candidate, 0, len(cands))
	for _, want := range []ProbeResult{ProbePrimary, ProbeSecondary, ProbeUnreachable} {
		for _, c := range cands {
			if c.role == want {
				reordered = append(reordered, c)
			}
		}
	}

	var outcomeErr error
	switch {
	case primaryDial != "":
	case anyReachable:
		outcomeErr = ErrNoPrimary
	default:
		outcomeErr = ErrNoGatewayReachable
	}

	l.mu.Lock()
	l.seq++
	l.candidates = reordered
	l.outage = !anyReachable
	l.lastErr = outcomeErr
	if primaryDial != "" {
		if primaryDial != l.primary {
			l.logInfo("primary gateway designated", "address", primaryDial)
		}
		l.primary = primaryDial
	}
	// On failure the previous primary designation stays in place.
	primary := l.primary
	l.mu.Unlock()

	if outcomeErr != nil {
		l.logWarn("election found no primary",
			"error", outcomeErr, "stale_primary", primary)
		return primary, outcomeErr
	}
	return primary, nil
}

// resolveAddress resolves .local candidate hostnames through the
// configured resolver, passing anything else through unchanged.
func (l *Locator) resolveAddress(ctx context.Context, addr string) (string, error) {
	host, port := addr, ""
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host, port = h, p
	}
	if !strings.HasSuffix(strings.ToLower(host), ".local") {
		return addr, nil
	}
	if l.resolver == nil {
		return "", fmt.Errorf("no resolver configured for %q", addr)
	}
	ip, err := l.resolver.Resolve(ctx, host)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", host, err)
	}
	if port != "" {
		return net.JoinHostPort(ip, port), nil
	}
	return ip, nil
}

func (l *Locator) logDebug(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, args...)
	}
}

func (l *Locator) logInfo(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Info(msg, args...)
	}
}

func (l *Locator) logWarn(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Warn(msg, args...)
	}
}
