package shades

import "errors"

// Domain errors for the shades bridge package.
var (
	// ErrNoGatewayReachable is returned when an election finds no
	// reachable candidate. The previous primary designation is kept in
	// place (stale-but-available beats none).
	ErrNoGatewayReachable = errors.New("shades: no gateway candidate reachable")

	// ErrNoPrimary is returned when no candidate has been designated
	// primary yet, or the latest election found reachable candidates but
	// none claiming the primary role.
	ErrNoPrimary = errors.New("shades: no primary gateway designated")

	// ErrNotPrimary is returned when a gateway answers a request with a
	// not-primary marker. It is an expected re-election signal, not a
	// fault.
	ErrNotPrimary = errors.New("shades: gateway is not primary")

	// ErrGatewayUnreachable is returned when a gateway request fails at
	// the network level or with an unexpected status.
	ErrGatewayUnreachable = errors.New("shades: gateway unreachable")

	// ErrMalformedResponse is returned when a gateway response body
	// cannot be parsed. The offending item is discarded, prior state
	// retained.
	ErrMalformedResponse = errors.New("shades: malformed gateway response")

	// ErrUnknownEventKind is returned by event parsing for stream items
	// of an unrecognised kind. They are counted and discarded without
	// failing the stream.
	ErrUnknownEventKind = errors.New("shades: unknown event kind")

	// ErrMalformedEvent is returned when a stream line is not a valid
	// event envelope.
	ErrMalformedEvent = errors.New("shades: malformed event")

	// ErrUnknownGeneration is returned when the configured gateway
	// generation is neither "push" nor "poll".
	ErrUnknownGeneration = errors.New("shades: unknown gateway generation")

	// ErrStreamUnsupported is returned when a stream client is requested
	// for the poll generation, which has no event endpoint.
	ErrStreamUnsupported = errors.New("shades: generation has no event stream")
)
