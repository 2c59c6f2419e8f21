// Package shades implements the gateway synchronization engine and MQTT
// bridge for window-shade gateways.
//
// The package keeps the device registry synchronized with physical shade
// state obtained over two complementary channels: periodic full snapshots
// (long cycle) and, for push-capable gateways, an asynchronous event
// stream drained on a short cycle. It tolerates two incompatible gateway
// API generations:
//
//   - push: event stream, float positions 0..1, primary/secondary role
//     election across candidates
//   - poll: no stream, inverted integer positions 0..65535, first
//     reachable candidate wins
//
// # Architecture
//
//	MQTT broker ←→ Bridge ←→ SyncScheduler ─→ Reconciler ─→ device.Registry
//	                              │
//	                  GatewayLocator / GatewayClient / StreamClient
//	                              │
//	                     shade gateway(s) (HTTP)
//
// A single scheduler goroutine owns all reconciliation and registry
// mutation. The stream read loop is the only other long-lived goroutine
// and hands events over through one bounded buffer. Elections are
// serialised; concurrent triggers adopt the running election's outcome.
//
// # Components
//
//   - GatewayLocator (locator.go): candidate probing, primary election,
//     .local resolution via a pluggable Resolver (mDNS in production)
//   - GatewayClient (gateway.go): generation-specific HTTP clients,
//     wire-scale conversion, base64 name decoding
//   - StreamClient (stream.go): long-lived event stream reader with
//     heartbeat tracking and guarded reconnect
//   - Scheduler (scheduler.go): dual-cadence loop, full-sync floor,
//     rediscovery requests
//   - Reconciler (reconcile.go): idempotent snapshot and event
//     application, the sole registry mutator
//   - Bridge (bridge.go): MQTT command/ack/state/discovery/health surface
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Registry mutation is
// confined to the scheduler goroutine by construction.
package shades
