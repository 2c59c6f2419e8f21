// Package device provides the shade and scene state model for Gray Logic
// Shades.
//
// The Registry is the authoritative in-memory mapping of shade/scene id to
// current state. It is mutated exclusively by the reconciliation engine on
// the sync scheduler's goroutine; every other component reads deep copies.
// A SQLite repository backs the registry so a restarted bridge can publish
// last-known state before its first full sync completes.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                            device package                            │
//	│                                                                      │
//	│  ┌──────────────────┐   ┌──────────────────┐   ┌─────────────────┐   │
//	│  │     Registry     │   │    Repository    │   │   Capability    │   │
//	│  │  (registry.go)   │──▶│ (repository.go)  │   │ (capabilities.go)│  │
//	│  │                  │   │                  │   │                 │   │
//	│  │ • shade/scene map│   │ • SQLite upserts │   │ • code → variant│   │
//	│  │ • deep-copy reads│   │ • warm-start load│   │ • command sets  │   │
//	│  │ • field stripping│   │ • deletions      │   │ • tilt clamping │   │
//	│  └──────────────────┘   └──────────────────┘   └─────────────────┘   │
//	└──────────────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - ShadeState: one physical covering, position fields gated by capability
//   - SceneState: a gateway-stored scene and its activation flag
//   - Capability: which of primary/secondary/tilt a shade exposes, and which
//     commands are meaningful for it
//   - BatteryLevel: none/low/medium/high/wired, decoded from the wire code
//
// # Capability invariant
//
// The set of populated position fields on a ShadeState is fully determined
// by its capability code. The Registry strips fields the capability does not
// expose on every write, so an invalid field is never stored, regardless of
// what a gateway snapshot or event claimed.
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Reads return deep copies; the
// single-writer discipline (reconciliation engine only) is a convention of
// the calling code, not enforced here.
package device
