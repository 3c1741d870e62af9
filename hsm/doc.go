// Package hsm implements hart state management: the per-hart
// lifecycle state machine driven by platform callbacks.
//
// # State Machine
//
// Each hart holds one of the SBI-derived states ([HartState]). The
// lifecycle operations - start, stop, suspend - validate the current
// state, invoke the platform prepare callback, and park the hart in a
// pending state. Reconciliation ([HSM.ProcessStateChanges]) then
// observes the hardware state and completes pending transitions:
// start-pending can only advance to started, stop-pending to stopped,
// and suspend-pending to suspended. A suspended hart observed running
// has woken itself and moves back to started.
//
// Re-requesting the current or pending target state reports
// [pkg.StatusAlready]; requesting a transition from the wrong state
// reports [pkg.StatusDenied].
//
// # Topology
//
// [Leaf] manages a flat hart-ID array against one [PlatformOps]
// table. [Composite] aggregates children (leaves or further
// composites) into one dense index space, forwarding each operation
// to the child owning the target hart with indices translated to
// local coordinates. All children of a composite must offer an
// identical suspend-type list.
package hsm
