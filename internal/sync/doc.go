// Package sync moves habit data between the local store and the shared
// remote store.
//
// # Overview
//
// Every local mutation leaves a record in the pending-operations queue
// (see internal/mutate). A sync cycle has two phases:
//
//	DRAIN   replay the queue against the remote store in FIFO order,
//	        deleting each operation once the remote confirms it
//	PULL    fetch remote records updated since the last successful pull
//	        and merge them last-write-wins into the local store
//
// The engine is a small state machine:
//
//	IDLE -> DRAINING -> PULLING -> IDLE
//
// At most one cycle runs at a time. A trigger that arrives mid-cycle is
// remembered and collapses into exactly one follow-up cycle, so callers
// can trigger freely on every mutation.
//
// # Failure handling
//
// An unreachable remote aborts the cycle before any queued operation is
// touched; nothing is retried and nothing is charged against retry
// budgets. A connection lost mid-drain aborts the same way, leaving the
// unconfirmed tail queued. A reachable remote that rejects an individual
// record charges that operation one retry; after DefaultRetryCeiling
// failed attempts the operation is abandoned and reported in the cycle
// result.
//
// # Merging
//
// Records are flat rows compared by updated_at. Entry identifiers are
// derived from (owner, habit, date), so the same logical day recorded on
// two devices collides on the key and resolves by timestamp instead of
// duplicating. Ties apply the remote copy, matching the push guard, so
// every replica settles on the same row.
package sync
