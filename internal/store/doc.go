// Package store provides SQLite-backed durable storage for the Dendrite
// truth graph.
//
// The store owns the two invariants that must hold together or not at all:
//
//   - Versioned facts: constraints and dependency edges are append-only
//     rows tagged is_active. At most one active constraint exists per
//     (project, key) and at most one active edge per ordered project
//     pair; both are enforced by partial unique indexes, not by
//     background reconciliation.
//
//   - The commit chain: every accepted diff receives a strictly
//     increasing sequence_number and a parent link to the previous head.
//     UNIQUE(sequence_number) makes concurrent writers collide loudly
//     (a retryable conflict, not a business error) and
//     UNIQUE(parent_commit_id) makes branching structurally impossible.
//
// Apply runs the whole accepted-diff path - idempotency check, no-op
// check, sequence assignment, truth mutation, commit row, event record -
// in a single transaction. A crash mid-sequence leaves prior state fully
// intact: the store never exposes a commit without its mutation or vice
// versa.
//
// Ordering always uses sequence_number, never wall-clock timestamps, so
// chain walks and projections are deterministic across replays.
package store
