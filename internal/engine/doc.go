// Package engine implements the Dendrite commit and conflict engine.
//
// The engine is the single writer for the truth graph. Proposed diffs
// arrive from any goroutine via Submit, are queued, and are processed
// one at a time by the Run loop:
//
//	[ProposedDiff] → validate → Apply (one transaction) → detect → route
//
// # Idempotency
//
// Idempotency is structural, not a special replay mode - the same code
// path handles first delivery and redelivery:
//
//  1. UNIQUE(source_event_id) on commits plus the events table: a
//     redelivered event returns its prior outcome and creates nothing.
//  2. The no-op check runs inside the Apply transaction against current
//     active state, so a redundant fact (same active value, same active
//     edge) is recorded on the event and never becomes a commit.
//  3. UNIQUE(sequence_number) turns a writer race into a retryable
//     collision rather than a corrupted chain.
//
// # Conflicts are outcomes, not errors
//
// Conflict detection runs strictly after the transaction commits and can
// never undo it. A detected contradiction or cycle produces a
// ConflictReport and a recipient set; a failure while detecting or
// recording is logged and leaves the commit untouched.
package engine
