// Package truth defines the domain model for the Dendrite truth graph.
//
// The model has two halves:
//
//   - Proposed changes: ProposedDiff is the tagged union handed to the
//     engine by the ingress collaborator (one constraint upsert or one
//     dependency add). Validation lives here because it is pure - it
//     never touches storage.
//
//   - Committed facts: Constraint and Dependency are versioned rows
//     (deactivated, never deleted), Commit is one link in the linear
//     history chain, and ConflictReport records a contradiction or
//     cycle detected after a commit.
//
// All free-text fields that participate in equality comparison (keys,
// values) are NFC-normalized via Normalize before storage, so updates
// that differ only in Unicode composition compare equal.
package truth
