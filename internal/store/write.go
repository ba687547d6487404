package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/dendritehq/dendrite/internal/truth"
)

// NoOpReason explains why an accepted diff produced no commit.
type NoOpReason string

const (
	// DuplicateConstraintValue means the same project+key+value is
	// already the active constraint.
	DuplicateConstraintValue NoOpReason = "duplicate_constraint_value"
	// DuplicateDependencyEdge means the same active directed edge
	// already exists.
	DuplicateDependencyEdge NoOpReason = "duplicate_dependency_edge"
)

// Disposition says what Apply did with the diff.
type Disposition string

const (
	// DispositionCommitted means a new commit was created.
	DispositionCommitted Disposition = "committed"
	// DispositionReplayed means the source event was already processed;
	// the prior outcome is returned unchanged and nothing was created.
	DispositionReplayed Disposition = "already_processed"
	// DispositionNoOp means the diff would not change current truth; it
	// was recorded on the event and no commit was created.
	DispositionNoOp Disposition = "no_op"
)

// ErrSequenceConflict is returned when two writers raced on the same
// sequence number and the single retry also collided. The event remains
// unprocessed and is safe to resubmit.
var ErrSequenceConflict = errors.New("sequence number conflict")

// ApplyRequest carries a validated, normalized diff plus the identifiers
// the caller pre-generated for the rows this apply may create.
type ApplyRequest struct {
	Diff    truth.ProposedDiff
	Payload string // canonical JSON of Diff, stored verbatim on the commit

	CommitID     string
	ConstraintID string // used for constraint upserts
	DependencyID string // used for dependency adds
}

// ApplyResult reports the outcome of one Apply call.
type ApplyResult struct {
	Disposition Disposition
	NoOpReason  NoOpReason

	// Commit is the created commit (DispositionCommitted), or the prior
	// commit for a replayed event that originally committed.
	Commit truth.Commit

	// PriorEvent is set for DispositionReplayed.
	PriorEvent *truth.IngestedEvent

	// PriorActive is the superseded active constraint row captured
	// before deactivation, needed by the conflict detector. Set only
	// for committed constraint upserts that replaced a row.
	PriorActive *truth.Constraint
}

// Apply runs the accepted-diff path in a single transaction:
//
//  1. If the source event was already processed, return the prior
//     outcome and create nothing.
//  2. Check the diff against *current* active state; a redundant fact is
//     recorded as a no-op on the event, with no commit.
//  3. Read the highest sequence number; the new commit takes highest+1
//     and the head commit as parent.
//  4. Mutate the truth rows (capture + deactivate + insert for upserts,
//     insert for edges) and bump the project's updated_at.
//  5. Write the commit row and mark the event processed.
//
// All five steps succeed or none do. A collision on the sequence number
// unique index is retried exactly once with the checks re-run (state may
// have changed between attempts); a second collision surfaces as
// ErrSequenceConflict.
func (s *Store) Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	res, err := s.applyOnce(ctx, req)
	if isSequenceCollision(err) {
		res, err = s.applyOnce(ctx, req)
		if isSequenceCollision(err) {
			return ApplyResult{}, fmt.Errorf("apply %s: %w", req.Diff.SourceEventID, ErrSequenceConflict)
		}
	}
	return res, err
}

func (s *Store) applyOnce(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	now := s.now()
	d := req.Diff

	// Step 1: idempotent replay check against the event record.
	prior, err := readEventTx(ctx, tx, d.SourceEventID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply: read event: %w", err)
	}
	if prior != nil {
		res := ApplyResult{Disposition: DispositionReplayed, PriorEvent: prior}
		if prior.CommitID != "" {
			c, err := readCommitTx(ctx, tx, prior.CommitID)
			if err != nil {
				return ApplyResult{}, fmt.Errorf("apply: read prior commit: %w", err)
			}
			res.Commit = c
		}
		if err := tx.Commit(); err != nil {
			return ApplyResult{}, fmt.Errorf("apply: commit (replay): %w", err)
		}
		return res, nil
	}

	// Step 2: no-op check against current active state, inside the same
	// transaction as the write so the check can never go stale.
	var priorActive *truth.Constraint
	switch d.Kind {
	case truth.DiffConstraintUpsert:
		c := d.Constraint
		active, err := activeConstraintTx(ctx, tx, c.ProjectID, c.Key)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("apply: read active constraint: %w", err)
		}
		if active != nil && active.Value == c.Value {
			return s.recordNoOp(ctx, tx, d.SourceEventID, DuplicateConstraintValue, now)
		}
		priorActive = active

	case truth.DiffDependencyAdd:
		dep := d.Dependency
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM dependencies
				WHERE from_project_id = ? AND to_project_id = ? AND is_active = 1
			)
		`, dep.FromProjectID, dep.ToProjectID).Scan(&exists)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("apply: read active edge: %w", err)
		}
		if exists {
			return s.recordNoOp(ctx, tx, d.SourceEventID, DuplicateDependencyEdge, now)
		}

	default:
		return ApplyResult{}, fmt.Errorf("apply: unsupported diff kind %q", d.Kind)
	}

	// Step 3: sequence assignment. The persisted head is the source of
	// truth, never an in-memory counter, so the invariant survives
	// restarts.
	var parentID sql.NullString
	var nextSeq int64 = 1
	var headID string
	var headSeq int64
	err = tx.QueryRowContext(ctx, `
		SELECT id, sequence_number FROM commits
		ORDER BY sequence_number DESC LIMIT 1
	`).Scan(&headID, &headSeq)
	switch {
	case err == nil:
		parentID = sql.NullString{String: headID, Valid: true}
		nextSeq = headSeq + 1
	case errors.Is(err, sql.ErrNoRows):
		// Root commit: no parent, sequence 1.
	default:
		return ApplyResult{}, fmt.Errorf("apply: read head: %w", err)
	}

	// People are created lazily on first reference.
	if err := ensurePersonTx(ctx, tx, d.ActorID, now); err != nil {
		return ApplyResult{}, fmt.Errorf("apply: %w", err)
	}

	commit := truth.Commit{
		ID:             req.CommitID,
		SequenceNumber: nextSeq,
		ParentCommitID: parentID.String,
		ActorID:        d.ActorID,
		ProjectID:      d.ProjectID(),
		SourceEventID:  d.SourceEventID,
		DiffPayload:    req.Payload,
		Why:            d.Reason,
		Summary:        d.SummaryText(),
		CreatedAt:      now,
	}

	// Step 5 ordering note: the commit row goes in before the fact rows
	// so their commit_id foreign keys resolve; atomicity is unaffected.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO commits
		(id, sequence_number, parent_commit_id, actor_id, project_id,
		 source_event_id, diff_payload, why, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		commit.ID, commit.SequenceNumber, parentID, commit.ActorID, commit.ProjectID,
		commit.SourceEventID, commit.DiffPayload, commit.Why, commit.Summary,
		formatTime(now),
	)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply: write commit: %w", err)
	}

	// Step 4: truth mutation.
	switch d.Kind {
	case truth.DiffConstraintUpsert:
		c := d.Constraint
		if priorActive != nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE constraints SET is_active = 0
				WHERE project_id = ? AND key = ? AND is_active = 1
			`, c.ProjectID, c.Key)
			if err != nil {
				return ApplyResult{}, fmt.Errorf("apply: deactivate prior constraint: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO constraints
			(id, project_id, key, value, kind, reason, is_active,
			 author_id, source_ref, commit_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
		`,
			req.ConstraintID, c.ProjectID, c.Key, c.Value, string(c.Kind), c.Reason,
			d.ActorID, d.SourceRef, commit.ID, formatTime(now),
		)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("apply: insert constraint: %w", err)
		}
		if err := touchProjectTx(ctx, tx, c.ProjectID, now); err != nil {
			return ApplyResult{}, fmt.Errorf("apply: %w", err)
		}

	case truth.DiffDependencyAdd:
		dep := d.Dependency
		_, err = tx.ExecContext(ctx, `
			INSERT INTO dependencies
			(id, from_project_id, to_project_id, reason, is_active,
			 author_id, source_ref, commit_id, created_at)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)
		`,
			req.DependencyID, dep.FromProjectID, dep.ToProjectID, dep.Reason,
			d.ActorID, d.SourceRef, commit.ID, formatTime(now),
		)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("apply: insert dependency: %w", err)
		}
		// Only the mutated-owner side updates.
		if err := touchProjectTx(ctx, tx, dep.FromProjectID, now); err != nil {
			return ApplyResult{}, fmt.Errorf("apply: %w", err)
		}
	}

	// Step 5: mark the triggering event processed.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (event_id, status, commit_id, created_at)
		VALUES (?, ?, ?, ?)
	`, d.SourceEventID, string(truth.StatusProcessed), commit.ID, formatTime(now))
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply: write event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ApplyResult{}, fmt.Errorf("apply: commit tx: %w", err)
	}

	return ApplyResult{
		Disposition: DispositionCommitted,
		Commit:      commit,
		PriorActive: priorActive,
	}, nil
}

// recordNoOp writes the event's terminal no-op status and commits the
// transaction. No commit row and no truth mutation are created.
func (s *Store) recordNoOp(ctx context.Context, tx *sql.Tx, eventID string, reason NoOpReason, now time.Time) (ApplyResult, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_id, status, error_reason, created_at)
		VALUES (?, ?, ?, ?)
	`, eventID, string(truth.StatusNoOpDuplicate), string(reason), formatTime(now))
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply: record no-op: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ApplyResult{}, fmt.Errorf("apply: commit (no-op): %w", err)
	}
	return ApplyResult{Disposition: DispositionNoOp, NoOpReason: reason}, nil
}

// ensurePersonTx lazily creates a person row on first reference.
func ensurePersonTx(ctx context.Context, tx *sql.Tx, userID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO people (user_id, created_at) VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, formatTime(now))
	if err != nil {
		return fmt.Errorf("ensure person %s: %w", userID, err)
	}
	return nil
}

// touchProjectTx bumps updated_at on the mutated project.
func touchProjectTx(ctx context.Context, tx *sql.Tx, projectID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projects SET updated_at = ? WHERE project_id = ?
	`, formatTime(now), projectID)
	if err != nil {
		return fmt.Errorf("touch project %s: %w", projectID, err)
	}
	return nil
}

func isSequenceCollision(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(serr.Error(), "commits.sequence_number")
}

// RecordEventStatus writes a terminal status for a rejected or ignored
// event. Uses ON CONFLICT DO NOTHING so the first classification wins on
// replay.
func (s *Store) RecordEventStatus(ctx context.Context, eventID string, status truth.EventStatus, errorReason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, status, error_reason, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, eventID, string(status), errorReason, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("record event status: %w", err)
	}
	return nil
}

// WriteConflictReport appends a conflict report for a committed diff.
// Runs outside the Apply transaction: a failure here never invalidates
// the commit, and the write may be retried independently.
func (s *Store) WriteConflictReport(ctx context.Context, report truth.ConflictReport) error {
	details, err := json.Marshal(report.Details)
	if err != nil {
		return fmt.Errorf("write conflict report: marshal details: %w", err)
	}
	notified, err := json.Marshal(report.NotifiedUserIDs)
	if err != nil {
		return fmt.Errorf("write conflict report: marshal recipients: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conflict_reports
		(id, commit_id, kind, details, notified_user_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		report.ID, report.CommitID, string(report.Kind),
		string(details), string(notified), formatTime(report.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("write conflict report: %w", err)
	}
	return nil
}
