package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dendritehq/dendrite/internal/truth"
)

const commitColumns = `id, sequence_number, parent_commit_id, actor_id, project_id,
	source_event_id, diff_payload, why, summary, created_at`

const constraintColumns = `id, project_id, key, value, kind, reason, is_active,
	author_id, source_ref, commit_id, created_at`

const dependencyColumns = `id, from_project_id, to_project_id, reason, is_active,
	author_id, source_ref, commit_id, created_at`

// querier is satisfied by both *sql.DB and *sql.Tx, so the row helpers
// below serve plain reads and the Apply transaction alike.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Event returns the ingestion record for a source event, or nil when the
// event has never reached a terminal status.
func (s *Store) Event(ctx context.Context, eventID string) (*truth.IngestedEvent, error) {
	return readEventTx(ctx, s.db, eventID)
}

func readEventTx(ctx context.Context, q querier, eventID string) (*truth.IngestedEvent, error) {
	var ev truth.IngestedEvent
	var commitID sql.NullString
	var createdAt string
	err := q.QueryRowContext(ctx, `
		SELECT event_id, status, error_reason, commit_id, created_at
		FROM events WHERE event_id = ?
	`, eventID).Scan(&ev.EventID, &ev.Status, &ev.ErrorReason, &commitID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	ev.CommitID = commitID.String
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Head returns the commit with the highest sequence number, or nil for an
// empty chain.
func (s *Store) Head(ctx context.Context) (*truth.Commit, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM commits ORDER BY sequence_number DESC LIMIT 1
	`, commitColumns))
	c, err := scanCommitRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CommitByID returns a single commit.
func (s *Store) CommitByID(ctx context.Context, id string) (truth.Commit, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM commits WHERE id = ?
	`, commitColumns), id)
	return scanCommitRow(row)
}

func readCommitTx(ctx context.Context, q querier, id string) (truth.Commit, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM commits WHERE id = ?
	`, commitColumns), id)
	return scanCommitRow(row)
}

// Commits returns up to limit commits, newest first. limit <= 0 returns
// the full chain.
func (s *Store) Commits(ctx context.Context, limit int) ([]truth.Commit, error) {
	q := fmt.Sprintf(`SELECT %s FROM commits ORDER BY sequence_number DESC`, commitColumns)
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryCommits(ctx, q, args...)
}

// CommitsSince returns commits created at or after the given instant, in
// sequence order. Used by the changes-since projection.
func (s *Store) CommitsSince(ctx context.Context, since time.Time) ([]truth.Commit, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM commits
		WHERE created_at >= ?
		ORDER BY sequence_number ASC
	`, commitColumns)
	return s.queryCommits(ctx, q, formatTime(since))
}

func (s *Store) queryCommits(ctx context.Context, query string, args ...any) ([]truth.Commit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	commits := []truth.Commit{}
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return commits, nil
}

// CountCommits returns the total number of commits in the chain.
func (s *Store) CountCommits(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commits`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count commits: %w", err)
	}
	return n, nil
}

// ActiveConstraint returns the single active constraint for a (project,
// key), or nil when none is active.
func (s *Store) ActiveConstraint(ctx context.Context, projectID, key string) (*truth.Constraint, error) {
	return activeConstraintTx(ctx, s.db, projectID, key)
}

func activeConstraintTx(ctx context.Context, q querier, projectID, key string) (*truth.Constraint, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM constraints
		WHERE project_id = ? AND key = ? AND is_active = 1
	`, constraintColumns), projectID, key)
	c, err := scanConstraintRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ActiveConstraints returns a project's active constraints ordered by key.
func (s *Store) ActiveConstraints(ctx context.Context, projectID string) ([]truth.Constraint, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM constraints
		WHERE project_id = ? AND is_active = 1
		ORDER BY key ASC
	`, constraintColumns), projectID)
	if err != nil {
		return nil, fmt.Errorf("query active constraints: %w", err)
	}
	defer rows.Close()

	constraints := []truth.Constraint{}
	for rows.Next() {
		c, err := scanConstraint(rows)
		if err != nil {
			return nil, err
		}
		constraints = append(constraints, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate constraints: %w", err)
	}
	return constraints, nil
}

// ConstraintVersions returns every version (active and superseded) for a
// (project, key), oldest first.
func (s *Store) ConstraintVersions(ctx context.Context, projectID, key string) ([]truth.Constraint, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM constraints
		WHERE project_id = ? AND key = ?
		ORDER BY created_at ASC, id ASC
	`, constraintColumns), projectID, key)
	if err != nil {
		return nil, fmt.Errorf("query constraint versions: %w", err)
	}
	defer rows.Close()

	versions := []truth.Constraint{}
	for rows.Next() {
		c, err := scanConstraint(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate constraint versions: %w", err)
	}
	return versions, nil
}

// ActiveEdges returns all active dependency edges in insertion order.
func (s *Store) ActiveEdges(ctx context.Context) ([]truth.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM dependencies
		WHERE is_active = 1
		ORDER BY rowid ASC
	`, dependencyColumns))
	if err != nil {
		return nil, fmt.Errorf("query active edges: %w", err)
	}
	defer rows.Close()

	edges := []truth.Dependency{}
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return edges, nil
}

// ActiveAdjacency returns the active dependency graph as an adjacency
// list. Neighbor order is insertion order, which gives the cycle finder
// its deterministic first-edge-discovered tie-break.
func (s *Store) ActiveAdjacency(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_project_id, to_project_id FROM dependencies
		WHERE is_active = 1
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query adjacency: %w", err)
	}
	defer rows.Close()

	adj := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		adj[from] = append(adj[from], to)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adjacency: %w", err)
	}
	return adj, nil
}

// Project returns a project node, or nil when the id is unknown.
func (s *Store) Project(ctx context.Context, projectID string) (*truth.Project, error) {
	var p truth.Project
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, name, created_at, updated_at
		FROM projects WHERE project_id = ?
	`, projectID).Scan(&p.ID, &p.Name, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query project: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Projects returns all project nodes ordered by id.
func (s *Store) Projects(ctx context.Context) ([]truth.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, name, created_at, updated_at
		FROM projects ORDER BY project_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := []truth.Project{}
	for rows.Next() {
		var p truth.Project
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// Owners returns the owner user ids recorded for a project, sorted.
func (s *Store) Owners(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM project_owners
		WHERE project_id = ?
		ORDER BY user_id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()

	owners := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owners: %w", err)
	}
	return owners, nil
}

// ConflictsForCommit returns the conflict reports referencing a commit.
func (s *Store) ConflictsForCommit(ctx context.Context, commitID string) ([]truth.ConflictReport, error) {
	return s.queryConflicts(ctx, `
		SELECT id, commit_id, kind, details, notified_user_ids, created_at
		FROM conflict_reports
		WHERE commit_id = ?
		ORDER BY created_at ASC, id ASC
	`, commitID)
}

// ConflictReports returns all conflict reports, oldest first.
func (s *Store) ConflictReports(ctx context.Context) ([]truth.ConflictReport, error) {
	return s.queryConflicts(ctx, `
		SELECT id, commit_id, kind, details, notified_user_ids, created_at
		FROM conflict_reports
		ORDER BY created_at ASC, id ASC
	`)
}

func (s *Store) queryConflicts(ctx context.Context, query string, args ...any) ([]truth.ConflictReport, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conflict reports: %w", err)
	}
	defer rows.Close()

	reports := []truth.ConflictReport{}
	for rows.Next() {
		var r truth.ConflictReport
		var details, notified, createdAt string
		if err := rows.Scan(&r.ID, &r.CommitID, &r.Kind, &details, &notified, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conflict report: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
			return nil, fmt.Errorf("unmarshal conflict details: %w", err)
		}
		if err := json.Unmarshal([]byte(notified), &r.NotifiedUserIDs); err != nil {
			return nil, fmt.Errorf("unmarshal conflict recipients: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflict reports: %w", err)
	}
	return reports, nil
}

func scanCommit(rows *sql.Rows) (truth.Commit, error) {
	var c truth.Commit
	var parent sql.NullString
	var createdAt string
	err := rows.Scan(&c.ID, &c.SequenceNumber, &parent, &c.ActorID, &c.ProjectID,
		&c.SourceEventID, &c.DiffPayload, &c.Why, &c.Summary, &createdAt)
	if err != nil {
		return truth.Commit{}, fmt.Errorf("scan commit: %w", err)
	}
	c.ParentCommitID = parent.String
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return truth.Commit{}, err
	}
	return c, nil
}

func scanCommitRow(row *sql.Row) (truth.Commit, error) {
	var c truth.Commit
	var parent sql.NullString
	var createdAt string
	err := row.Scan(&c.ID, &c.SequenceNumber, &parent, &c.ActorID, &c.ProjectID,
		&c.SourceEventID, &c.DiffPayload, &c.Why, &c.Summary, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return truth.Commit{}, err
		}
		return truth.Commit{}, fmt.Errorf("scan commit: %w", err)
	}
	c.ParentCommitID = parent.String
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return truth.Commit{}, err
	}
	return c, nil
}

func scanConstraint(rows *sql.Rows) (truth.Constraint, error) {
	var c truth.Constraint
	var active int
	var createdAt string
	err := rows.Scan(&c.ID, &c.ProjectID, &c.Key, &c.Value, &c.Kind, &c.Reason,
		&active, &c.AuthorID, &c.SourceRef, &c.CommitID, &createdAt)
	if err != nil {
		return truth.Constraint{}, fmt.Errorf("scan constraint: %w", err)
	}
	c.IsActive = active == 1
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return truth.Constraint{}, err
	}
	return c, nil
}

func scanConstraintRow(row *sql.Row) (truth.Constraint, error) {
	var c truth.Constraint
	var active int
	var createdAt string
	err := row.Scan(&c.ID, &c.ProjectID, &c.Key, &c.Value, &c.Kind, &c.Reason,
		&active, &c.AuthorID, &c.SourceRef, &c.CommitID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return truth.Constraint{}, err
		}
		return truth.Constraint{}, fmt.Errorf("scan constraint: %w", err)
	}
	c.IsActive = active == 1
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return truth.Constraint{}, err
	}
	return c, nil
}

func scanDependency(rows *sql.Rows) (truth.Dependency, error) {
	var d truth.Dependency
	var active int
	var createdAt string
	err := rows.Scan(&d.ID, &d.FromProjectID, &d.ToProjectID, &d.Reason,
		&active, &d.AuthorID, &d.SourceRef, &d.CommitID, &createdAt)
	if err != nil {
		return truth.Dependency{}, fmt.Errorf("scan dependency: %w", err)
	}
	d.IsActive = active == 1
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return truth.Dependency{}, err
	}
	return d, nil
}
