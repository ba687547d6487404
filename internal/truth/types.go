package truth

import "time"

// DiffKind discriminates the two supported update kinds.
type DiffKind string

const (
	// DiffConstraintUpsert sets or replaces a keyed constraint on a project.
	DiffConstraintUpsert DiffKind = "constraint_upsert"
	// DiffDependencyAdd adds a directed dependency edge between projects.
	DiffDependencyAdd DiffKind = "dependency_add"
)

// ConstraintKind classifies a constraint.
type ConstraintKind string

const (
	// KindDesignChoice is the default classification.
	KindDesignChoice ConstraintKind = "design_choice"
	// KindRequirement marks a hard requirement rather than a choice.
	KindRequirement ConstraintKind = "requirement"
)

// ConflictKind discriminates the two conflict categories.
type ConflictKind string

const (
	// ValueConflict means a new constraint value contradicts the prior
	// active value for the same (project, key).
	ValueConflict ConflictKind = "value_conflict"
	// DependencyCycle means a new edge closed a cycle in the active
	// dependency graph.
	DependencyCycle ConflictKind = "dependency_cycle"
)

// EventStatus is the terminal ingestion status recorded for a source event.
type EventStatus string

const (
	StatusProcessed      EventStatus = "processed"
	StatusIgnored        EventStatus = "ignored"
	StatusError          EventStatus = "error"
	StatusUnknownProject EventStatus = "invalid_unknown_project"
	StatusNoOpDuplicate  EventStatus = "no_op_duplicate"
)

// Project is a mutable target of updates. Rows exist only for projects
// present in the bootstrap configuration.
type Project struct {
	ID        string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Person is created lazily on first reference as author or owner.
type Person struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Constraint is a versioned fact. For a given (ProjectID, Key) at most one
// row has IsActive=true; an upsert deactivates the prior row in the same
// transaction that activates the new one.
type Constraint struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Key       string         `json:"key"`
	Value     string         `json:"value"`
	Kind      ConstraintKind `json:"kind"`
	Reason    string         `json:"reason"`
	IsActive  bool           `json:"is_active"`
	AuthorID  string         `json:"author_id"`
	SourceRef string         `json:"source_ref,omitempty"`
	CommitID  string         `json:"commit_id"`
	CreatedAt time.Time      `json:"created_at"`
}

// Dependency is a versioned directed edge. Edges are add-only: there is no
// deactivation path, and at most one active row exists per ordered pair.
type Dependency struct {
	ID            string    `json:"id"`
	FromProjectID string    `json:"from_project_id"`
	ToProjectID   string    `json:"to_project_id"`
	Reason        string    `json:"reason"`
	IsActive      bool      `json:"is_active"`
	AuthorID      string    `json:"author_id"`
	SourceRef     string    `json:"source_ref,omitempty"`
	CommitID      string    `json:"commit_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Commit is one immutable link in the linear history chain. ParentCommitID
// is empty only for the root commit; every other commit's parent is the
// commit that held the highest sequence number at creation time.
type Commit struct {
	ID             string    `json:"id"`
	SequenceNumber int64     `json:"sequence_number"`
	ParentCommitID string    `json:"parent_commit_id,omitempty"`
	ActorID        string    `json:"actor_id"`
	ProjectID      string    `json:"project_id"`
	SourceEventID  string    `json:"source_event_id"`
	DiffPayload    string    `json:"diff_payload"`
	Why            string    `json:"why"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConflictDetails carries the kind-specific evidence for a conflict.
// Value conflicts fill the constraint fields; cycles fill CyclePath with
// project ids where the first and last entries are equal.
type ConflictDetails struct {
	ProjectID        string   `json:"project_id,omitempty"`
	Key              string   `json:"key,omitempty"`
	ExistingValue    string   `json:"existing_value,omitempty"`
	NewValue         string   `json:"new_value,omitempty"`
	ExistingAuthorID string   `json:"existing_author_id,omitempty"`
	NewAuthorID      string   `json:"new_author_id,omitempty"`
	FromProjectID    string   `json:"from_project_id,omitempty"`
	ToProjectID      string   `json:"to_project_id,omitempty"`
	CyclePath        []string `json:"cycle_path,omitempty"`
}

// ConflictReport records a detected conflict. It references the triggering
// commit and never reverses it.
type ConflictReport struct {
	ID              string          `json:"id"`
	CommitID        string          `json:"commit_id"`
	Kind            ConflictKind    `json:"kind"`
	Details         ConflictDetails `json:"details"`
	NotifiedUserIDs []string        `json:"notified_user_ids"`
	CreatedAt       time.Time       `json:"created_at"`
}

// IngestedEvent is the idempotency record for one source event.
type IngestedEvent struct {
	EventID     string      `json:"event_id"`
	Status      EventStatus `json:"ingestion_status"`
	ErrorReason string      `json:"error_reason,omitempty"`
	CommitID    string      `json:"commit_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ProjectRefs returns the project ids a conflict report touches: the single
// project for a value conflict, both endpoints for a cycle.
func (d ConflictDetails) ProjectRefs() []string {
	if d.ProjectID != "" {
		return []string{d.ProjectID}
	}
	if d.FromProjectID == d.ToProjectID {
		return []string{d.FromProjectID}
	}
	return []string{d.FromProjectID, d.ToProjectID}
}
