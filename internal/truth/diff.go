package truth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ConstraintChange is the payload of a constraint upsert.
type ConstraintChange struct {
	ProjectID string         `json:"project_id" validate:"required"`
	Key       string         `json:"key" validate:"required"`
	Value     string         `json:"value" validate:"required"`
	Kind      ConstraintKind `json:"kind,omitempty" validate:"omitempty,oneof=design_choice requirement"`
	Reason    string         `json:"reason" validate:"required"`
}

// DependencyChange is the payload of a dependency add.
type DependencyChange struct {
	FromProjectID string `json:"from_project_id" validate:"required"`
	ToProjectID   string `json:"to_project_id" validate:"required"`
	Reason        string `json:"reason" validate:"required"`
}

// ProposedDiff is the tagged union handed to the engine by the parsing
// collaborator. Exactly one of Constraint or Dependency is set, matching
// Kind. The core never sees raw text.
type ProposedDiff struct {
	Kind          DiffKind          `json:"kind" validate:"required,oneof=constraint_upsert dependency_add"`
	ActorID       string            `json:"actor_id" validate:"required"`
	SourceEventID string            `json:"source_event_id" validate:"required"`
	SourceRef     string            `json:"source_ref,omitempty"`
	Reason        string            `json:"reason" validate:"required"`
	Constraint    *ConstraintChange `json:"constraint,omitempty"`
	Dependency    *DependencyChange `json:"dependency,omitempty"`
}

// RejectionCode classifies why a diff was refused before any mutation.
type RejectionCode string

const (
	// RejectSchemaInvalid means the diff is structurally malformed.
	RejectSchemaInvalid RejectionCode = "SCHEMA_INVALID"
	// RejectUnknownProject means a referenced project is not in the
	// bootstrap set. The rejection carries the valid ids for feedback.
	RejectUnknownProject RejectionCode = "UNKNOWN_PROJECT"
	// RejectNoOpDuplicate means the diff would not change current truth.
	// It is recorded on the event, not treated as an error.
	RejectNoOpDuplicate RejectionCode = "NO_OP_DUPLICATE"
)

// Rejection is the classified outcome of a refused diff. It implements
// error so it can travel through error returns, but rejections are
// expected outcomes, not failures.
type Rejection struct {
	Code          RejectionCode `json:"code"`
	Message       string        `json:"message"`
	ValidProjects []string      `json:"valid_projects,omitempty"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

var diffValidate = validator.New()

// ValidateDiff checks a candidate diff against the schema and the known
// project set. It mutates nothing: on success the returned diff is a
// normalized copy with ids, keys and values trimmed and NFC-normalized,
// and the constraint kind defaulted to design_choice.
//
// Schema violations and unknown projects are distinct rejections because
// they produce different feedback text upstream.
func ValidateDiff(d ProposedDiff, knownProjects map[string]bool) (ProposedDiff, *Rejection) {
	if err := diffValidate.Struct(d); err != nil {
		return ProposedDiff{}, schemaInvalid(validationMessage(err))
	}

	d.ActorID = Normalize(d.ActorID)
	d.Reason = Normalize(d.Reason)
	if d.Reason == "" {
		return ProposedDiff{}, schemaInvalid("reason must not be blank")
	}

	switch d.Kind {
	case DiffConstraintUpsert:
		if d.Constraint == nil {
			return ProposedDiff{}, schemaInvalid("constraint_upsert diff is missing its constraint payload")
		}
		if d.Dependency != nil {
			return ProposedDiff{}, schemaInvalid("constraint_upsert diff must not carry a dependency payload")
		}
		c := *d.Constraint
		if err := diffValidate.Struct(c); err != nil {
			return ProposedDiff{}, schemaInvalid(validationMessage(err))
		}
		c.ProjectID = Normalize(c.ProjectID)
		c.Key = Normalize(c.Key)
		c.Value = Normalize(c.Value)
		c.Reason = Normalize(c.Reason)
		if c.Kind == "" {
			c.Kind = KindDesignChoice
		}
		if c.Key == "" || c.Value == "" {
			return ProposedDiff{}, schemaInvalid("constraint key and value must not be blank")
		}
		if !knownProjects[c.ProjectID] {
			return ProposedDiff{}, unknownProject(c.ProjectID, knownProjects)
		}
		d.Constraint = &c

	case DiffDependencyAdd:
		if d.Dependency == nil {
			return ProposedDiff{}, schemaInvalid("dependency_add diff is missing its dependency payload")
		}
		if d.Constraint != nil {
			return ProposedDiff{}, schemaInvalid("dependency_add diff must not carry a constraint payload")
		}
		dep := *d.Dependency
		if err := diffValidate.Struct(dep); err != nil {
			return ProposedDiff{}, schemaInvalid(validationMessage(err))
		}
		dep.FromProjectID = Normalize(dep.FromProjectID)
		dep.ToProjectID = Normalize(dep.ToProjectID)
		dep.Reason = Normalize(dep.Reason)
		for _, id := range []string{dep.FromProjectID, dep.ToProjectID} {
			if !knownProjects[id] {
				return ProposedDiff{}, unknownProject(id, knownProjects)
			}
		}
		d.Dependency = &dep

	default:
		return ProposedDiff{}, schemaInvalid(fmt.Sprintf("unsupported diff kind %q", d.Kind))
	}

	return d, nil
}

// ProjectID returns the project a diff applies to: the constraint's
// project, or the from side of a dependency (the mutated owner).
func (d ProposedDiff) ProjectID() string {
	switch d.Kind {
	case DiffConstraintUpsert:
		if d.Constraint != nil {
			return d.Constraint.ProjectID
		}
	case DiffDependencyAdd:
		if d.Dependency != nil {
			return d.Dependency.FromProjectID
		}
	}
	return ""
}

// Summary renders the short human string stored on the commit. It always
// contains the diff's reason.
func (d ProposedDiff) SummaryText() string {
	switch d.Kind {
	case DiffConstraintUpsert:
		c := d.Constraint
		return fmt.Sprintf("set %s=%s on %s (%s)", c.Key, c.Value, c.ProjectID, d.Reason)
	case DiffDependencyAdd:
		dep := d.Dependency
		return fmt.Sprintf("added dependency %s -> %s (%s)", dep.FromProjectID, dep.ToProjectID, d.Reason)
	}
	return d.Reason
}

func schemaInvalid(msg string) *Rejection {
	return &Rejection{Code: RejectSchemaInvalid, Message: msg}
}

func unknownProject(id string, known map[string]bool) *Rejection {
	valid := make([]string, 0, len(known))
	for k := range known {
		valid = append(valid, k)
	}
	sort.Strings(valid)
	return &Rejection{
		Code:          RejectUnknownProject,
		Message:       fmt.Sprintf("project %q is not a known project", id),
		ValidProjects: valid,
	}
}

// validationMessage flattens validator errors into one readable line.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
