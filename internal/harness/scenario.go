package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dendritehq/dendrite/internal/truth"
)

// Scenario defines one acceptance scenario: a project directory, a
// sequence of diff submissions, and assertions on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Projects is the bootstrap directory for this run.
	Projects []ScenarioProject `yaml:"projects"`

	// Steps are the diffs submitted in order, each with an optional
	// expected outcome.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final truth state after all steps.
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioProject is one bootstrap project.
type ScenarioProject struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Owners []string `yaml:"owners"`
}

// Step is a single diff submission.
type Step struct {
	Diff   DiffSpec      `yaml:"diff"`
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// DiffSpec is the YAML form of a proposed diff.
type DiffSpec struct {
	Kind          string          `yaml:"kind"`
	ActorID       string          `yaml:"actor_id"`
	SourceEventID string          `yaml:"source_event_id"`
	SourceRef     string          `yaml:"source_ref,omitempty"`
	Reason        string          `yaml:"reason"`
	Constraint    *ConstraintSpec `yaml:"constraint,omitempty"`
	Dependency    *DependencySpec `yaml:"dependency,omitempty"`
}

// ConstraintSpec is the YAML form of a constraint change.
type ConstraintSpec struct {
	ProjectID string `yaml:"project_id"`
	Key       string `yaml:"key"`
	Value     string `yaml:"value"`
	Kind      string `yaml:"kind,omitempty"`
	Reason    string `yaml:"reason"`
}

// DependencySpec is the YAML form of a dependency add.
type DependencySpec struct {
	FromProjectID string `yaml:"from_project_id"`
	ToProjectID   string `yaml:"to_project_id"`
	Reason        string `yaml:"reason"`
}

// ToDiff converts the YAML form into the engine's input type.
func (d DiffSpec) ToDiff() truth.ProposedDiff {
	diff := truth.ProposedDiff{
		Kind:          truth.DiffKind(d.Kind),
		ActorID:       d.ActorID,
		SourceEventID: d.SourceEventID,
		SourceRef:     d.SourceRef,
		Reason:        d.Reason,
	}
	if d.Constraint != nil {
		reason := d.Constraint.Reason
		if reason == "" {
			reason = d.Reason
		}
		diff.Constraint = &truth.ConstraintChange{
			ProjectID: d.Constraint.ProjectID,
			Key:       d.Constraint.Key,
			Value:     d.Constraint.Value,
			Kind:      truth.ConstraintKind(d.Constraint.Kind),
			Reason:    reason,
		}
	}
	if d.Dependency != nil {
		reason := d.Dependency.Reason
		if reason == "" {
			reason = d.Reason
		}
		diff.Dependency = &truth.DependencyChange{
			FromProjectID: d.Dependency.FromProjectID,
			ToProjectID:   d.Dependency.ToProjectID,
			Reason:        reason,
		}
	}
	return diff
}

// ExpectClause specifies the expected outcome of a step. Only set
// fields are checked.
type ExpectClause struct {
	// Disposition is "committed", "already_processed" or "no_op".
	Disposition string `yaml:"disposition,omitempty"`

	// NoOpReason is checked when set.
	NoOpReason string `yaml:"no_op_reason,omitempty"`

	// Rejection is the expected rejection code for a refused diff.
	Rejection string `yaml:"rejection,omitempty"`

	// Conflicts are the expected conflict kinds, in order.
	Conflicts []string `yaml:"conflicts,omitempty"`

	// Sequence is the expected commit sequence number (0 means unchecked).
	Sequence int64 `yaml:"sequence,omitempty"`
}

// Assertion validates final truth state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is used by chain_length and conflict_count.
	Count int `yaml:"count,omitempty"`

	// Project, Key, Value are used by active_value.
	Project string `yaml:"project,omitempty"`
	Key     string `yaml:"key,omitempty"`
	Value   string `yaml:"value,omitempty"`

	// From, To are used by edge_active.
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`

	// Kind is the conflict kind for conflict_count and notified.
	Kind string `yaml:"kind,omitempty"`

	// Users is the expected recipient set for notified.
	Users []string `yaml:"users,omitempty"`
}

// Assertion type constants.
const (
	AssertChainLength   = "chain_length"
	AssertActiveValue   = "active_value"
	AssertEdgeActive    = "edge_active"
	AssertConflictCount = "conflict_count"
	AssertNotified      = "notified"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly instead of silently passing.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Projects) == 0 {
		return fmt.Errorf("projects list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, p := range s.Projects {
		if p.ID == "" {
			return fmt.Errorf("projects[%d]: id is required", i)
		}
		if len(p.Owners) == 0 {
			return fmt.Errorf("projects[%d]: at least one owner is required", i)
		}
	}

	for i, step := range s.Steps {
		if step.Diff.SourceEventID == "" {
			return fmt.Errorf("steps[%d]: diff.source_event_id is required", i)
		}
		if step.Diff.Kind == "" {
			return fmt.Errorf("steps[%d]: diff.kind is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertChainLength:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for chain_length", index)
		}
	case AssertActiveValue:
		if a.Project == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: project and key are required for active_value", index)
		}
	case AssertEdgeActive:
		if a.From == "" || a.To == "" {
			return fmt.Errorf("assertions[%d]: from and to are required for edge_active", index)
		}
	case AssertConflictCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for conflict_count", index)
		}
	case AssertNotified:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for notified", index)
		}
		if len(a.Users) == 0 {
			return fmt.Errorf("assertions[%d]: users list is required for notified", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
