package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs the canonical acceptance scenarios under
// testdata/scenarios. Each run compares its outcome trace against the
// matching golden file, so these double as regression fixtures for the
// commit chain, conflict detection, and notification behavior.
func TestScenarios(t *testing.T) {
	tests := []struct {
		name         string
		scenarioPath string
	}{
		{
			name:         "single_commit",
			scenarioPath: "testdata/scenarios/single_commit.yaml",
		},
		{
			name:         "value_conflict",
			scenarioPath: "testdata/scenarios/value_conflict.yaml",
		},
		{
			name:         "dependency_cycle",
			scenarioPath: "testdata/scenarios/dependency_cycle.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario, err := LoadScenario(tt.scenarioPath)
			require.NoError(t, err, "failed to load scenario from %s", tt.scenarioPath)

			assert.Equal(t, tt.name, scenario.Name, "scenario name mismatch")
			assert.NotEmpty(t, scenario.Description, "scenario should have description")

			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRunReportsExpectationFailure(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectation",
		Description: "A committed diff expected to be a no-op fails its step check",
		Projects: []ScenarioProject{
			{ID: "checkout", Name: "Checkout", Owners: []string{"owner-1"}},
		},
		Steps: []Step{
			{
				Diff: DiffSpec{
					Kind:          "constraint_upsert",
					ActorID:       "user-1",
					SourceEventID: "evt-1",
					Reason:        "initial choice",
					Constraint: &ConstraintSpec{
						ProjectID: "checkout",
						Key:       "payment_provider",
						Value:     "stripe",
						Reason:    "initial choice",
					},
				},
				Expect: &ExpectClause{Disposition: "no_op"},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "disposition")
}

func TestRunFailedAssertion(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_assertion",
		Description: "An active_value assertion with the wrong value fails",
		Projects: []ScenarioProject{
			{ID: "checkout", Name: "Checkout", Owners: []string{"owner-1"}},
		},
		Steps: []Step{
			{
				Diff: DiffSpec{
					Kind:          "constraint_upsert",
					ActorID:       "user-1",
					SourceEventID: "evt-1",
					Reason:        "initial choice",
					Constraint: &ConstraintSpec{
						ProjectID: "checkout",
						Key:       "payment_provider",
						Value:     "stripe",
						Reason:    "initial choice",
					},
				},
			},
		},
		Assertions: []Assertion{
			{Type: AssertActiveValue, Project: "checkout", Key: "payment_provider", Value: "adyen"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
}

func TestRunTraceShape(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "single_commit.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "scenario should pass: errors=%v", result.Errors)
	require.Len(t, result.Trace, len(scenario.Steps))

	first := result.Trace[0]
	assert.Equal(t, 0, first.Step)
	assert.Equal(t, "committed", first.Disposition)
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, "single_commit-000001", first.CommitID)
}
