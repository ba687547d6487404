package harness

import (
	"context"
	"fmt"
	"sort"

	"github.com/dendritehq/dendrite/internal/store"
	"github.com/dendritehq/dendrite/internal/truth"
)

// runAssertions checks the scenario's final-state assertions against
// the store. Assertion failures accumulate in the result; the error
// return is for store access problems only.
func runAssertions(ctx context.Context, st *store.Store, scenario *Scenario, result *Result) error {
	for i, assertion := range scenario.Assertions {
		var err error
		switch assertion.Type {
		case AssertChainLength:
			err = assertChainLength(ctx, st, i, assertion, result)
		case AssertActiveValue:
			err = assertActiveValue(ctx, st, i, assertion, result)
		case AssertEdgeActive:
			err = assertEdgeActive(ctx, st, i, assertion, result)
		case AssertConflictCount:
			err = assertConflictCount(ctx, st, i, assertion, result)
		case AssertNotified:
			err = assertNotified(ctx, st, i, assertion, result)
		default:
			result.AddError(fmt.Sprintf("assertions[%d]: unknown type %q", i, assertion.Type))
		}
		if err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func assertChainLength(ctx context.Context, st *store.Store, i int, a Assertion, result *Result) error {
	count, err := st.CountCommits(ctx)
	if err != nil {
		return err
	}
	if count != a.Count {
		result.AddError(fmt.Sprintf("assertions[%d]: expected %d commits, got %d", i, a.Count, count))
	}
	return nil
}

func assertActiveValue(ctx context.Context, st *store.Store, i int, a Assertion, result *Result) error {
	constraint, err := st.ActiveConstraint(ctx, a.Project, a.Key)
	if err != nil {
		return err
	}
	if constraint == nil {
		if a.Value != "" {
			result.AddError(fmt.Sprintf("assertions[%d]: no active constraint for %s/%s, expected %q", i, a.Project, a.Key, a.Value))
		}
		return nil
	}
	if constraint.Value != a.Value {
		result.AddError(fmt.Sprintf("assertions[%d]: active value for %s/%s is %q, expected %q", i, a.Project, a.Key, constraint.Value, a.Value))
	}
	return nil
}

func assertEdgeActive(ctx context.Context, st *store.Store, i int, a Assertion, result *Result) error {
	edges, err := st.ActiveEdges(ctx)
	if err != nil {
		return err
	}
	for _, edge := range edges {
		if edge.FromProjectID == a.From && edge.ToProjectID == a.To {
			return nil
		}
	}
	result.AddError(fmt.Sprintf("assertions[%d]: no active edge %s -> %s", i, a.From, a.To))
	return nil
}

func assertConflictCount(ctx context.Context, st *store.Store, i int, a Assertion, result *Result) error {
	reports, err := conflictsOfKind(ctx, st, a.Kind)
	if err != nil {
		return err
	}
	if len(reports) != a.Count {
		result.AddError(fmt.Sprintf("assertions[%d]: expected %d %s conflict(s), got %d", i, a.Count, a.Kind, len(reports)))
	}
	return nil
}

// assertNotified checks the recipient set of the single conflict of the
// given kind. Order-insensitive: the engine already sorts recipients,
// but the assertion compares sets regardless.
func assertNotified(ctx context.Context, st *store.Store, i int, a Assertion, result *Result) error {
	reports, err := conflictsOfKind(ctx, st, a.Kind)
	if err != nil {
		return err
	}
	if len(reports) != 1 {
		result.AddError(fmt.Sprintf("assertions[%d]: notified expects exactly one %s conflict, got %d", i, a.Kind, len(reports)))
		return nil
	}

	want := append([]string(nil), a.Users...)
	got := append([]string(nil), reports[0].NotifiedUserIDs...)
	sort.Strings(want)
	sort.Strings(got)

	if len(want) != len(got) {
		result.AddError(fmt.Sprintf("assertions[%d]: expected recipients %v, got %v", i, want, got))
		return nil
	}
	for j := range want {
		if want[j] != got[j] {
			result.AddError(fmt.Sprintf("assertions[%d]: expected recipients %v, got %v", i, want, got))
			return nil
		}
	}
	return nil
}

func conflictsOfKind(ctx context.Context, st *store.Store, kind string) ([]truth.ConflictReport, error) {
	all, err := st.ConflictReports(ctx)
	if err != nil {
		return nil, err
	}
	var out []truth.ConflictReport
	for _, report := range all {
		if string(report.Kind) == kind {
			out = append(out, report)
		}
	}
	return out, nil
}
