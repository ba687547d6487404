package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dendritehq/dendrite/internal/engine"
	"github.com/dendritehq/dendrite/internal/store"
	"github.com/dendritehq/dendrite/internal/testutil"
)

// scenarioEpoch is the fixed wall-clock start for every run. One second
// per store write keeps timestamps distinct and traces byte-identical.
var scenarioEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes a scenario against a fresh database and a real engine.
//
// The run is fully deterministic: ids come from a prefix generator,
// timestamps from a ticking clock starting at a fixed epoch. Expect
// clauses are checked per step; assertions are checked at the end.
// Returns an error only for infrastructure failures; expectation
// failures land in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "dendrite-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewTickingClock(scenarioEpoch, time.Second)
	st.SetNowFunc(clock.Now)

	ctx := context.Background()
	if err := st.Bootstrap(ctx, bootstrapProjects(scenario)); err != nil {
		return nil, fmt.Errorf("bootstrap projects: %w", err)
	}

	known := make(map[string]bool, len(scenario.Projects))
	owners := make(engine.OwnerDirectory, len(scenario.Projects))
	for _, p := range scenario.Projects {
		known[p.ID] = true
		owners[p.ID] = p.Owners
	}

	eng := engine.New(st, engine.Options{
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		IDs:      engine.NewPrefixGenerator(scenario.Name),
		Projects: known,
		Owners:   owners,
		Now:      clock.Now,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(runCtx)
	}()

	result := NewResult()
	for i, step := range scenario.Steps {
		out, err := eng.Submit(ctx, step.Diff.ToDiff())
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: submit: %w", i, err)
		}

		event := traceEvent(i, out)
		result.Trace = append(result.Trace, event)
		checkExpect(result, i, step.Expect, out)
	}

	if err := runAssertions(ctx, st, scenario, result); err != nil {
		return nil, err
	}

	eng.Stop()
	cancel()
	<-engineDone

	return result, nil
}

func bootstrapProjects(scenario *Scenario) []store.BootstrapProject {
	out := make([]store.BootstrapProject, 0, len(scenario.Projects))
	for _, p := range scenario.Projects {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		out = append(out, store.BootstrapProject{
			ProjectID:    p.ID,
			Name:         name,
			OwnerUserIDs: p.Owners,
		})
	}
	return out
}

func traceEvent(step int, out engine.Outcome) TraceEvent {
	event := TraceEvent{
		Step:        step,
		EventID:     out.EventID,
		Disposition: string(out.Disposition),
		NoOpReason:  string(out.NoOpReason),
	}
	if out.Rejection != nil {
		event.Rejection = string(out.Rejection.Code)
	}
	if out.Commit != nil {
		event.Sequence = out.Commit.SequenceNumber
		event.CommitID = out.Commit.ID
		event.Summary = out.Commit.Summary
	}
	for _, conflict := range out.Conflicts {
		event.Conflicts = append(event.Conflicts, TraceConflict{
			Kind:     string(conflict.Kind),
			Notified: conflict.NotifiedUserIDs,
		})
	}
	return event
}

// checkExpect compares a step outcome against its expect clause. Only
// set fields are checked.
func checkExpect(result *Result, step int, expect *ExpectClause, out engine.Outcome) {
	if expect == nil {
		return
	}

	if expect.Rejection != "" {
		if out.Rejection == nil {
			result.AddError(fmt.Sprintf("steps[%d]: expected rejection %s, got disposition %q", step, expect.Rejection, out.Disposition))
		} else if string(out.Rejection.Code) != expect.Rejection {
			result.AddError(fmt.Sprintf("steps[%d]: expected rejection %s, got %s", step, expect.Rejection, out.Rejection.Code))
		}
		return
	}
	if out.Rejection != nil {
		result.AddError(fmt.Sprintf("steps[%d]: unexpected rejection %s: %s", step, out.Rejection.Code, out.Rejection.Message))
		return
	}

	if expect.Disposition != "" && string(out.Disposition) != expect.Disposition {
		result.AddError(fmt.Sprintf("steps[%d]: expected disposition %q, got %q", step, expect.Disposition, out.Disposition))
	}
	if expect.NoOpReason != "" && string(out.NoOpReason) != expect.NoOpReason {
		result.AddError(fmt.Sprintf("steps[%d]: expected no-op reason %q, got %q", step, expect.NoOpReason, out.NoOpReason))
	}
	if expect.Sequence != 0 {
		if out.Commit == nil {
			result.AddError(fmt.Sprintf("steps[%d]: expected sequence %d but no commit was created", step, expect.Sequence))
		} else if out.Commit.SequenceNumber != expect.Sequence {
			result.AddError(fmt.Sprintf("steps[%d]: expected sequence %d, got %d", step, expect.Sequence, out.Commit.SequenceNumber))
		}
	}

	if expect.Conflicts != nil {
		got := make([]string, 0, len(out.Conflicts))
		for _, conflict := range out.Conflicts {
			got = append(got, string(conflict.Kind))
		}
		if len(got) != len(expect.Conflicts) {
			result.AddError(fmt.Sprintf("steps[%d]: expected conflicts %v, got %v", step, expect.Conflicts, got))
		} else {
			for j := range got {
				if got[j] != expect.Conflicts[j] {
					result.AddError(fmt.Sprintf("steps[%d]: expected conflicts %v, got %v", step, expect.Conflicts, got))
					break
				}
			}
		}
	}
}
