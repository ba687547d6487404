package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dendritehq/dendrite/internal/store"
	"github.com/dendritehq/dendrite/internal/truth"
)

type testEnv struct {
	eng    *Engine
	st     *store.Store
	cancel context.CancelFunc
	done   chan error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	now := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	st.SetNowFunc(now)

	ctx := context.Background()
	require.NoError(t, st.Bootstrap(ctx, []store.BootstrapProject{
		{ProjectID: "checkout", Name: "Checkout", OwnerUserIDs: []string{"owner-1"}},
		{ProjectID: "billing", Name: "Billing", OwnerUserIDs: []string{"owner-2"}},
		{ProjectID: "ledger", Name: "Ledger", OwnerUserIDs: []string{"owner-2", "owner-3"}},
	}))

	eng := New(st, Options{
		Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		IDs: NewPrefixGenerator("t"),
		Projects: map[string]bool{
			"checkout": true, "billing": true, "ledger": true,
		},
		Owners: OwnerDirectory{
			"checkout": {"owner-1"},
			"billing":  {"owner-2"},
			"ledger":   {"owner-2", "owner-3"},
		},
		Now: now,
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()

	env := &testEnv{eng: eng, st: st, cancel: cancel, done: done}
	t.Cleanup(func() {
		eng.Stop()
		cancel()
		<-done
	})
	return env
}

func upsert(eventID, actor, project, key, value string) truth.ProposedDiff {
	return truth.ProposedDiff{
		Kind:          truth.DiffConstraintUpsert,
		ActorID:       actor,
		SourceEventID: eventID,
		Reason:        "test",
		Constraint: &truth.ConstraintChange{
			ProjectID: project,
			Key:       key,
			Value:     value,
			Reason:    "test",
		},
	}
}

func depAdd(eventID, actor, from, to string) truth.ProposedDiff {
	return truth.ProposedDiff{
		Kind:          truth.DiffDependencyAdd,
		ActorID:       actor,
		SourceEventID: eventID,
		Reason:        "test",
		Dependency: &truth.DependencyChange{
			FromProjectID: from,
			ToProjectID:   to,
			Reason:        "test",
		},
	}
}

func TestSubmitCommitsConstraint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out, err := env.eng.Submit(ctx, upsert("evt-1", "user-1", "checkout", "payment", "stripe"))
	require.NoError(t, err)
	require.False(t, out.Rejected())
	assert.Equal(t, store.DispositionCommitted, out.Disposition)
	require.NotNil(t, out.Commit)
	assert.Equal(t, int64(1), out.Commit.SequenceNumber)
	assert.Empty(t, out.Conflicts)
}

func TestValueConflictDetectedEitherOrder(t *testing.T) {
	for _, firstActor := range []string{"user-1", "user-2"} {
		secondActor := "user-2"
		if firstActor == "user-2" {
			secondActor = "user-1"
		}

		t.Run(firstActor+"_first", func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			_, err := env.eng.Submit(ctx, upsert("evt-1", firstActor, "checkout", "payment", "stripe"))
			require.NoError(t, err)

			out, err := env.eng.Submit(ctx, upsert("evt-2", secondActor, "checkout", "payment", "adyen"))
			require.NoError(t, err)
			assert.Equal(t, store.DispositionCommitted, out.Disposition)
			require.Len(t, out.Conflicts, 1)

			conflict := out.Conflicts[0]
			assert.Equal(t, truth.ValueConflict, conflict.Kind)
			assert.Equal(t, "stripe", conflict.Details.ExistingValue)
			assert.Equal(t, "adyen", conflict.Details.NewValue)
			assert.Equal(t, firstActor, conflict.Details.ExistingAuthorID)
			assert.Equal(t, secondActor, conflict.Details.NewAuthorID)

			// Both authors plus the project owner, sorted, deduped.
			assert.Equal(t, []string{"owner-1", "user-1", "user-2"}, conflict.NotifiedUserIDs)

			// The report is persisted against the triggering commit.
			stored, err := env.st.ConflictsForCommit(ctx, out.Commit.ID)
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, conflict.NotifiedUserIDs, stored[0].NotifiedUserIDs)
		})
	}
}

func TestSameValueIsNoOpNotConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.eng.Submit(ctx, upsert("evt-1", "user-1", "checkout", "payment", "stripe"))
	require.NoError(t, err)

	out, err := env.eng.Submit(ctx, upsert("evt-2", "user-2", "checkout", "payment", "stripe"))
	require.NoError(t, err)
	assert.Equal(t, store.DispositionNoOp, out.Disposition)
	assert.Equal(t, store.DuplicateConstraintValue, out.NoOpReason)
	assert.Empty(t, out.Conflicts)
}

func TestVisuallyIdenticalValuesCompareEqual(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.eng.Submit(ctx, upsert("evt-1", "user-1", "checkout", "name", "café"))
	require.NoError(t, err)

	// NFD spelling of the same string: no conflict, no new commit.
	out, err := env.eng.Submit(ctx, upsert("evt-2", "user-2", "checkout", "name", "café"))
	require.NoError(t, err)
	assert.Equal(t, store.DispositionNoOp, out.Disposition)
}

func TestDependencyCycleDetected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.eng.Submit(ctx, depAdd("evt-1", "user-1", "checkout", "billing"))
	require.NoError(t, err)
	_, err = env.eng.Submit(ctx, depAdd("evt-2", "user-1", "billing", "ledger"))
	require.NoError(t, err)

	out, err := env.eng.Submit(ctx, depAdd("evt-3", "user-2", "ledger", "checkout"))
	require.NoError(t, err)
	assert.Equal(t, store.DispositionCommitted, out.Disposition, "cycle commits stand")
	require.Len(t, out.Conflicts, 1)

	conflict := out.Conflicts[0]
	assert.Equal(t, truth.DependencyCycle, conflict.Kind)
	assert.Equal(t, []string{"ledger", "checkout", "billing", "ledger"}, conflict.Details.CyclePath)
	// Actor plus owners of both closing-edge endpoints.
	assert.Equal(t, []string{"owner-1", "owner-2", "owner-3", "user-2"}, conflict.NotifiedUserIDs)
}

func TestSelfLoopIsCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out, err := env.eng.Submit(ctx, depAdd("evt-1", "user-1", "checkout", "checkout"))
	require.NoError(t, err)
	assert.Equal(t, store.DispositionCommitted, out.Disposition)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, []string{"checkout", "checkout"}, out.Conflicts[0].Details.CyclePath)
	assert.Equal(t, []string{"owner-1", "user-1"}, out.Conflicts[0].NotifiedUserIDs)
}

func TestUnknownProjectCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out, err := env.eng.Submit(ctx, upsert("evt-1", "user-1", "ghost", "k", "v"))
	require.NoError(t, err)
	require.True(t, out.Rejected())
	assert.Equal(t, truth.RejectUnknownProject, out.Rejection.Code)
	assert.Equal(t, []string{"billing", "checkout", "ledger"}, out.Rejection.ValidProjects)

	count, err := env.st.CountCommits(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	event, err := env.st.Event(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, truth.StatusUnknownProject, event.Status)
}

func TestSchemaInvalidRecordedAsError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	diff := upsert("evt-1", "user-1", "checkout", "k", "v")
	diff.Constraint.Value = "   "

	out, err := env.eng.Submit(ctx, diff)
	require.NoError(t, err)
	require.True(t, out.Rejected())
	assert.Equal(t, truth.RejectSchemaInvalid, out.Rejection.Code)

	event, err := env.st.Event(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, truth.StatusError, event.Status)
}

func TestReplayReconstructsConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.eng.Submit(ctx, upsert("evt-1", "user-1", "checkout", "payment", "stripe"))
	require.NoError(t, err)
	first, err := env.eng.Submit(ctx, upsert("evt-2", "user-2", "checkout", "payment", "adyen"))
	require.NoError(t, err)
	require.Len(t, first.Conflicts, 1)

	replay, err := env.eng.Submit(ctx, upsert("evt-2", "user-2", "checkout", "payment", "adyen"))
	require.NoError(t, err)
	assert.Equal(t, store.DispositionReplayed, replay.Disposition)
	require.NotNil(t, replay.Commit)
	assert.Equal(t, first.Commit.ID, replay.Commit.ID)
	require.Len(t, replay.Conflicts, 1)
	assert.Equal(t, first.Conflicts[0].NotifiedUserIDs, replay.Conflicts[0].NotifiedUserIDs)
}

func TestReplayOfNoOpKeepsReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.eng.Submit(ctx, upsert("evt-1", "user-1", "checkout", "payment", "stripe"))
	require.NoError(t, err)
	_, err = env.eng.Submit(ctx, upsert("evt-2", "user-2", "checkout", "payment", "stripe"))
	require.NoError(t, err)

	replay, err := env.eng.Submit(ctx, upsert("evt-2", "user-2", "checkout", "payment", "stripe"))
	require.NoError(t, err)
	assert.Equal(t, store.DispositionReplayed, replay.Disposition)
	assert.Equal(t, store.DuplicateConstraintValue, replay.NoOpReason)
	assert.Nil(t, replay.Commit)
}

func TestSubmitAfterStop(t *testing.T) {
	env := newTestEnv(t)
	env.eng.Stop()
	<-env.done
	env.done <- nil // keep cleanup happy

	_, err := env.eng.Submit(context.Background(), upsert("evt-1", "user-1", "checkout", "k", "v"))
	require.Error(t, err)
	var pe *ProcessError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeEngineStopped, pe.Code)
}

func TestSubmissionsAreSerialized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	results := make(chan int64, 10)
	for i := 0; i < 10; i++ {
		go func(n int) {
			out, err := env.eng.Submit(ctx, upsert(
				"evt-c"+string(rune('a'+n)), "user-1", "checkout", "key"+string(rune('a'+n)), "v"))
			if err != nil || out.Commit == nil {
				results <- -1
				return
			}
			results <- out.Commit.SequenceNumber
		}(i)
	}

	seen := make(map[int64]bool)
	for i := 0; i < 10; i++ {
		seq := <-results
		require.Greater(t, seq, int64(0))
		require.False(t, seen[seq], "duplicate sequence %d", seq)
		seen[seq] = true
	}
	// Ten concurrent submissions, ten distinct contiguous sequences.
	for want := int64(1); want <= 10; want++ {
		assert.True(t, seen[want], "missing sequence %d", want)
	}
}
