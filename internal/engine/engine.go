package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dendritehq/dendrite/internal/store"
	"github.com/dendritehq/dendrite/internal/truth"
)

// Outcome is the terminal result of one diff submission. Exactly one of
// three shapes applies: a rejection (Rejection set, no disposition), a
// processed outcome (Disposition set), or an error returned alongside.
type Outcome struct {
	EventID     string                 `json:"event_id"`
	Disposition store.Disposition      `json:"disposition,omitempty"`
	NoOpReason  store.NoOpReason       `json:"no_op_reason,omitempty"`
	Commit      *truth.Commit          `json:"commit,omitempty"`
	Conflicts   []truth.ConflictReport `json:"conflicts,omitempty"`
	Rejection   *truth.Rejection       `json:"rejection,omitempty"`
}

// Rejected reports whether the diff was refused before any mutation.
func (o Outcome) Rejected() bool {
	return o.Rejection != nil
}

// Options configures an Engine. Zero-value fields get production
// defaults; tests override IDs, Cycles and Now for determinism.
type Options struct {
	Log     *slog.Logger
	IDs     IDGenerator
	Cycles  CycleFinder
	Metrics *Metrics

	// Projects is the closed set of known project ids from bootstrap.
	Projects map[string]bool

	// Owners maps project id to owner user ids, for notification routing.
	Owners OwnerDirectory

	// Now stamps conflict reports. Defaults to time.Now.
	Now func() time.Time
}

// Engine is the single writer. All truth mutations flow through its run
// loop one at a time; callers submit diffs and wait for the outcome.
type Engine struct {
	log     *slog.Logger
	store   *store.Store
	ids     IDGenerator
	cycles  CycleFinder
	metrics *Metrics

	projects map[string]bool
	owners   OwnerDirectory
	now      func() time.Time

	queue *submissionQueue
}

func New(st *store.Store, opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.IDs == nil {
		opts.IDs = UUIDv7Generator{}
	}
	if opts.Cycles == nil {
		opts.Cycles = NewCycleFinder()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		log:      opts.Log,
		store:    st,
		ids:      opts.IDs,
		cycles:   opts.Cycles,
		metrics:  opts.Metrics,
		projects: opts.Projects,
		owners:   opts.Owners,
		now:      opts.Now,
		queue:    newSubmissionQueue(),
	}
}

// KnownProjects returns the bootstrap project set the engine validates
// against.
func (e *Engine) KnownProjects() map[string]bool {
	return e.projects
}

// Submit hands a proposed diff to the run loop and waits for its
// outcome. Safe for concurrent use. Returns ErrCodeEngineStopped when
// the engine is shut down, or ctx.Err() when the caller gives up first;
// in the latter case the diff may still be processed.
func (e *Engine) Submit(ctx context.Context, diff truth.ProposedDiff) (Outcome, error) {
	sub := submission{diff: diff, reply: make(chan submissionResult, 1)}
	if !e.queue.Enqueue(sub) {
		return Outcome{}, &ProcessError{
			Code:    ErrCodeEngineStopped,
			Message: "engine is not accepting submissions",
			EventID: diff.SourceEventID,
		}
	}
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case res := <-sub.reply:
		return res.outcome, res.err
	}
}

// Stop closes the submission queue. Run drains what is already queued,
// then returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Run is the single-writer loop. It processes queued submissions in
// FIFO order until the context is cancelled or Stop is called. Only one
// Run per engine.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine started")
	defer e.log.Info("engine stopped")

	for {
		if sub, ok := e.queue.TryDequeue(); ok {
			out, err := e.process(ctx, sub.diff)
			sub.reply <- submissionResult{outcome: out, err: err}
			continue
		}

		select {
		case <-ctx.Done():
			e.failPending()
			return ctx.Err()
		case _, open := <-e.queue.Wait():
			if !open {
				e.drainAfterStop(ctx)
				return nil
			}
		}
	}
}

// drainAfterStop finishes submissions that were queued before Stop.
func (e *Engine) drainAfterStop(ctx context.Context) {
	for _, sub := range e.queue.drain() {
		out, err := e.process(ctx, sub.diff)
		sub.reply <- submissionResult{outcome: out, err: err}
	}
}

// failPending answers queued submissions after a cancelled context.
func (e *Engine) failPending() {
	e.queue.Close()
	for _, sub := range e.queue.drain() {
		sub.reply <- submissionResult{err: &ProcessError{
			Code:    ErrCodeEngineStopped,
			Message: "engine is not accepting submissions",
			EventID: sub.diff.SourceEventID,
		}}
	}
}

// process runs one diff through the full pipeline: validate, apply,
// detect conflicts, route notifications. Rejections and no-ops are
// outcomes, not errors; only storage-level failures surface as errors.
func (e *Engine) process(ctx context.Context, diff truth.ProposedDiff) (Outcome, error) {
	eventID := truth.Normalize(diff.SourceEventID)

	validated, rej := truth.ValidateDiff(diff, e.projects)
	if rej != nil {
		return e.reject(ctx, eventID, rej)
	}
	eventID = validated.SourceEventID

	payload, err := truth.MarshalCanonical(validated)
	if err != nil {
		return Outcome{}, newStorageFailure(eventID, err)
	}

	req := store.ApplyRequest{
		Diff:     validated,
		Payload:  payload,
		CommitID: e.ids.NewID(),
	}
	switch validated.Kind {
	case truth.DiffConstraintUpsert:
		req.ConstraintID = e.ids.NewID()
	case truth.DiffDependencyAdd:
		req.DependencyID = e.ids.NewID()
	}

	res, err := e.store.Apply(ctx, req)
	if err != nil {
		if errors.Is(err, store.ErrSequenceConflict) {
			return Outcome{}, newRetryableConflict(eventID, err)
		}
		return Outcome{}, newStorageFailure(eventID, err)
	}

	switch res.Disposition {
	case store.DispositionReplayed:
		return e.replayOutcome(ctx, eventID, res)
	case store.DispositionNoOp:
		e.metrics.NoOpsTotal.WithLabelValues(string(res.NoOpReason)).Inc()
		e.log.Info("no-op diff",
			"event_id", eventID,
			"reason", string(res.NoOpReason))
		return Outcome{
			EventID:     eventID,
			Disposition: res.Disposition,
			NoOpReason:  res.NoOpReason,
		}, nil
	}

	e.metrics.CommitsTotal.Inc()
	commit := res.Commit
	e.log.Info("diff committed",
		"event_id", eventID,
		"commit_id", commit.ID,
		"seq", commit.SequenceNumber,
		"project_id", commit.ProjectID)

	out := Outcome{
		EventID:     eventID,
		Disposition: res.Disposition,
		Commit:      &commit,
	}
	out.Conflicts = e.reportConflicts(ctx, validated, res)
	return out, nil
}

// reject records the terminal event status for a refused diff and
// returns it as an outcome. Duplicate rejections of the same event are
// absorbed by the idempotency record.
func (e *Engine) reject(ctx context.Context, eventID string, rej *truth.Rejection) (Outcome, error) {
	status := truth.StatusError
	if rej.Code == truth.RejectUnknownProject {
		status = truth.StatusUnknownProject
	}
	if eventID != "" {
		if err := e.store.RecordEventStatus(ctx, eventID, status, rej.Message); err != nil {
			return Outcome{}, newStorageFailure(eventID, err)
		}
	}
	e.metrics.RejectionsTotal.WithLabelValues(string(rej.Code)).Inc()
	e.log.Warn("diff rejected",
		"event_id", eventID,
		"code", string(rej.Code),
		"reason", rej.Message)
	return Outcome{EventID: eventID, Rejection: rej}, nil
}

// replayOutcome reconstructs the original outcome for a duplicate
// submission. No mutation happens: the commit and any conflict reports
// are read back from the first processing.
func (e *Engine) replayOutcome(ctx context.Context, eventID string, res store.ApplyResult) (Outcome, error) {
	e.metrics.ReplaysTotal.Inc()

	out := Outcome{EventID: eventID, Disposition: res.Disposition}
	if res.PriorEvent != nil && res.PriorEvent.Status == truth.StatusNoOpDuplicate {
		out.NoOpReason = store.NoOpReason(res.PriorEvent.ErrorReason)
	}
	if res.Commit.ID != "" {
		commit := res.Commit
		out.Commit = &commit
		conflicts, err := e.store.ConflictsForCommit(ctx, commit.ID)
		if err != nil {
			return Outcome{}, newStorageFailure(eventID, err)
		}
		out.Conflicts = conflicts
	}
	e.log.Info("duplicate event replayed", "event_id", eventID, "commit_id", res.Commit.ID)
	return out, nil
}

// reportConflicts runs detection for a committed diff and persists one
// report per conflict. The commit already stands; a failure here is
// logged and the submission still succeeds, because the report write is
// idempotent and recoverable while the commit is not.
func (e *Engine) reportConflicts(ctx context.Context, diff truth.ProposedDiff, res store.ApplyResult) []truth.ConflictReport {
	reports, err := detectConflicts(ctx, e.store, e.cycles, diff, res)
	if err != nil {
		e.log.Error("conflict detection failed",
			"commit_id", res.Commit.ID,
			"error", err)
		return nil
	}

	for i := range reports {
		r := &reports[i]
		r.ID = e.ids.NewID()
		r.CreatedAt = e.now().UTC()
		r.NotifiedUserIDs = recipients(
			diff.ActorID,
			r.Details.ExistingAuthorID,
			r.Details.ProjectRefs(),
			e.owners,
		)
		e.metrics.ConflictsTotal.WithLabelValues(string(r.Kind)).Inc()
		e.log.Warn("conflict detected",
			"commit_id", r.CommitID,
			"kind", string(r.Kind),
			"notified", r.NotifiedUserIDs)

		if err := e.store.WriteConflictReport(ctx, *r); err != nil {
			e.log.Error("conflict report write failed",
				"commit_id", r.CommitID,
				"kind", string(r.Kind),
				"error", err)
		}
	}
	return reports
}
