package engine

import (
	"sync"

	"github.com/dendritehq/dendrite/internal/truth"
)

// submission pairs a proposed diff with the channel its outcome is
// delivered on. The reply channel is buffered (size 1) so the run loop
// never blocks on a caller that gave up waiting.
type submission struct {
	diff  truth.ProposedDiff
	reply chan submissionResult
}

type submissionResult struct {
	outcome Outcome
	err     error
}

// submissionQueue is a thread-safe FIFO queue for diff submissions.
//
// Thread-safety is provided for external enqueuing (HTTP handlers, CLI)
// while the engine's Run loop dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type submissionQueue struct {
	mu     sync.Mutex
	subs   []submission
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newSubmissionQueue() *submissionQueue {
	return &submissionQueue{
		subs:   make([]submission, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a submission to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *submissionQueue) Enqueue(s submission) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.subs = append(q.subs, s)

	// Non-blocking signal - buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (submission{}, false) if the queue is empty.
func (q *submissionQueue) TryDequeue() (submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.subs) == 0 {
		return submission{}, false
	}

	s := q.subs[0]

	// Nil out the slot so the backing array doesn't retain the reply
	// channel and diff payload until reallocation.
	q.subs[0] = submission{}
	if len(q.subs) == 1 {
		q.subs = q.subs[:0]
	} else {
		q.subs = q.subs[1:]
	}

	return s, true
}

// Wait returns a channel that signals when submissions may be available.
// Use with select alongside ctx.Done().
func (q *submissionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *submissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subs)
}

// Close signals that no more submissions will be accepted.
// Wakes any blocked waiters by closing the signal channel.
func (q *submissionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// drain returns any submissions still queued after Close, so the engine
// can fail them instead of leaving callers waiting.
func (q *submissionQueue) drain() []submission {
	q.mu.Lock()
	defer q.mu.Unlock()

	rest := q.subs
	q.subs = nil
	return rest
}
