package harness

// TraceEvent is the recorded outcome of one scenario step.
type TraceEvent struct {
	Step        int             `json:"step"`
	EventID     string          `json:"event_id"`
	Disposition string          `json:"disposition,omitempty"`
	Rejection   string          `json:"rejection,omitempty"`
	NoOpReason  string          `json:"no_op_reason,omitempty"`
	Sequence    int64           `json:"sequence,omitempty"`
	CommitID    string          `json:"commit_id,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Conflicts   []TraceConflict `json:"conflicts,omitempty"`
}

// TraceConflict is the trace form of one conflict report.
type TraceConflict struct {
	Kind     string   `json:"kind"`
	Notified []string `json:"notified"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in submission order. It is the
	// payload compared against golden files.
	Trace []TraceEvent `json:"trace"`

	// Errors lists every expectation or assertion that failed.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result to accumulate into.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
