package harness

// Statement outcomes recorded in the trace.
const (
	OutcomeOK      = "ok"
	OutcomeDropped = "dropped"
	OutcomeRetried = "retried"
	OutcomeFailed  = "failed"
)

// TraceEvent is one statement handed to the backend.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Kind    string `json:"kind"`
	Table   string `json:"table"`
	Rows    int    `json:"rows"`
	SQL     string `json:"sql,omitempty"`
	Outcome string `json:"outcome"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions match.
	Pass bool `json:"pass"`

	// Received is the number of messages the engine consumed.
	Received int64 `json:"received"`

	// Trace contains every execute attempt in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the rows of every table the flow wrote, ordered by the
	// first column.
	State map[string][]map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string][]map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Count returns the number of trace events with the given outcome.
func (r *Result) Count(outcome string) int {
	n := 0
	for _, e := range r.Trace {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}
