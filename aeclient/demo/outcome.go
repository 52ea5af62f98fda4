package demo

import (
	"fmt"
	"time"

	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/schema"
)

// Result is whether a step succeeded
type Result int

const (
	Success Result = iota
	Failure
)

// String returns the label used in logs and metrics
func (r Result) String() string {
	if r == Failure {
		return "failure"
	}
	return "success"
}

// FailureReason classifies why a step failed
type FailureReason int

const (
	ReasonNone FailureReason = iota
	// ReasonUnsupportedOperation means the encrypted-column rules rejected the statement
	ReasonUnsupportedOperation
	ReasonOther
)

// String returns the label used in logs
func (r FailureReason) String() string {
	switch r {
	case ReasonUnsupportedOperation:
		return "unsupported_operation"
	case ReasonOther:
		return "other"
	default:
		return "none"
	}
}

// Classify maps a step error to its failure reason
func Classify(err error) FailureReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.IsUnsupportedOperation(err):
		return ReasonUnsupportedOperation
	default:
		return ReasonOther
	}
}

// Expectation is the result a step is documented to produce
type Expectation struct {
	Result Result
	Reason FailureReason
}

// ExpectSuccess expects the step to succeed
func ExpectSuccess() Expectation {
	return Expectation{Result: Success, Reason: ReasonNone}
}

// ExpectUnsupported expects the step to be rejected by the encrypted-column rules
func ExpectUnsupported() Expectation {
	return Expectation{Result: Failure, Reason: ReasonUnsupportedOperation}
}

// String renders the expectation for logs
func (e Expectation) String() string {
	if e.Result == Success {
		return "success"
	}
	return fmt.Sprintf("failure (%s)", e.Reason)
}

// Value is what a successful step produced
type Value struct {
	Rows  []schema.Customer
	Count int
	ID    int64
}

// Outcome is the explicit result of one step
type Outcome struct {
	Scenario string
	Step     int
	Name     string
	Expected Expectation
	Result   Result
	Reason   FailureReason
	Err      error
	Value    Value
	Duration time.Duration
}

// Matched reports whether the step behaved as documented
func (o Outcome) Matched() bool {
	if o.Result != o.Expected.Result {
		return false
	}
	return o.Result == Success || o.Reason == o.Expected.Reason
}

// Report collects the outcomes of a run
type Report struct {
	RunID    string
	Backend  string
	Started  time.Time
	Finished time.Time
	Outcomes []Outcome
	// Mismatches holds one error per step that did not behave as documented
	Mismatches *errors.ErrorCollector
}

func newReport(runID, backend string) *Report {
	return &Report{
		RunID:      runID,
		Backend:    backend,
		Started:    time.Now(),
		Mismatches: errors.NewErrorCollector(64),
	}
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if !o.Matched() {
		r.Mismatches.Add(fmt.Errorf("scenario %s step %d (%s): expected %s, got %s: %v",
			o.Scenario, o.Step, o.Name, o.Expected, describeActual(o), o.Err))
	}
}

func describeActual(o Outcome) string {
	if o.Result == Success {
		return "success"
	}
	return fmt.Sprintf("failure (%s)", o.Reason)
}

// Scenario returns the outcomes of one scenario in step order
func (r *Report) Scenario(name string) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Scenario == name {
			out = append(out, o)
		}
	}
	return out
}

// Find returns the outcome of a named step
func (r *Report) Find(scenario, step string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Scenario == scenario && o.Name == step {
			return o, true
		}
	}
	return Outcome{}, false
}

// OK reports whether every step behaved as documented
func (r *Report) OK() bool {
	return !r.Mismatches.HasErrors()
}

// Err returns the mismatches as a single error, or nil
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return r.Mismatches.ToDBError("demo")
}
