package pipeline

import (
	"errors"
	"time"

	"vitafit/internal/llm"
)

// State is the terminal state of one generation attempt.
type State string

const (
	StateAccepted State = "accepted"
	StatePartial  State = "partial"
	StateRejected State = "rejected"
)

// Decision tells the caller what to do with an outcome.
type Decision string

const (
	DecisionPersist Decision = "persist"
	DecisionRetry   Decision = "retry"
	DecisionFail    Decision = "fail"
)

// Outcome is the classified result of a generation.
type Outcome struct {
	State    State
	Decision Decision
	Result   *StructuredResult
	Missing  []string
	Err      error

	// Set by Pipeline.Run.
	RequestID string
	Attempts  int
	Model     string
	Latency   time.Duration
	Saved     bool
}

// Classify maps a validation result to an outcome. It is a pure mapping;
// retrying on DecisionRetry is up to the caller.
func Classify(res *StructuredResult, err error) Outcome {
	switch {
	case err != nil:
		return Outcome{State: StateRejected, Decision: retryable(err), Err: err}
	case res == nil:
		return Outcome{State: StateRejected, Decision: DecisionFail, Err: ErrMalformedOutput}
	case len(res.Missing) > 0:
		return Outcome{
			State:    StatePartial,
			Decision: DecisionPersist,
			Result:   res,
			Missing:  append([]string(nil), res.Missing...),
		}
	default:
		return Outcome{State: StateAccepted, Decision: DecisionPersist, Result: res}
	}
}

// retryable reports whether a fresh invocation could plausibly succeed.
func retryable(err error) Decision {
	var rejected *llm.RejectedError
	switch {
	case errors.Is(err, ErrMalformedOutput), errors.Is(err, ErrSchemaViolation):
		return DecisionRetry
	case errors.As(err, &rejected):
		if rejected.Transient() {
			return DecisionRetry
		}
		return DecisionFail
	case llm.IsUnavailable(err):
		return DecisionRetry
	default:
		return DecisionFail
	}
}
