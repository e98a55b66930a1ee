package calc

import (
	"errors"
	"fmt"
)

// ErrEvaluation matches every *EvaluationError via errors.Is.
var ErrEvaluation = errors.New("evaluation failed")

// EvaluationError carries the service's diagnostic for one request. The
// client never retries; callers decide what to do with it.
type EvaluationError struct {
	Node     int
	Terminal string
	Message  string
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("calc: evaluate node %d terminal %s: %s", e.Node, e.Terminal, e.Message)
}

// Is reports ErrEvaluation as a match.
func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluation
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

func evaluationError(req Request, err error) error {
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return err
	}
	return &EvaluationError{Node: req.Node, Terminal: req.Terminal, Message: err.Error(), Err: err}
}
