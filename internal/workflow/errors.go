package workflow

import "errors"

var (
	ErrBudgetExceeded     = errors.New("call budget exceeded")
	ErrInconsistentOutput = errors.New("narrative inconsistent with calculated output")
)
