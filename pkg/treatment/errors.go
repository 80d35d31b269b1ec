package treatment

import "errors"

var (
	// ErrInvalidInput marks malformed or out-of-range tool arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrIncompleteTrain is returned when a targeted parameter has no removal step in the train.
	ErrIncompleteTrain = errors.New("incomplete treatment train")
)
