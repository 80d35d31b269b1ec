package jobs

import "errors"

var (
	ErrNotFound   = errors.New("job not found")
	ErrJobTimeout = errors.New("job exceeded its maximum duration")
	ErrShutdown   = errors.New("job manager is shutting down")
)
