package generative

import "errors"

var (
	// ErrGenerationFailed is returned once the adapter has given up on a request.
	ErrGenerationFailed = errors.New("generation failed")
	ErrMalformedOutput  = errors.New("malformed generative output")

	ErrUnauthorized  = errors.New("reasoning service unauthorized")
	ErrUnavailable   = errors.New("reasoning service unavailable")
	ErrRateLimited   = errors.New("reasoning service rate limited")
	ErrEmptyResponse = errors.New("reasoning service empty response")

	errAttemptTimeout = errors.New("attempt timed out")
)
