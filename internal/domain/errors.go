package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrUpstream        = errors.New("upstream request failed")
	ErrPlayerNotFound  = errors.New("player not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrInternalError   = errors.New("internal server error")
	ErrFeatureDisabled = errors.New("feature not enabled")
)

// UpstreamError reports a failed call to the game platform API
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUpstream) true for every UpstreamError
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// IsUpstreamError checks if an error came from the game platform API
func IsUpstreamError(err error) bool {
	return errors.Is(err, ErrUpstream)
}
