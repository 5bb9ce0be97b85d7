package remote

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("remote resource not found")
	ErrUnauthorized = errors.New("remote cart rejected credentials")
	ErrNoToken      = errors.New("no access token available")
)

// StatusError is returned for any unexpected HTTP status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Temporary reports whether retrying the call could succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 429
}
