package registry

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
var (
	ErrNoCredential = errors.New("registry: credential required")
	ErrBadResponse  = errors.New("registry: malformed response")
)

// StatusError is a non-success HTTP answer from the registry.
type StatusError struct {
	Op     string // "check" or "upload"
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("registry %s: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("registry %s: HTTP %d: %s", e.Op, e.Status, e.Body)
}

// Error wraps a transport-level failure with the operation that hit it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
