package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers unknown codes as well as expired ones; callers
	// must not be able to tell the two apart.
	ErrNotFound = errors.New("drop not found")
	// ErrInvalidCode is returned before any storage access when a code is
	// not six characters of [A-Z0-9].
	ErrInvalidCode        = errors.New("invalid drop code")
	ErrCodeSpaceExhausted = errors.New("could not allocate a free drop code")
	ErrNoFiles            = errors.New("a drop needs at least one file")
	ErrInvalidFileName    = errors.New("invalid file name")
	ErrSizeMismatch       = errors.New("written size does not match declared size")
)

// IOError is a failure of the underlying storage volume (disk full,
// permission denied, interrupted write). The message carries the path for
// logs; the HTTP layer never echoes it to clients.
type IOError struct {
	Op   string
	Code string
	Err  error
}

func (e *IOError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Code, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func ioErr(op, code string, err error) error {
	return &IOError{Op: op, Code: code, Err: err}
}
