package queue

import "errors"

type unrecoverableError struct {
	err error
}

// Unrecoverable marks err as final: the job fails immediately without further
// attempts and without invoking the failed hooks.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

func (e *unrecoverableError) Error() string { return "unrecoverable: " + e.err.Error() }

func (e *unrecoverableError) Unwrap() error { return e.err }

// IsUnrecoverable reports whether err was marked with Unrecoverable.
func IsUnrecoverable(err error) bool {
	var u *unrecoverableError
	return errors.As(err, &u)
}
