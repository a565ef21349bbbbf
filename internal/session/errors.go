package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned when a session is started while another
	// one is still live for the same user.
	ErrAlreadyActive = errors.New("a session is already active")
	// ErrNoActiveSession is returned by operations that need a live session
	// and cannot treat its absence as a no-op.
	ErrNoActiveSession = errors.New("no active session")
	// ErrPersistence matches every *PersistenceError.
	ErrPersistence = errors.New("persistence failure")
	// ErrPromptResolved is returned when a decision is made on a prompt that
	// has already been resolved.
	ErrPromptResolved = errors.New("prompt already resolved")
	// ErrInvalidInput flags malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyFinalized is returned by a Gateway when a session was already
	// finalized with a different outcome. Finalized records are never rewritten.
	ErrAlreadyFinalized = errors.New("session already finalized")
)

// PersistenceError wraps a gateway failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPersistence) match any PersistenceError.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
