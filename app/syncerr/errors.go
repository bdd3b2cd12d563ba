package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the pipeline reacts to it.
type Kind int

const (
	// Transient failures (network, timeout) are retried on the next poll cycle.
	Transient Kind = iota + 1
	// Validation failures drop the offending remote item.
	Validation
	// Persistence failures roll back the item's transaction.
	Persistence
	// Fatal failures abandon a worker slot for the current cycle.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Validation:
		return "validation"
	case Persistence:
		return "persistence"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func NewTransient(op string, err error) error {
	return New(Transient, op, err)
}

func NewValidation(op string, err error) error {
	return New(Validation, op, err)
}

func NewPersistence(op string, err error) error {
	return New(Persistence, op, err)
}

func NewFatal(op string, err error) error {
	return New(Fatal, op, err)
}

// KindOf returns the kind of the first classified error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
