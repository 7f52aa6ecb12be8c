package repo

import (
	"errors"
	"fmt"
)

// Kind classifies a storage failure so callers can branch on it.
type Kind string

const (
	KindUnavailable Kind = "unavailable" // connection or pool failure, retryable
	KindConstraint  Kind = "constraint"
	KindInvalid     Kind = "invalid" // rejected before reaching the database
	KindQuery       Kind = "query"
)

var ErrUnsupportedBackend = errors.New("unsupported storage backend")

type StorageError struct {
	Op      string
	Backend string
	Kind    Kind
	Err     error
}

func (e *StorageError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Backend, e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// KindOf returns the kind of the first StorageError in err's chain, or "".
func KindOf(err error) Kind {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }
