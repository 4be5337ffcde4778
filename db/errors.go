package db

import (
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a referenced conversation or message does not exist.
var ErrNotFound = errors.New("not found")

// StorageError reports a failure of the persistence layer itself, as opposed
// to a missing row.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: errors.WithStack(err)}
}

func notFound(kind string, id int64) error {
	return errors.Wrapf(ErrNotFound, "%s %d", kind, id)
}
