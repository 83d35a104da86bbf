package engine

import (
	"errors"

	"github.com/syncclock/timingsvc/internal/store"
)

func asConflict(err error, target **store.ConflictError) bool {
	return errors.As(err, target)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func isAlreadyExists(err error) bool {
	return errors.Is(err, store.ErrAlreadyExists)
}
