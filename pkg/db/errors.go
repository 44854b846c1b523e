package db

import (
	"errors"
	"fmt"

	"github.com/canopy-network/roscax/pkg/db/entities"
)

// ErrNotFound is matched by every missing-row error returned from a store.
var ErrNotFound = errors.New("not found")

// NotFoundError names the entity and key that were looked up.
type NotFoundError struct {
	Entity entities.Entity
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity.Singular(), e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound builds a NotFoundError.
func NotFound(entity entities.Entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// IsNotFound reports whether err matches ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
