package dao

import (
	"context"
)

// Service persists entities of type T keyed by K. Implementations used for the
// run ledger and grader state must make Save atomic: a reader never observes
// a partially written entity.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	// Load returns ErrNotFound when the entity does not exist.
	Load(ctx context.Context, id K) (*T, error)

	// Delete returns ErrNotFound when the entity does not exist.
	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}

// Keyed is implemented by entities that know their storage key.
type Keyed interface {
	Key() string
}
