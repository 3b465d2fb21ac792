package dao

import (
	"context"
	"errors"
)

// Common, reusable DAO errors.  Using sentinel variables allows callers to
// reliably detect error conditions via errors.Is/As instead of brittle string
// comparisons.

var (
	// ErrNotFound is returned when the requested entity does not exist in the
	// underlying storage.
	ErrNotFound = errors.New("dao: not found")

	// ErrInvalidID indicates that the supplied ID/key is empty or otherwise
	// invalid.
	ErrInvalidID = errors.New("dao: invalid id")

	// ErrNilEntity is returned when the caller attempts to persist a nil
	// pointer.
	ErrNilEntity = errors.New("dao: nil entity")

	// ErrCorrupt is returned when a stored document cannot be decoded.
	ErrCorrupt = errors.New("dao: corrupt entity")
)

// LoadOptional loads id, returning (nil, nil) when it does not exist.
func LoadOptional[K comparable, T any](ctx context.Context, svc Service[K, T], id K) (*T, error) {
	ret, err := svc.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return ret, err
}
