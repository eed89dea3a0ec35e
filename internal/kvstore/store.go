// Package kvstore holds the key-value backends the tracking stack persists
// identifiers, consent and session markers in. Absence of a key is a valid
// state, never an error.
package kvstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrStorageUnavailable wraps every backend read/write failure.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Store is a string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrStorageUnavailable, op, key, err)
}
