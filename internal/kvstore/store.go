// Package kvstore is the persistence collaborator for tokens and ACLs: a
// string-keyed byte store with an atomic compare-and-swap, backed by memory,
// SQLite, PostgreSQL or Badger.
package kvstore

import (
	"context"
)

// Store is the capability every driver provides. Missing keys are reported
// as common.ErrorNotFound.
type Store interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Create writes value only if key is absent, otherwise it returns
	// common.ErrorAlreadyExists.
	Create(ctx context.Context, key string, value []byte) error

	// CompareAndSwap replaces the value under key with next only if the
	// current value equals prev. It reports false when another writer got
	// there first and common.ErrorNotFound when the key is gone.
	CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key/value pair whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	// Close releases driver resources.
	Close() error
}
