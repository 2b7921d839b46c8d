// Package store defines the durable key-value abstraction the chat client
// persists its session id into. Implementations live in subpackages.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("store: key not found")

type SessionStore interface {
	// Get returns ErrNotFound when key has no value.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Remove is a no-op for missing keys.
	Remove(ctx context.Context, key string) error
}
