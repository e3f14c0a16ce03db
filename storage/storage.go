package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when no snapshot exists for the key.
var ErrNotFound = errors.New("snapshot not found")

// Store is the durable medium cart snapshots are written to. Implementations
// treat the payload as opaque bytes; the cart engine owns the encoding.
type Store interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
