package store

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by drivers when a user has no record.
var ErrNotFound = errors.New("record not found")

// Driver persists one opaque record per user.
// Implementations must make Put atomic: a reader sees either the old or the new record.
type Driver interface {
	Migrate(ctx context.Context) error
	Get(ctx context.Context, userID string) ([]byte, error)
	Put(ctx context.Context, userID string, data []byte) error
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]string, error)
	// Location describes where a user's record lives, for diagnostics.
	Location(userID string) string
	Close() error
}
