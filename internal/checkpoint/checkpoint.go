package checkpoint

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get before the first checkpoint is written.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists the last fully processed block height (inclusive).
// Set must be crash-atomic: a reader sees either the old or the new height.
// A single poller owns a checkpoint key, so concurrent writers are not supported.
type Store interface {
	Get(ctx context.Context) (uint64, error)
	Set(ctx context.Context, height uint64) error
}
