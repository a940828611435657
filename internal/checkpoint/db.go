package checkpoint

import (
	"context"
	"fmt"
)

// StateBackend is a keyed block-height table such as indexer_state.
type StateBackend interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, block uint64) error
}

// DBStore stores the checkpoint under a single key of a StateBackend.
type DBStore struct {
	backend StateBackend
	key     string
}

func NewDBStore(backend StateBackend, key string) *DBStore {
	return &DBStore{backend: backend, key: key}
}

func (s *DBStore) Get(ctx context.Context) (uint64, error) {
	block, ok, err := s.backend.LoadState(ctx, s.key)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint %s: %w", s.key, err)
	}
	if !ok {
		return 0, ErrNotFound
	}
	return block, nil
}

func (s *DBStore) Set(ctx context.Context, height uint64) error {
	if err := s.backend.SaveState(ctx, s.key, height); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", s.key, err)
	}
	return nil
}
