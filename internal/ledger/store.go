package ledger

import (
	"context"
	"ms-tiket/internal/models"
	"sync"
)

// Store persists committed ledger state.
//
// Commit must write every record in m or none of them. When hook is non-nil
// it runs inside the same commit boundary after the records are staged; a
// hook error aborts the commit.
type Store interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	Commit(ctx context.Context, m models.Mutation, hook func(ctx context.Context) error) error
}

// MemoryStore keeps the committed snapshot in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	snap models.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snap.Clone()
	return &snap, nil
}

func (s *MemoryStore) Commit(ctx context.Context, m models.Mutation, hook func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	s.snap.Apply(m)
	return nil
}
