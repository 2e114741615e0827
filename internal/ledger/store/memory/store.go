// Package memory provides an in-process ledger store, used in tests and for
// ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/changegate/changegate/internal/ledger"
)

type Store struct {
	mu   sync.RWMutex
	mods map[string]ledger.Modification
}

func New() *Store {
	return &Store{mods: make(map[string]ledger.Modification)}
}

func (s *Store) Create(ctx context.Context, m ledger.Modification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mods[m.ID]; exists {
		return fmt.Errorf("modification %s already exists", m.ID)
	}
	s.mods[m.ID] = m
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (ledger.Modification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mods[id]
	if !ok {
		return ledger.Modification{}, ledger.ErrNotFound
	}
	return m, nil
}

func (s *Store) Update(ctx context.Context, m ledger.Modification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mods[m.ID]; !ok {
		return ledger.ErrNotFound
	}
	s.mods[m.ID] = m
	return nil
}

func (s *Store) List(ctx context.Context, f ledger.Filter) ([]ledger.Modification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Modification
	for _, m := range s.mods {
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.TargetPath != "" && m.TargetPath != f.TargetPath {
			continue
		}
		out = append(out, m)
	}

	// Stable ordering: newest first, id as tiebreak.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
