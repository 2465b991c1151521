package content

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-process content-addressed store for local simulation
// and tests. Handles are content digests, so stored blobs always satisfy
// digest verification.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{
		blobs: make(map[string][]byte),
	}
}

func (s *MemStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref := Digest(data)
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[ref] = cp
	return ref, nil
}

func (s *MemStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("not found: %s", ref)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Corrupt overwrites a stored blob in place without changing its handle.
// Test hook for digest verification.
func (s *MemStore) Corrupt(ref string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[ref] = data
}
