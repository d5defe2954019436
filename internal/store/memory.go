// Package store implements conversation persistence: an in-memory store
// for development and tests, a Postgres store for production, and a
// retrying decorator that keeps the reply path alive through transient
// persistence failures.
package store

import (
	"context"
	"sync"

	"github.com/deskwing/deskwing/pkg/contracts"
	"github.com/deskwing/deskwing/pkg/models"
)

// MemoryStore is a process-local conversation store. Records are deep
// copied on both read and write so callers never share mutable state.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.ConversationRecord
}

var _ contracts.ConversationStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.ConversationRecord)}
}

// Get returns a copy of the record, or (nil, nil) when absent.
func (s *MemoryStore) Get(ctx context.Context, conversationID string) (*models.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[conversationID]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

// Save stores a copy of the record keyed by its conversation ID.
func (s *MemoryStore) Save(ctx context.Context, record *models.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = copyRecord(record)
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func copyRecord(rec *models.ConversationRecord) *models.ConversationRecord {
	cp := *rec
	cp.Turns = make([]models.Turn, len(rec.Turns))
	copy(cp.Turns, rec.Turns)
	cp.Memory = make(map[string]string, len(rec.Memory))
	for k, v := range rec.Memory {
		cp.Memory[k] = v
	}
	return &cp
}
