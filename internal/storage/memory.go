package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/models"
)

// MemoryStore keeps messages in memory and ranks them by brute force.
// Suitable for tests and small corpora.
type MemoryStore struct {
	messages map[string]*models.Message
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		messages: make(map[string]*models.Message),
		logger:   logger,
	}
}

// RankBySimilarity scans every message under a read lock.
func (m *MemoryStore) RankBySimilarity(ctx context.Context, q Query) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := newRanker(q, m.logger)
	for _, msg := range m.messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.offer(msg)
	}
	return r.result(), nil
}

// Stats counts messages, embedded messages and roles.
func (m *MemoryStore) Stats(ctx context.Context) (*models.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := models.NewStats()
	for _, msg := range m.messages {
		st.TotalMessages++
		if msg.Embedding != nil {
			st.MessagesWithEmbeddings++
		}
		st.RoleDistribution[msg.Role]++
	}
	return st, nil
}

// UpsertMessages stores copies of msgs keyed by message_id.
func (m *MemoryStore) UpsertMessages(ctx context.Context, msgs []*models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		cp := *msg
		if msg.Embedding != nil {
			cp.Embedding = append([]float32(nil), msg.Embedding...)
		}
		m.messages[msg.MessageID] = &cp
	}
	return nil
}

// DeleteAll removes every message.
func (m *MemoryStore) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = make(map[string]*models.Message)
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}
