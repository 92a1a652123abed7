package ledger

import (
	"context"
	"sync"

	"github.com/xela07ax/trustmesh/internal/domain"
)

// Store — хранилище TrustRecord. В проде Postgres, в тестах память.
type Store interface {
	// Load возвращает (nil, nil), если записи еще нет.
	Load(ctx context.Context, principalID string) (*domain.TrustRecord, error)
	Save(ctx context.Context, rec *domain.TrustRecord) error
}

// MemoryStore — потокобезопасная реализация Store в памяти. Отдает и принимает копии.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*domain.TrustRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*domain.TrustRecord)}
}

func (s *MemoryStore) Load(_ context.Context, principalID string) (*domain.TrustRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[principalID]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, rec *domain.TrustRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.PrincipalID] = rec.Clone()
	return nil
}

// FrozenPrincipals — идентификаторы замороженных принципалов (для прогрева кэша).
func (s *MemoryStore) FrozenPrincipals(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, rec := range s.records {
		if rec.Frozen {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
