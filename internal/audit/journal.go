package audit

import (
	"context"
	"sync"
)

// Journal — журнал в памяти: хранит последние capacity записей и отвечает на запросы.
// Без базы это единственное хранилище аудита, поэтому сервис создает его без ограничения.
type Journal struct {
	mu       sync.RWMutex
	records  []ActionRecord
	capacity int
}

// NewJournal создает журнал. При capacity <= 0 размер не ограничен.
func NewJournal(capacity int) *Journal {
	return &Journal{capacity: capacity}
}

func (j *Journal) Log(rec ActionRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	if j.capacity > 0 && len(j.records) > j.capacity {
		j.records = append([]ActionRecord(nil), j.records[len(j.records)-j.capacity:]...)
	}
}

// Query возвращает подходящие записи, новые первыми.
func (j *Journal) Query(_ context.Context, f Filter) ([]ActionRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]ActionRecord, 0)
	for i := len(j.records) - 1; i >= 0; i-- {
		if !f.Match(j.records[i]) {
			continue
		}
		out = append(out, j.records[i])
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}
