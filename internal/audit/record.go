package audit

import (
	"context"
	"time"
)

// ActionRecord — одна запись аудита на каждый вызов актора. Только добавление, ядро ее не меняет и не удаляет.
type ActionRecord struct {
	ID          string         `json:"id"`                     // UUID записи
	TraceID     string         `json:"trace_id"`               // Сквозной ID запроса
	RequestID   string         `json:"request_id,omitempty"`   // ID запроса координации (если есть)
	ActorID     string         `json:"actor_id"`               // Чей обработчик вызывался
	PrincipalID string         `json:"principal_id,omitempty"` // Пусто для анонимных вызовов
	Action      string         `json:"action"`
	Params      map[string]any `json:"params,omitempty"` // Урезанная и отредактированная копия

	// Координация: вторая сторона запроса и его приоритет
	Counterpart string `json:"counterpart,omitempty"`
	Priority    string `json:"priority,omitempty"`

	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}

// Auditor — единственный способ записать ActionRecord. Используется только конвертом.
type Auditor interface {
	Log(rec ActionRecord)
}

// Reader — доступ к журналу на чтение.
type Reader interface {
	Query(ctx context.Context, f Filter) ([]ActionRecord, error)
}

// ReaderFunc позволяет использовать функцию (например, AuditRepo.FetchRecords) как Reader.
type ReaderFunc func(ctx context.Context, f Filter) ([]ActionRecord, error)

func (fn ReaderFunc) Query(ctx context.Context, f Filter) ([]ActionRecord, error) { return fn(ctx, f) }

// Filter — условия выборки. Пустые поля не ограничивают.
type Filter struct {
	ActorID     string
	PrincipalID string
	Action      string
	RequestID   string
	Success     *bool
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Match проверяет запись против фильтра.
func (f Filter) Match(rec ActionRecord) bool {
	if f.ActorID != "" && rec.ActorID != f.ActorID {
		return false
	}
	if f.PrincipalID != "" && rec.PrincipalID != f.PrincipalID {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.RequestID != "" && rec.RequestID != f.RequestID {
		return false
	}
	if f.Success != nil && rec.Success != *f.Success {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// Multi рассылает запись нескольким аудиторам.
type Multi []Auditor

func (m Multi) Log(rec ActionRecord) {
	for _, a := range m {
		a.Log(rec)
	}
}
