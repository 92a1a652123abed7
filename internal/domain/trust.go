package domain

import (
	"slices"
	"time"
)

// Event — уже классифицированный вклад или нарушение. Неизменяем после создания.
type Event struct {
	ID        string         `json:"id,omitempty"` // Идентификатор вызывающей стороны для идемпотентности (опционален)
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Delta     int64          `json:"delta"`
	Detail    map[string]any `json:"detail,omitempty"` // Хранится только для аудита
	Timestamp time.Time      `json:"timestamp"`
}

// TrustRecord — состояние доверия одного принципала. Меняется только через Ledger.ApplyEvent.
type TrustRecord struct {
	PrincipalID  string           `json:"principal_id"`
	TotalScore   int64            `json:"total_score"`
	Level        int              `json:"level"`
	Badges       []string         `json:"badges"`        // Только добавление, бейджи не отзываются
	RecentEvents []Event          `json:"recent_events"` // Последние K событий, новые в конце
	EventCounts  map[string]int64 `json:"event_counts"`  // Счетчики за все время, независимо от окна
	AppliedIDs   []string         `json:"applied_ids,omitempty"`
	Frozen       bool             `json:"frozen"`
	FreezeReason string           `json:"freeze_reason,omitempty"`
	FrozenAt     *time.Time       `json:"frozen_at,omitempty"`
	Reviewed     int64            `json:"reviewed,omitempty"` // Сколько событий за все время разобрано последним ревью
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NewTrustRecord создает пустую запись (ленивая инициализация при первом событии).
func NewTrustRecord(principalID string, level int, now time.Time) *TrustRecord {
	return &TrustRecord{
		PrincipalID:  principalID,
		Level:        level,
		Badges:       []string{},
		RecentEvents: []Event{},
		EventCounts:  make(map[string]int64),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (r *TrustRecord) HasBadge(id string) bool {
	return slices.Contains(r.Badges, id)
}

func (r *TrustRecord) HasApplied(eventID string) bool {
	return eventID != "" && slices.Contains(r.AppliedIDs, eventID)
}

// Clone возвращает глубокую копию, чтобы читатели не видели последующих мутаций.
func (r *TrustRecord) Clone() *TrustRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Badges = slices.Clone(r.Badges)
	out.RecentEvents = slices.Clone(r.RecentEvents)
	out.AppliedIDs = slices.Clone(r.AppliedIDs)
	out.EventCounts = make(map[string]int64, len(r.EventCounts))
	for k, v := range r.EventCounts {
		out.EventCounts[k] = v
	}
	if r.FrozenAt != nil {
		t := *r.FrozenAt
		out.FrozenAt = &t
	}
	return &out
}

// TotalEvents — число примененных событий за все время.
func (r *TrustRecord) TotalEvents() int64 {
	var n int64
	for _, c := range r.EventCounts {
		n += c
	}
	return n
}

// UnreviewedEvents — хвост окна после последнего ревью. Разобранные ревью события повторно не оцениваются.
func (r *TrustRecord) UnreviewedEvents() []Event {
	fresh := r.TotalEvents() - r.Reviewed
	if fresh <= 0 {
		return nil
	}
	if fresh >= int64(len(r.RecentEvents)) {
		return r.RecentEvents
	}
	return r.RecentEvents[int64(len(r.RecentEvents))-fresh:]
}

// BadgeKind определяет, по какому признаку выдается бейдж.
type BadgeKind string

const (
	BadgeByScore      BadgeKind = "score"
	BadgeByEventCount BadgeKind = "event_count"
)

// Badge — статическая конфигурация достижения.
type Badge struct {
	ID        string    `json:"id" mapstructure:"id" yaml:"id"`
	Name      string    `json:"name" mapstructure:"name" yaml:"name"`
	Kind      BadgeKind `json:"kind" mapstructure:"kind" yaml:"kind"`
	MinScore  int64     `json:"min_score,omitempty" mapstructure:"min_score" yaml:"min_score"`
	EventType string    `json:"event_type,omitempty" mapstructure:"event_type" yaml:"event_type"`
	Count     int64     `json:"count,omitempty" mapstructure:"count" yaml:"count"`
}

// EligibleFor — чистая проверка условия бейджа против текущего состояния записи.
func (b Badge) EligibleFor(r *TrustRecord) bool {
	switch b.Kind {
	case BadgeByScore:
		return r.TotalScore >= b.MinScore
	case BadgeByEventCount:
		return b.EventType != "" && r.EventCounts[b.EventType] >= b.Count
	default:
		return false
	}
}

// ApplyResult — ответ Ledger.ApplyEvent.
type ApplyResult struct {
	PrincipalID   string   `json:"principal_id"`
	EventType     string   `json:"event_type"`
	Delta         int64    `json:"delta"`
	Explanation   string   `json:"explanation"`
	NewScore      int64    `json:"new_score"`
	NewLevel      int      `json:"new_level"`
	PreviousLevel int      `json:"previous_level"`
	LeveledUp     bool     `json:"leveled_up"`
	BadgesEarned  []string `json:"badges_earned"`

	// Заморозка здесь побочный эффект, не ошибка вызова
	Frozen       bool     `json:"frozen"`
	FrozeNow     bool     `json:"froze_now"`
	FreezeReason string   `json:"freeze_reason,omitempty"`
	FraudFlags   []string `json:"fraud_flags,omitempty"`

	Duplicate bool `json:"duplicate,omitempty"`
}
