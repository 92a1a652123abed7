// Package ledger владеет состоянием доверия принципалов: баллы, уровень, бейджи, окно последних событий, заморозка.
// Мутирует состояние только ApplyEvent. Обновления одного принципала сериализуются.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/trustmesh/internal/classifier"
	"github.com/xela07ax/trustmesh/internal/domain"
	"github.com/xela07ax/trustmesh/internal/fraud"
	"go.uber.org/zap"
)

// Config — параметры леджера.
type Config struct {
	RecentEventWindowSize int            `mapstructure:"recent_event_window_size"`
	DedupHorizon          int            `mapstructure:"dedup_horizon"`
	LevelThresholds       []int64        `mapstructure:"level_thresholds"`
	Badges                []domain.Badge `mapstructure:"badges"`
}

func DefaultConfig() Config {
	return Config{
		RecentEventWindowSize: 100,
		DedupHorizon:          1000,
		LevelThresholds:       DefaultLevelThresholds,
		Badges:                DefaultBadges(),
	}
}

// FraudEvaluator — контракт детектора мошенничества.
type FraudEvaluator interface {
	Evaluate(principalID string, events []domain.Event) fraud.Verdict
}

// FreezeObserver получает уведомление, когда принципал заморожен впервые.
type FreezeObserver interface {
	PrincipalFrozen(ctx context.Context, principalID, reason string) error
}

// Instrumentation — хуки метрик. Реализуется engine.Metrics.
type Instrumentation interface {
	EventApplied(eventType, outcome string)
	PrincipalFrozen()
}

type nopInstrumentation struct{}

func (nopInstrumentation) EventApplied(string, string) {}
func (nopInstrumentation) PrincipalFrozen()            {}

type Ledger struct {
	store      Store
	classifier *classifier.Classifier
	detector   FraudEvaluator
	levels     *LevelTable
	badges     []domain.Badge
	window     int
	horizon    int

	locks    principalLocks
	observer FreezeObserver
	metrics  Instrumentation
	logger   *zap.Logger
	clock    func() time.Time
}

func New(store Store, c *classifier.Classifier, detector FraudEvaluator, cfg Config, logger *zap.Logger) (*Ledger, error) {
	def := DefaultConfig()
	if cfg.RecentEventWindowSize <= 0 {
		cfg.RecentEventWindowSize = def.RecentEventWindowSize
	}
	if cfg.DedupHorizon <= 0 {
		cfg.DedupHorizon = def.DedupHorizon
	}
	if len(cfg.LevelThresholds) == 0 {
		cfg.LevelThresholds = def.LevelThresholds
	}
	if cfg.Badges == nil {
		cfg.Badges = def.Badges
	}

	levels, err := NewLevelTable(cfg.LevelThresholds)
	if err != nil {
		return nil, err
	}
	if err := validateBadges(cfg.Badges); err != nil {
		return nil, err
	}

	return &Ledger{
		store:      store,
		classifier: c,
		detector:   detector,
		levels:     levels,
		badges:     cfg.Badges,
		window:     cfg.RecentEventWindowSize,
		horizon:    cfg.DedupHorizon,
		metrics:    nopInstrumentation{},
		logger:     logger.Named("ledger"),
		clock:      time.Now,
	}, nil
}

// WithClock подменяет часы для детерминированных тестов.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// SetFreezeObserver подключает получателя уведомлений о заморозке (менеджер заморозок).
func (l *Ledger) SetFreezeObserver(o FreezeObserver) { l.observer = o }

// SetInstrumentation подключает метрики.
func (l *Ledger) SetInstrumentation(m Instrumentation) {
	if m != nil {
		l.metrics = m
	}
}

// Levels отдает таблицу уровней (только чтение).
func (l *Ledger) Levels() *LevelTable { return l.levels }

// ApplyOption — опции ApplyEvent.
type ApplyOption func(*applyOptions)

type applyOptions struct {
	eventID string
}

// WithEventID задает идентификатор события вызывающей стороны: повтор в пределах горизонта не начисляется повторно.
func WithEventID(id string) ApplyOption {
	return func(o *applyOptions) { o.eventID = id }
}

// ApplyEvent — единственная точка обновления TrustRecord.
func (l *Ledger) ApplyEvent(ctx context.Context, principalID, eventType, source string, detail map[string]any, opts ...ApplyOption) (*domain.ApplyResult, error) {
	var o applyOptions
	for _, opt := range opts {
		opt(&o)
	}

	if principalID == "" {
		return nil, fmt.Errorf("ledger: empty principal id")
	}

	cls, err := l.classifier.Classify(eventType)
	if err != nil {
		l.metrics.EventApplied(eventType, "unknown")
		return nil, err
	}

	unlock := l.locks.lock(principalID)
	res, err := l.apply(ctx, principalID, cls, source, detail, o.eventID)
	unlock()

	if err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrAccountFrozen) {
			outcome = "rejected_frozen"
		}
		l.metrics.EventApplied(eventType, outcome)
		return nil, err
	}

	if res.Duplicate {
		l.metrics.EventApplied(eventType, "duplicate")
	} else {
		l.metrics.EventApplied(eventType, "applied")
	}

	if res.FrozeNow {
		l.metrics.PrincipalFrozen()
		l.notifyFrozen(ctx, principalID, res.FreezeReason)
	}
	return res, nil
}

func (l *Ledger) apply(ctx context.Context, principalID string, cls classifier.Classification, source string, detail map[string]any, eventID string) (*domain.ApplyResult, error) {
	now := l.clock()

	rec, err := l.store.Load(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load %s: %w", principalID, err)
	}
	if rec == nil {
		rec = domain.NewTrustRecord(principalID, l.levels.Level(0), now)
	}

	res := &domain.ApplyResult{
		PrincipalID:   principalID,
		EventType:     cls.EventType,
		Delta:         cls.Delta,
		Explanation:   cls.Explanation,
		PreviousLevel: rec.Level,
		BadgesEarned:  []string{},
	}

	if rec.HasApplied(eventID) {
		res.Duplicate = true
		res.Delta = 0
		res.NewScore = rec.TotalScore
		res.NewLevel = rec.Level
		res.Frozen = rec.Frozen
		res.FreezeReason = rec.FreezeReason
		return res, nil
	}

	// Заморозка блокирует начисления, но не штрафы
	if rec.Frozen && cls.Delta > 0 {
		return nil, &domain.FrozenError{PrincipalID: principalID, Reason: rec.FreezeReason}
	}

	rec.RecentEvents = append(rec.RecentEvents, domain.Event{
		ID:        eventID,
		Type:      cls.EventType,
		Source:    source,
		Delta:     cls.Delta,
		Detail:    detail,
		Timestamp: now,
	})
	if over := len(rec.RecentEvents) - l.window; over > 0 {
		rec.RecentEvents = append([]domain.Event(nil), rec.RecentEvents[over:]...)
	}
	if rec.EventCounts == nil {
		rec.EventCounts = make(map[string]int64)
	}
	rec.EventCounts[cls.EventType]++

	rec.TotalScore += cls.Delta
	rec.Level = l.levels.Level(rec.TotalScore)

	for _, b := range l.badges {
		if rec.HasBadge(b.ID) || !b.EligibleFor(rec) {
			continue
		}
		rec.Badges = append(rec.Badges, b.ID)
		res.BadgesEarned = append(res.BadgesEarned, b.ID)
	}

	if eventID != "" {
		rec.AppliedIDs = append(rec.AppliedIDs, eventID)
		if over := len(rec.AppliedIDs) - l.horizon; over > 0 {
			rec.AppliedIDs = append([]string(nil), rec.AppliedIDs[over:]...)
		}
	}

	verdict := l.detector.Evaluate(principalID, rec.UnreviewedEvents())
	res.FraudFlags = verdict.Flags
	if verdict.Suspicious && !rec.Frozen {
		rec.Frozen = true
		rec.FreezeReason = verdict.Reason()
		rec.FrozenAt = &now
		res.FrozeNow = true
	}

	rec.UpdatedAt = now
	if err := l.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger: save %s: %w", principalID, err)
	}

	res.NewScore = rec.TotalScore
	res.NewLevel = rec.Level
	res.LeveledUp = rec.Level > res.PreviousLevel
	res.Frozen = rec.Frozen
	res.FreezeReason = rec.FreezeReason

	l.logger.Debug("trust event applied",
		zap.String("principal_id", principalID),
		zap.String("event_type", cls.EventType),
		zap.Int64("delta", cls.Delta),
		zap.Int64("score", rec.TotalScore),
		zap.Int("level", rec.Level),
	)
	if res.LeveledUp {
		l.logger.Info("principal leveled up",
			zap.String("principal_id", principalID),
			zap.Int("from", res.PreviousLevel),
			zap.Int("to", res.NewLevel))
	}
	return res, nil
}

func (l *Ledger) notifyFrozen(ctx context.Context, principalID, reason string) {
	l.logger.Warn("principal frozen",
		zap.String("principal_id", principalID),
		zap.String("reason", reason))
	if l.observer == nil {
		return
	}
	if err := l.observer.PrincipalFrozen(ctx, principalID, reason); err != nil {
		l.logger.Error("freeze notification failed",
			zap.String("principal_id", principalID),
			zap.Error(err))
	}
}

// Freeze — явная заморозка (решение оператора или сигнал другого инстанса). Повторная заморозка ничего не меняет.
func (l *Ledger) Freeze(ctx context.Context, principalID, reason string) (bool, error) {
	unlock := l.locks.lock(principalID)
	froze, err := func() (bool, error) {
		rec, err := l.store.Load(ctx, principalID)
		if err != nil {
			return false, fmt.Errorf("ledger: load %s: %w", principalID, err)
		}
		now := l.clock()
		if rec == nil {
			rec = domain.NewTrustRecord(principalID, l.levels.Level(0), now)
		}
		if rec.Frozen {
			return false, nil
		}
		rec.Frozen = true
		rec.FreezeReason = reason
		rec.FrozenAt = &now
		rec.UpdatedAt = now
		if err := l.store.Save(ctx, rec); err != nil {
			return false, fmt.Errorf("ledger: save %s: %w", principalID, err)
		}
		return true, nil
	}()
	unlock()

	if froze {
		l.metrics.PrincipalFrozen()
		l.notifyFrozen(ctx, principalID, reason)
	}
	return froze, err
}

// Unfreeze снимает заморозку. Вызывается только внешним процессом ревью (через менеджер заморозок).
// События до разморозки считаются разобранными и больше не попадают в детектор.
func (l *Ledger) Unfreeze(ctx context.Context, principalID string) error {
	unlock := l.locks.lock(principalID)
	defer unlock()

	rec, err := l.store.Load(ctx, principalID)
	if err != nil {
		return fmt.Errorf("ledger: load %s: %w", principalID, err)
	}
	if rec == nil || !rec.Frozen {
		return nil
	}
	rec.Frozen = false
	rec.FreezeReason = ""
	rec.FrozenAt = nil
	rec.Reviewed = rec.TotalEvents()
	rec.UpdatedAt = l.clock()
	if err := l.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("ledger: save %s: %w", principalID, err)
	}
	l.logger.Info("principal unfrozen", zap.String("principal_id", principalID))
	return nil
}

// Snapshot возвращает копию записи. Для неизвестного принципала отдается пустая запись без сохранения.
func (l *Ledger) Snapshot(ctx context.Context, principalID string) (*domain.TrustRecord, error) {
	rec, err := l.store.Load(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load %s: %w", principalID, err)
	}
	if rec == nil {
		return domain.NewTrustRecord(principalID, l.levels.Level(0), l.clock()), nil
	}
	return rec, nil
}

// Level — текущий уровень принципала (используется гейтом доверия конверта).
func (l *Ledger) Level(ctx context.Context, principalID string) (int, error) {
	rec, err := l.Snapshot(ctx, principalID)
	if err != nil {
		return 0, err
	}
	return rec.Level, nil
}
