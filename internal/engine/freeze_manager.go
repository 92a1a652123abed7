package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trustmesh/internal/infra"
)

// Unfreezer — единственный путь снятия заморозки (ledger.Ledger).
type Unfreezer interface {
	Unfreeze(ctx context.Context, principalID string) error
}

// FrozenLister — источник истины для прогрева (Postgres).
type FrozenLister interface {
	FrozenPrincipals(ctx context.Context) ([]string, error)
}

// FreezeManager распространяет состояние заморозки между инстансами через Redis
// и принимает внешнее решение ревью о разморозке.
type FreezeManager struct {
	mu     sync.RWMutex
	frozen map[string]struct{}

	rdb    *redis.Client
	ledger Unfreezer
	logger *zap.Logger
}

func NewFreezeManager(rdb *redis.Client, ledger Unfreezer, logger *zap.Logger) *FreezeManager {
	return &FreezeManager{
		frozen: make(map[string]struct{}),
		rdb:    rdb,
		ledger: ledger,
		logger: logger.With(zap.String("mod", "freeze")),
	}
}

// Init загружает текущее множество замороженных принципалов из Redis.
func (m *FreezeManager) Init(ctx context.Context) error {
	ids, err := m.rdb.SMembers(ctx, infra.RedisKeyFrozenPrincipals).Result()
	if err != nil {
		return fmt.Errorf("freeze: load frozen set: %w", err)
	}
	m.replace(ids)
	return nil
}

// Warmup заливает состояние из БД в L1 и, если Redis пуст, в L2.
func (m *FreezeManager) Warmup(ctx context.Context, source FrozenLister) error {
	ids, err := source.FrozenPrincipals(ctx)
	if err != nil {
		return fmt.Errorf("freeze: list frozen principals: %w", err)
	}
	m.replace(ids)
	return m.seedFrozenSet(ctx, ids)
}

// Run слушает сигналы до отмены контекста.
func (m *FreezeManager) Run(ctx context.Context) {
	m.logger.Info("freeze listener started", zap.String("chan", infra.RedisChanFreeze))
	listenFreezeSignals(ctx, m.rdb, m.logger,
		func() error { return m.Init(ctx) },
		func(id string, on bool) { m.handleSignal(ctx, id, on) },
	)
	m.logger.Info("freeze listener stopped")
}

// PrincipalFrozen реализует ledger.FreezeObserver.
func (m *FreezeManager) PrincipalFrozen(ctx context.Context, principalID, reason string) error {
	m.mark(principalID, true)

	pipe := m.rdb.Pipeline()
	pipe.SAdd(ctx, infra.RedisKeyFrozenPrincipals, principalID)
	pipe.Publish(ctx, infra.RedisChanFreeze, infra.FreezeSignal(principalID, true))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("freeze: publish %s: %w", principalID, err)
	}
	m.logger.Info("freeze published", zap.String("principal_id", principalID), zap.String("reason", reason))
	return nil
}

// Release публикует решение ревью о разморозке. Сигнал применяют все инстансы, включая текущий.
func (m *FreezeManager) Release(ctx context.Context, principalID string) error {
	if err := m.rdb.Publish(ctx, infra.RedisChanFreeze, infra.FreezeSignal(principalID, false)).Err(); err != nil {
		return fmt.Errorf("freeze: publish release %s: %w", principalID, err)
	}
	m.logger.Info("release published", zap.String("principal_id", principalID))
	return nil
}

func (m *FreezeManager) handleSignal(ctx context.Context, principalID string, on bool) {
	if on {
		m.mark(principalID, true)
		return
	}

	// Разморозку решает внешнее ревью. Леджер идемпотентен, поэтому каждый инстанс может его применить.
	if err := m.ledger.Unfreeze(ctx, principalID); err != nil {
		m.logger.Error("unfreeze failed", zap.String("principal_id", principalID), zap.Error(err))
		return
	}
	m.mark(principalID, false)
	if err := m.rdb.SRem(ctx, infra.RedisKeyFrozenPrincipals, principalID).Err(); err != nil {
		m.logger.Warn("could not drop principal from frozen set", zap.String("principal_id", principalID), zap.Error(err))
	}
	m.logger.Info("principal unfrozen by review", zap.String("principal_id", principalID))
}

// Count — размер L1 множества, источник gauge trustmesh_frozen_principals.
func (m *FreezeManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.frozen)
}

func (m *FreezeManager) mark(principalID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.frozen[principalID] = struct{}{}
	} else {
		delete(m.frozen, principalID)
	}
}

func (m *FreezeManager) replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	m.mu.Lock()
	m.frozen = next
	m.mu.Unlock()
}
