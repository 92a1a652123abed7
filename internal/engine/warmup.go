package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/trustmesh/internal/infra"
)

const warmupLockTTL = 30 * time.Second

// seedFrozenSet заливает множество замороженных из БД в Redis, если оно там пустое.
// Заливает только инстанс, взявший лок; остальные довольствуются L1.
func (m *FreezeManager) seedFrozenSet(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	won, err := m.rdb.SetNX(ctx, infra.RedisKeyLockWarmupFrozen, "seeding", warmupLockTTL).Result()
	if err != nil {
		m.logger.Warn("warmup lock unavailable, skipping redis seed", zap.Error(err))
		return nil
	}
	if !won {
		return nil
	}

	size, err := m.rdb.SCard(ctx, infra.RedisKeyFrozenPrincipals).Result()
	if err != nil {
		m.logger.Warn("frozen set size unknown, seeding anyway", zap.Error(err))
		size = 0
	}
	if size > 0 {
		return nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := m.rdb.SAdd(ctx, infra.RedisKeyFrozenPrincipals, members...).Err(); err != nil {
		return fmt.Errorf("freeze: seed frozen set: %w", err)
	}
	m.logger.Info("frozen set seeded from store", zap.Int("count", len(ids)))
	return nil
}
