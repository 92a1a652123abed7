package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trustmesh/internal/infra"
)

const (
	resubscribeBackoff = 5 * time.Second
	reconnectPause     = time.Second
)

// listenFreezeSignals держит подписку на канал заморозок, пока жив ctx.
// После каждой успешной подписки вызывается resync: сигналы, пропущенные без подписки, не теряются.
func listenFreezeSignals(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	resync func() error,
	apply func(principalID string, frozen bool),
) {
	for {
		pubsub := rdb.Subscribe(ctx, infra.RedisChanFreeze)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("freeze subscribe failed", zap.Error(err), zap.Duration("retry_in", resubscribeBackoff))
			if !sleepCtx(ctx, resubscribeBackoff) {
				return
			}
			continue
		}

		if err := resync(); err != nil {
			logger.Error("frozen set resync failed", zap.Error(err))
		}

		if !consumeFreezeSignals(ctx, pubsub.Channel(), logger, apply) {
			_ = pubsub.Close()
			return
		}

		// Канал закрыт клиентом, переподписываемся
		_ = pubsub.Close()
		logger.Warn("freeze channel closed, resubscribing")
		if !sleepCtx(ctx, reconnectPause) {
			return
		}
	}
}

// consumeFreezeSignals возвращает false, если завершился ctx, и true, если закрылся канал.
func consumeFreezeSignals(ctx context.Context, ch <-chan *redis.Message, logger *zap.Logger, apply func(string, bool)) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-ch:
			if !ok {
				return true
			}
			id, frozen, valid := infra.ParseFreezeSignal(msg.Payload)
			if !valid {
				logger.Error("invalid freeze signal", zap.String("payload", msg.Payload))
				continue
			}
			apply(id, frozen)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
