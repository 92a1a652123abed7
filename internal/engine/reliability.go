package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/trustmesh/internal/connectors"
)

// ReliabilityConfig — секция content конфигурации.
type ReliabilityConfig struct {
	Name                  string        `mapstructure:"name"`
	RPS                   float64       `mapstructure:"rps"`
	Burst                 int           `mapstructure:"burst"`
	Attempts              uint          `mapstructure:"attempts"`
	CallTimeout           time.Duration `mapstructure:"call_timeout"`
	CBMaxRequests         uint32        `mapstructure:"cb_max_requests"`
	CBInterval            time.Duration `mapstructure:"cb_interval"`
	CBTimeout             time.Duration `mapstructure:"cb_timeout"`
	CBConsecutiveFailures uint32        `mapstructure:"cb_consecutive_failures"`
}

func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Name:                  "content",
		RPS:                   100,
		Burst:                 20,
		Attempts:              3,
		CallTimeout:           10 * time.Second,
		CBMaxRequests:         3,
		CBInterval:            5 * time.Second,
		CBTimeout:             30 * time.Second, // Время, через которое CB попробует "закрыться"
		CBConsecutiveFailures: 5,
	}
}

// ReliabilityWrapper оборачивает генеративную возможность: лимит, предохранитель, ретраи с учетом ThrottleError.
type ReliabilityWrapper struct {
	next     connectors.Generator
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	timeout  time.Duration
}

func NewReliabilityWrapper(next connectors.Generator, cfg ReliabilityConfig, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	def := DefaultReliabilityConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.RPS <= 0 {
		cfg.RPS = def.RPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.CBConsecutiveFailures == 0 {
		cfg.CBConsecutiveFailures = def.CBConsecutiveFailures
	}
	if cfg.CBTimeout <= 0 {
		cfg.CBTimeout = def.CBTimeout
	}

	if metrics != nil {
		metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CBConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(to))
			}
		},
	})

	return &ReliabilityWrapper{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		attempts: cfg.Attempts,
		timeout:  cfg.CallTimeout,
	}
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Generate реализует connectors.Generator.
func (w *ReliabilityWrapper) Generate(ctx context.Context, prompt string) (string, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit exceeded: %w", err)
	}

	out, err := w.cb.Execute(func() (interface{}, error) {
		var text string
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Сервис сам сказал, сколько ждать
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// В остальных случаях (сетевой лаг, 500-ка) работает стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()

			var callErr error
			text, callErr = w.next.Generate(tCtx, prompt)
			return callErr
		})
		return text, retryErr
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
