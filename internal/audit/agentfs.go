package audit

/*
AgentFS — асинхронный писатель журнала действий в долговременное хранилище.

- Горячий путь конверта не ждет базу: записи уходят в буферизованный канал.
- Пакетная запись по таймеру или по достижении batchSize.
- Stop закрывает вход и дочитывает канал до конца (Final Flush).
- Запись не теряется: при переполнении буфера или после остановки она пишется синхронно.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BatchWriter определяет, куда физически сохраняются записи (Postgres).
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []ActionRecord) error
}

type Config struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxParamBytes int           `mapstructure:"max_param_bytes"`
	RedactKeys    []string      `mapstructure:"redact_keys"`
}

func DefaultConfig() Config {
	return Config{
		BufferSize:    10000,
		BatchSize:     100,
		FlushInterval: 500 * time.Millisecond,
		MaxParamBytes: DefaultMaxParamBytes,
		RedactKeys:    DefaultRedactKeys,
	}
}

type AgentFS struct {
	ch     chan ActionRecord
	repo   BatchWriter
	logger *zap.Logger
	wg     sync.WaitGroup

	batchSize int
	interval  time.Duration

	// closeMu защищает закрытие канала от параллельных Log
	closeMu sync.RWMutex
	closed  bool
}

func NewAgentFS(repo BatchWriter, cfg Config, logger *zap.Logger) *AgentFS {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &AgentFS{
		ch:        make(chan ActionRecord, cfg.BufferSize),
		repo:      repo,
		logger:    logger.With(zap.String("mod", "agentfs")),
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
	}
}

func (fs *AgentFS) Start() {
	fs.wg.Add(1)
	go fs.worker()
}

// Stop запирает вход и ждет, пока воркер все допишет.
func (fs *AgentFS) Stop() {
	fs.closeMu.Lock()
	if fs.closed {
		fs.closeMu.Unlock()
		return
	}
	fs.closed = true
	fs.logger.Info("stopping auditor: closing channel and flushing buffer...")
	close(fs.ch)
	fs.closeMu.Unlock()

	fs.wg.Wait()
	fs.logger.Info("auditor stopped gracefully")
}

func (fs *AgentFS) Log(rec ActionRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	fs.closeMu.RLock()
	if fs.closed {
		fs.closeMu.RUnlock()
		fs.logger.Warn("auditor is stopped, writing record synchronously", zap.String("id", rec.ID))
		fs.writeNow(rec)
		return
	}
	select {
	case fs.ch <- rec:
		fs.closeMu.RUnlock()
		return
	default:
	}
	fs.closeMu.RUnlock()

	// Backpressure: буфер полон, платим задержкой вызывающего, но не теряем запись
	fs.logger.Warn("audit_buffer_overflow",
		zap.String("actor_id", rec.ActorID),
		zap.String("trace_id", rec.TraceID),
	)
	fs.writeNow(rec)
}

// Utilization — доля заполнения буфера (для метрики).
func (fs *AgentFS) Utilization() float64 {
	return float64(len(fs.ch)) / float64(cap(fs.ch))
}

func (fs *AgentFS) writeNow(rec ActionRecord) {
	if err := fs.repo.WriteBatch(context.Background(), []ActionRecord{rec}); err != nil {
		fs.logger.Error("audit write failed",
			zap.String("id", rec.ID),
			zap.String("actor_id", rec.ActorID),
			zap.Error(err))
	}
}

func (fs *AgentFS) worker() {
	defer fs.wg.Done()

	batch := make([]ActionRecord, 0, fs.batchSize)
	ticker := time.NewTicker(fs.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст может быть уже закрыт
		if err := fs.repo.WriteBatch(context.Background(), batch); err != nil {
			fs.logger.Error("audit flush failed", zap.Int("records", len(batch)), zap.Error(err))
		}
		batch = make([]ActionRecord, 0, fs.batchSize)
	}

	for {
		select {
		case rec, ok := <-fs.ch:
			if !ok {
				flush()
				fs.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, rec)
			if len(batch) >= fs.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
