// Package coordination доставляет запросы одного актора другому через конверт,
// чтобы акторы не держали ссылок друг на друга, а каждый запрос попадал в аудит на обеих сторонах.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/trustmesh/internal/actor"
	"github.com/xela07ax/trustmesh/internal/domain"
	"github.com/xela07ax/trustmesh/internal/engine"
	"github.com/xela07ax/trustmesh/internal/infra/auth"
)

var ErrRouterStopped = errors.New("coordination: router stopped")

type Config struct {
	Timeout                     time.Duration `mapstructure:"timeout"`
	LowPriorityQueueCapacity    int           `mapstructure:"low_priority_queue_capacity"`
	MediumPriorityQueueCapacity int           `mapstructure:"medium_priority_queue_capacity"`
	EscalationActor             string        `mapstructure:"escalation_actor"`
	EscalationAction            string        `mapstructure:"escalation_action"`
	Workers                     int           `mapstructure:"workers"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:                     5 * time.Second,
		LowPriorityQueueCapacity:    1000,
		MediumPriorityQueueCapacity: 1000,
		EscalationActor:             "review",
		EscalationAction:            "escalation",
		Workers:                     1,
	}
}

// Resolver — проверка существования целевого актора (registry.Registry).
type Resolver interface {
	Resolve(actorID string) (actor.Actor, error)
}

// Dispatcher — конверт: единственный, кто вызывает акторов и пишет аудит.
type Dispatcher interface {
	Invoke(ctx context.Context, actorID, action string, params map[string]any, opts ...engine.InvokeOption) (actor.Result, error)
	RecordCoordination(ctx context.Context, req domain.CoordinationRequest, outcome error)
}

// Instrumentation — хуки метрик. Реализуется engine.Metrics.
type Instrumentation interface {
	CoordinationRouted(priority, outcome string)
	SetQueueDepth(priority string, depth int)
}

type nopInstrumentation struct{}

func (nopInstrumentation) CoordinationRouted(string, string) {}
func (nopInstrumentation) SetQueueDepth(string, int)         {}

type job struct {
	ctx context.Context // Несет только Trace-ID, отмена вызывающего на очередь не влияет
	req domain.CoordinationRequest
}

type Router struct {
	cfg     Config
	actors  Resolver
	env     Dispatcher
	metrics Instrumentation
	logger  *zap.Logger
	clock   func() time.Time

	medium chan job
	low    chan job
	space  chan struct{} // Сигнал ожидающим medium: в очереди освободилось место

	mu      sync.RWMutex
	started bool
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

func NewRouter(actors Resolver, env Dispatcher, cfg Config, logger *zap.Logger) *Router {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.LowPriorityQueueCapacity <= 0 {
		cfg.LowPriorityQueueCapacity = def.LowPriorityQueueCapacity
	}
	if cfg.MediumPriorityQueueCapacity <= 0 {
		cfg.MediumPriorityQueueCapacity = def.MediumPriorityQueueCapacity
	}
	if cfg.EscalationAction == "" {
		cfg.EscalationAction = def.EscalationAction
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &Router{
		cfg:     cfg,
		actors:  actors,
		env:     env,
		metrics: nopInstrumentation{},
		logger:  logger.Named("coordination"),
		clock:   time.Now,
		medium:  make(chan job, cfg.MediumPriorityQueueCapacity),
		low:     make(chan job, cfg.LowPriorityQueueCapacity),
		space:   make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
}

// WithClock подменяет часы для детерминированных тестов.
func (r *Router) WithClock(clock func() time.Time) *Router {
	r.clock = clock
	return r
}

func (r *Router) SetInstrumentation(m Instrumentation) {
	if m != nil {
		r.metrics = m
	}
}

// Route принимает запрос координации. high/critical доставляются синхронно, low/medium ставятся в очередь.
func (r *Router) Route(ctx context.Context, req domain.CoordinationRequest) (domain.RouteResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.TraceID == "" {
		_, req.TraceID = engine.EnsureTraceID(ctx)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = r.clock()
	}
	res := domain.RouteResult{RequestID: req.RequestID}

	if req.Priority < domain.PriorityLow || req.Priority > domain.PriorityCritical {
		err := fmt.Errorf("coordination: invalid priority %d", int(req.Priority))
		r.env.RecordCoordination(ctx, req, err)
		return res, err
	}

	if _, err := r.actors.Resolve(req.TargetActor); err != nil {
		r.metrics.CoordinationRouted(req.Priority.String(), "unknown_target")
		r.env.RecordCoordination(ctx, req, err)
		r.logger.Error("coordination target not found",
			zap.String("request_id", req.RequestID),
			zap.String("source", req.SourceActor),
			zap.String("target", req.TargetActor))
		return res, err
	}

	if req.Priority.Synchronous() {
		return r.routeSync(ctx, req)
	}
	return r.enqueue(ctx, req)
}

func (r *Router) routeSync(ctx context.Context, req domain.CoordinationRequest) (domain.RouteResult, error) {
	res := domain.RouteResult{RequestID: req.RequestID}

	out, err := r.deliver(ctx, req)
	r.env.RecordCoordination(ctx, req, err)
	if err == nil {
		r.metrics.CoordinationRouted(req.Priority.String(), "delivered")
		res.Delivered = true
		res.Output = out.Data
		return res, nil
	}

	outcome := "failed"
	if errors.Is(err, domain.ErrRouteTimeout) {
		outcome = "timeout"
	}
	r.metrics.CoordinationRouted(req.Priority.String(), outcome)
	r.logger.Warn("coordination delivery failed",
		zap.String("request_id", req.RequestID),
		zap.String("target", req.TargetActor),
		zap.String("type", req.Type),
		zap.String("priority", req.Priority.String()),
		zap.Error(err))

	if req.Priority == domain.PriorityCritical {
		// Вызывающий мог уже отменить контекст, а эскалация все равно должна дойти
		if id, ok := r.escalate(context.WithoutCancel(ctx), req, err); ok {
			res.Escalated = true
			res.EscalationID = id
		}
	}
	return res, err
}

func (r *Router) enqueue(ctx context.Context, req domain.CoordinationRequest) (domain.RouteResult, error) {
	res := domain.RouteResult{RequestID: req.RequestID}
	j := job{ctx: engine.WithTraceID(context.Background(), req.TraceID), req: req}

	var err error
	switch req.Priority {
	case domain.PriorityLow:
		// low можно сбросить: при полной очереди отказ фиксируется в аудите
		var ok bool
		if ok, err = r.offer(r.low, j); err == nil && !ok {
			err = fmt.Errorf("%w: low priority tier at capacity %d", domain.ErrQueueFull, cap(r.low))
		}
	case domain.PriorityMedium:
		// medium не сбрасывается: вызывающий ждет места или отмены своего контекста
		err = r.waitOffer(ctx, r.medium, j)
	}

	r.env.RecordCoordination(ctx, req, err)
	r.publishDepth()
	if err != nil {
		outcome := "cancelled"
		switch {
		case errors.Is(err, domain.ErrQueueFull):
			outcome = "dropped"
		case errors.Is(err, ErrRouterStopped):
			outcome = "stopped"
		}
		r.metrics.CoordinationRouted(req.Priority.String(), outcome)
		r.logger.Warn("coordination request not queued",
			zap.String("request_id", req.RequestID),
			zap.String("target", req.TargetActor),
			zap.String("priority", req.Priority.String()),
			zap.Error(err))
		return res, err
	}

	r.metrics.CoordinationRouted(req.Priority.String(), "queued")
	res.Queued = true
	return res, nil
}

// offer — неблокирующая постановка. Проверка stopped и отправка идут под одной блокировкой, чтобы Stop не потерял запрос.
func (r *Router) offer(q chan job, j job) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return false, ErrRouterStopped
	}
	select {
	case q <- j:
		return true, nil
	default:
		return false, nil
	}
}

// waitOffer ждет места в очереди, не удерживая блокировку между попытками.
func (r *Router) waitOffer(ctx context.Context, q chan job, j job) error {
	for {
		ok, err := r.offer(q, j)
		if err != nil || ok {
			return err
		}
		t := time.NewTimer(25 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("coordination: enqueue %s: %w", j.req.RequestID, ctx.Err())
		case <-r.space:
		case <-r.quit:
		case <-t.C:
		}
		t.Stop()
	}
}

// deliver вызывает целевого актора через конверт под служебной идентичностью отправителя.
// Таймаут ограничивает ожидание, но не прерывает уже запущенный обработчик.
func (r *Router) deliver(ctx context.Context, req domain.CoordinationRequest) (actor.Result, error) {
	dctx := auth.WithIdentity(engine.WithTraceID(ctx, req.TraceID), domain.ServiceIdentity(req.SourceActor))
	dctx, cancel := context.WithTimeout(dctx, r.cfg.Timeout)
	defer cancel()

	params := maps.Clone(req.Payload)
	if req.OnBehalfOf != "" {
		if params == nil {
			params = make(map[string]any, 1)
		}
		params["on_behalf_of"] = req.OnBehalfOf
	}

	type outcome struct {
		res actor.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.env.Invoke(dctx, req.TargetActor, req.Type, params,
			engine.WithCoordination(req.RequestID, req.SourceActor, req.Priority))
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-dctx.Done():
		return actor.Result{}, fmt.Errorf("%w: %s.%s did not answer within %s", domain.ErrRouteTimeout, req.TargetActor, req.Type, r.cfg.Timeout)
	}
}

// escalate отправляет вторичный запрос актору эскалации. Эскалация идет с приоритетом high и сама не эскалируется.
func (r *Router) escalate(ctx context.Context, failed domain.CoordinationRequest, cause error) (string, bool) {
	if r.cfg.EscalationActor == "" {
		r.logger.Error("critical coordination failed and no escalation actor configured",
			zap.String("request_id", failed.RequestID), zap.Error(cause))
		return "", false
	}

	esc := domain.CoordinationRequest{
		RequestID:   uuid.New().String(),
		TraceID:     failed.TraceID,
		SourceActor: failed.SourceActor,
		TargetActor: r.cfg.EscalationActor,
		Type:        r.cfg.EscalationAction,
		Priority:    domain.PriorityHigh,
		OnBehalfOf:  failed.OnBehalfOf,
		CreatedAt:   r.clock(),
		Payload: map[string]any{
			"failed_request_id": failed.RequestID,
			"failed_target":     failed.TargetActor,
			"failed_type":       failed.Type,
			"reason":            cause.Error(),
			"error_kind":        domain.ErrorKind(cause),
			"original_payload":  failed.Payload,
		},
	}

	res, err := r.Route(ctx, esc)
	if err != nil {
		r.logger.Error("escalation failed",
			zap.String("request_id", failed.RequestID),
			zap.String("escalation_id", esc.RequestID),
			zap.Error(err))
		return res.RequestID, false
	}
	r.metrics.CoordinationRouted(failed.Priority.String(), "escalated")
	r.logger.Warn("critical coordination escalated",
		zap.String("request_id", failed.RequestID),
		zap.String("escalation_id", esc.RequestID),
		zap.String("escalation_actor", r.cfg.EscalationActor))
	return res.RequestID, true
}

// Start запускает воркеры очередей.
func (r *Router) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.logger.Info("coordination workers started", zap.Int("workers", r.cfg.Workers))
}

// Stop запирает вход и ждет, пока воркеры обработают все, что уже в очередях.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	close(r.quit)
	r.mu.Unlock()

	if !started {
		// Воркеров не было: дочитываем сами, чтобы принятые запросы не потерялись
		r.drain()
	}
	r.wg.Wait()
	r.logger.Info("coordination router stopped")
}

// worker: сначала medium, затем low; внутри уровня FIFO.
func (r *Router) worker() {
	defer r.wg.Done()
	for {
		select {
		case j := <-r.medium:
			r.process(j)
			continue
		default:
		}

		select {
		case j := <-r.medium:
			r.process(j)
		case j := <-r.low:
			// medium мог прийти одновременно: он идет раньше
			r.drainMedium()
			r.process(j)
		case <-r.quit:
			r.drain()
			return
		}
	}
}

func (r *Router) drainMedium() {
	for {
		select {
		case j := <-r.medium:
			r.process(j)
		default:
			return
		}
	}
}

func (r *Router) drain() {
	for {
		select {
		case j := <-r.medium:
			r.process(j)
			continue
		default:
		}
		select {
		case j := <-r.low:
			r.process(j)
		default:
			return
		}
	}
}

func (r *Router) process(j job) {
	select {
	case r.space <- struct{}{}:
	default:
	}
	r.publishDepth()
	// Запись стороны-получателя пишет конверт. Ошибка обработчика не возвращается отправителю.
	_, err := r.deliver(j.ctx, j.req)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, domain.ErrRouteTimeout) {
			outcome = "timeout"
			// Обработчик еще работает и запишет свой итог позже, поэтому провал доставки фиксирует отправитель
			r.env.RecordCoordination(j.ctx, j.req, err)
		}
		r.metrics.CoordinationRouted(j.req.Priority.String(), outcome)
		r.logger.Warn("queued coordination request failed",
			zap.String("request_id", j.req.RequestID),
			zap.String("target", j.req.TargetActor),
			zap.String("type", j.req.Type),
			zap.Error(err))
		return
	}
	r.metrics.CoordinationRouted(j.req.Priority.String(), "delivered")
}

func (r *Router) publishDepth() {
	r.metrics.SetQueueDepth(domain.PriorityMedium.String(), len(r.medium))
	r.metrics.SetQueueDepth(domain.PriorityLow.String(), len(r.low))
}
