package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xela07ax/trustmesh/internal/actor"
	"github.com/xela07ax/trustmesh/internal/audit"
	"github.com/xela07ax/trustmesh/internal/domain"
	"github.com/xela07ax/trustmesh/internal/infra/auth"
	"github.com/xela07ax/trustmesh/internal/policy"
)

// Resolver — поиск актора по id (registry.Registry).
type Resolver interface {
	Resolve(actorID string) (actor.Actor, error)
}

// TrustReader — чтение текущего уровня принципала (ledger.Ledger).
type TrustReader interface {
	Level(ctx context.Context, principalID string) (int, error)
}

// Envelope — обязательная обертка над каждым вызовом актора.
// Порядок фиксирован: auth → trust → dispatch, а запись аудита делается всегда, ровно одна на вызов.
type Envelope struct {
	actors   Resolver
	trust    TrustReader
	pdp      policy.Enforcer
	auditor  audit.Auditor
	redactor *audit.Redactor
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *zap.Logger
	clock    func() time.Time
}

func NewEnvelope(actors Resolver, trust TrustReader, pdp policy.Enforcer, auditor audit.Auditor, redactor *audit.Redactor, metrics *Metrics, logger *zap.Logger) *Envelope {
	if redactor == nil {
		redactor = audit.NewRedactor(0, nil)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Envelope{
		actors:   actors,
		trust:    trust,
		pdp:      pdp,
		auditor:  auditor,
		redactor: redactor,
		metrics:  metrics,
		tracer:   otel.Tracer("github.com/xela07ax/trustmesh/internal/engine"),
		logger:   logger.Named("envelope"),
		clock:    time.Now,
	}
}

// WithClock подменяет часы для детерминированных тестов.
func (e *Envelope) WithClock(clock func() time.Time) *Envelope {
	e.clock = clock
	return e
}

type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	minTrust    int
	requestID   string
	counterpart string
	priority    string
}

// WithMinTrustLevel — дополнительный порог уровня доверия от вызывающего.
func WithMinTrustLevel(level int) InvokeOption {
	return func(o *invokeOptions) { o.minTrust = level }
}

// WithCoordination помечает вызов как доставку запроса координации.
func WithCoordination(requestID, sourceActor string, p domain.Priority) InvokeOption {
	return func(o *invokeOptions) {
		o.requestID = requestID
		o.counterpart = sourceActor
		o.priority = p.String()
	}
}

// Invoke выполняет действие актора. Идентичность берется из контекста (auth.IdentityFrom).
func (e *Envelope) Invoke(ctx context.Context, actorID, action string, params map[string]any, opts ...InvokeOption) (res actor.Result, err error) {
	var o invokeOptions
	for _, opt := range opts {
		opt(&o)
	}

	start := e.clock()
	ctx, traceID := EnsureTraceID(ctx)
	identity, _ := auth.IdentityFrom(ctx)

	ctx, span := e.tracer.Start(ctx, "envelope."+actorID+"."+action, trace.WithAttributes(
		attribute.String("actor_id", actorID),
		attribute.String("action", action),
		attribute.String("trace_id", traceID),
	))

	rec := audit.ActionRecord{
		ID:          uuid.New().String(),
		TraceID:     traceID,
		RequestID:   o.requestID,
		ActorID:     actorID,
		Action:      action,
		Params:      e.redactor.Apply(params),
		Counterpart: o.counterpart,
		Priority:    o.priority,
		Timestamp:   start,
	}
	if identity != nil {
		rec.PrincipalID = identity.PrincipalID
	}

	e.metrics.TotalActions.WithLabelValues(actorID, action).Inc()

	// Шаг 4: аудит пишется при любом исходе
	defer func() {
		elapsed := e.clock().Sub(start)
		rec.DurationMs = elapsed.Milliseconds()
		status := "success"
		if err != nil {
			status = "failed"
			rec.Error = err.Error()
			rec.ErrorKind = domain.ErrorKind(err)
			e.metrics.ErrorTotal.WithLabelValues(rec.ErrorKind).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, rec.ErrorKind)
		}
		rec.Success = err == nil
		e.auditor.Log(rec)
		e.metrics.ActionDuration.WithLabelValues(actorID, action, status).Observe(elapsed.Seconds())
		span.End()
	}()

	// Требование (в том числе анонимный доступ) известно только у актора, поэтому поиск идет до auth
	a, err := e.actors.Resolve(actorID)
	if err != nil {
		return actor.Result{}, err
	}

	// Неизвестное действие не может быть анонимным: без идентичности сначала сработает auth
	spec, known := actor.Lookup(a, action)
	req := spec.Requirement
	if e.pdp != nil {
		if extra, ok := e.pdp.Lookup(actorID, action); ok {
			req = req.Merge(extra)
		}
	}
	if o.minTrust > req.MinTrustLevel {
		req.MinTrustLevel = o.minTrust
	}

	// Шаг 1: идентичность
	if !req.Anonymous && identity == nil {
		return actor.Result{}, fmt.Errorf("%w: %s.%s", domain.ErrUnauthenticated, actorID, action)
	}

	// Шаг 2: уровень доверия
	if req.MinTrustLevel > 0 {
		if identity == nil {
			return actor.Result{}, fmt.Errorf("%w: trust level %d requires identity", domain.ErrUnauthenticated, req.MinTrustLevel)
		}
		level, lerr := e.trust.Level(ctx, identity.PrincipalID)
		if lerr != nil {
			return actor.Result{}, fmt.Errorf("envelope: read trust level: %w", lerr)
		}
		if level < req.MinTrustLevel {
			return actor.Result{}, &domain.TrustError{Required: req.MinTrustLevel, Actual: level}
		}
	}

	// Шаг 3: диспетчеризация
	if !known {
		return actor.Result{}, fmt.Errorf("%w: %s.%s", domain.ErrUnknownAction, actorID, action)
	}
	return e.dispatch(ctx, a, actor.Call{
		Action:    action,
		Identity:  identity,
		Params:    params,
		TraceID:   traceID,
		RequestID: o.requestID,
	})
}

// dispatch превращает панику обработчика в ошибку, чтобы вызов все равно закончился записью аудита.
func (e *Envelope) dispatch(ctx context.Context, a actor.Actor, call actor.Call) (res actor.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("actor handler panicked",
				zap.String("actor", a.Name()),
				zap.String("action", call.Action),
				zap.Any("panic", r))
			err = fmt.Errorf("envelope: handler panic: %v", r)
		}
	}()
	return a.Execute(ctx, call)
}

// RecordCoordination пишет запись стороны-отправителя запроса координации.
// Запись стороны-получателя создается самим Invoke при доставке.
func (e *Envelope) RecordCoordination(ctx context.Context, req domain.CoordinationRequest, outcome error) {
	rec := audit.ActionRecord{
		ID:          uuid.New().String(),
		TraceID:     req.TraceID,
		RequestID:   req.RequestID,
		ActorID:     req.SourceActor,
		PrincipalID: req.OnBehalfOf,
		Action:      "coordinate." + req.Type,
		Params:      e.redactor.Apply(req.Payload),
		Counterpart: req.TargetActor,
		Priority:    req.Priority.String(),
		Success:     outcome == nil,
		Timestamp:   e.clock(),
	}
	if rec.TraceID == "" {
		rec.TraceID = TraceIDFrom(ctx)
	}
	if !req.CreatedAt.IsZero() {
		rec.DurationMs = rec.Timestamp.Sub(req.CreatedAt).Milliseconds()
	}
	if outcome != nil {
		rec.Error = outcome.Error()
		rec.ErrorKind = domain.ErrorKind(outcome)
	}
	e.auditor.Log(rec)
}
