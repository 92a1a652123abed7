package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/trustmesh/internal/actor"
	"github.com/xela07ax/trustmesh/internal/classifier"
	"github.com/xela07ax/trustmesh/internal/domain"
	"github.com/xela07ax/trustmesh/internal/ledger"
)

// Ledger — операции реестра доверия, которые нужны актору репутации.
type Ledger interface {
	ApplyEvent(ctx context.Context, principalID, eventType, source string, detail map[string]any, opts ...ledger.ApplyOption) (*domain.ApplyResult, error)
	Snapshot(ctx context.Context, principalID string) (*domain.TrustRecord, error)
}

// Classifier — предварительная проверка знака события.
type Classifier interface {
	Classify(eventType string) (classifier.Classification, error)
}

// Reputation принимает вклады и нарушения и отдает состояние доверия.
// При заморозке отправляет кейс актору ревью с приоритетом critical.
type Reputation struct {
	*actor.Mux
	ledger     Ledger
	classifier Classifier
	router     Router
	reviewer   string
	logger     *zap.Logger
}

func NewReputation(l Ledger, c Classifier, router Router, logger *zap.Logger) *Reputation {
	r := &Reputation{
		Mux:        actor.NewMux(),
		ledger:     l,
		classifier: c,
		router:     router,
		reviewer:   ReviewID,
		logger:     logger.Named("reputation"),
	}
	r.Handle(actor.ActionSpec{
		Name:        "record_contribution",
		Description: "Record a positive contribution for the caller (other principals need the record_contributions permission)",
	}, r.recordContribution)
	r.Handle(actor.ActionSpec{
		Name:        "report_violation",
		Description: "Report a confirmed violation against a principal",
		Requirement: domain.Requirement{MinTrustLevel: 3},
	}, r.reportViolation)
	r.Handle(actor.ActionSpec{
		Name:        "trust_status",
		Description: "Score, level, badges and freeze state of a principal",
	}, r.trustStatus)
	return r
}

func (*Reputation) Name() string { return "Reputation" }

// WithReviewer меняет адресата кейсов заморозки.
func (r *Reputation) WithReviewer(actorID string) *Reputation {
	r.reviewer = actorID
	return r
}

func (r *Reputation) recordContribution(ctx context.Context, call actor.Call) (actor.Result, error) {
	target := actor.String(call.Params, "principal_id")
	if target != "" && target != call.Principal() && !canRecordFor(call.Identity) {
		r.logger.Warn("foreign contribution rejected",
			zap.String("caller", call.Principal()),
			zap.String("principal_id", target),
			zap.String("trace_id", call.TraceID))
		return actor.Result{}, fmt.Errorf("%w: contributions for %s need %q", ErrForbidden, target, PermissionRecord)
	}
	return r.apply(ctx, call, false)
}

// canRecordFor: чужие вклады начисляют только источники событий и другие акторы через координацию.
func canRecordFor(id *domain.Identity) bool {
	return requireService(id) || id.HasPermission(PermissionRecord)
}

func (r *Reputation) reportViolation(ctx context.Context, call actor.Call) (actor.Result, error) {
	if actor.String(call.Params, "principal_id") == "" {
		return actor.Result{}, fmt.Errorf("%w: principal_id is required", ErrInvalidParam)
	}
	return r.apply(ctx, call, true)
}

func (r *Reputation) apply(ctx context.Context, call actor.Call, violation bool) (actor.Result, error) {
	eventType := actor.String(call.Params, "event_type")
	principal := actor.String(call.Params, "principal_id")
	if principal == "" {
		principal = call.Principal()
	}

	cls, err := r.classifier.Classify(eventType)
	if err != nil {
		return actor.Result{}, err
	}
	if cls.Violation() != violation {
		return actor.Result{}, fmt.Errorf("%w: %s is not a %s", ErrInvalidParam, eventType, kindName(violation))
	}

	var opts []ledger.ApplyOption
	if id := actor.String(call.Params, "event_id"); id != "" {
		opts = append(opts, ledger.WithEventID(id))
	}
	res, err := r.ledger.ApplyEvent(ctx, principal, eventType, call.Principal(), actor.Map(call.Params, "detail"), opts...)
	if err != nil {
		return actor.Result{}, err
	}

	out := map[string]any{
		"principal_id":   res.PrincipalID,
		"delta":          res.Delta,
		"explanation":    res.Explanation,
		"new_score":      res.NewScore,
		"new_level":      res.NewLevel,
		"previous_level": res.PreviousLevel,
		"leveled_up":     res.LeveledUp,
		"badges_earned":  res.BadgesEarned,
		"frozen":         res.Frozen,
	}
	if res.Duplicate {
		out["duplicate"] = true
	}
	if res.FrozeNow {
		out["freeze_reason"] = res.FreezeReason
		if id, ok := r.requestReview(ctx, call, res); ok {
			out["review_request_id"] = id
		}
	}
	return actor.Result{Data: out}, nil
}

// requestReview — заморозка уже применена, поэтому сбой доставки не отменяет результат вызова.
func (r *Reputation) requestReview(ctx context.Context, call actor.Call, res *domain.ApplyResult) (string, bool) {
	route, err := r.router.Route(ctx, domain.CoordinationRequest{
		TraceID:     call.TraceID,
		SourceActor: ReputationID,
		TargetActor: r.reviewer,
		Type:        "review_freeze",
		Priority:    domain.PriorityCritical,
		OnBehalfOf:  res.PrincipalID,
		Payload: map[string]any{
			"principal_id": res.PrincipalID,
			"reason":       res.FreezeReason,
			"fraud_flags":  res.FraudFlags,
			"score":        res.NewScore,
		},
	})
	if err != nil {
		r.logger.Error("freeze review request failed",
			zap.String("principal_id", res.PrincipalID),
			zap.String("request_id", route.RequestID),
			zap.Bool("escalated", route.Escalated),
			zap.Error(err))
		return route.RequestID, false
	}
	return route.RequestID, true
}

func (r *Reputation) trustStatus(ctx context.Context, call actor.Call) (actor.Result, error) {
	principal := actor.String(call.Params, "principal_id")
	if principal == "" {
		principal = call.Principal()
	}
	rec, err := r.ledger.Snapshot(ctx, principal)
	if err != nil {
		return actor.Result{}, err
	}
	out := map[string]any{
		"principal_id":  rec.PrincipalID,
		"total_score":   rec.TotalScore,
		"level":         rec.Level,
		"badges":        rec.Badges,
		"frozen":        rec.Frozen,
		"recent_events": len(rec.RecentEvents),
	}
	if rec.Frozen {
		out["freeze_reason"] = rec.FreezeReason
	}
	return actor.Result{Data: out}, nil
}

func kindName(violation bool) string {
	if violation {
		return "violation"
	}
	return "contribution"
}
