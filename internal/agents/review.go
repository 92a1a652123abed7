package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/trustmesh/internal/actor"
	"github.com/xela07ax/trustmesh/internal/domain"
)

// Releaser публикует решение о разморозке (engine.FreezeManager).
type Releaser interface {
	Release(ctx context.Context, principalID string) error
}

type CaseKind string

const (
	CaseFreeze     CaseKind = "freeze"
	CaseEscalation CaseKind = "escalation"
)

type CaseStatus string

const (
	CaseOpen     CaseStatus = "open"
	CaseReleased CaseStatus = "released"
	CaseUpheld   CaseStatus = "upheld"
	CaseClosed   CaseStatus = "closed"
)

// Case — кейс ревью. Живет в памяти процесса: след решений остается в аудите.
type Case struct {
	ID          string         `json:"id"`
	Kind        CaseKind       `json:"kind"`
	PrincipalID string         `json:"principal_id,omitempty"`
	Reason      string         `json:"reason"`
	RequestID   string         `json:"request_id,omitempty"`
	OpenedBy    string         `json:"opened_by"`
	Detail      map[string]any `json:"detail,omitempty"`
	Status      CaseStatus     `json:"status"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	OpenedAt    time.Time      `json:"opened_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// Review собирает кейсы заморозки и эскалации. Разморозка идет только через Releaser.
type Review struct {
	*actor.Mux
	releaser Releaser
	logger   *zap.Logger
	clock    func() time.Time

	mu    sync.Mutex
	cases []*Case
}

func NewReview(releaser Releaser, logger *zap.Logger) *Review {
	r := &Review{
		Mux:      actor.NewMux(),
		releaser: releaser,
		logger:   logger.Named("review"),
		clock:    time.Now,
	}
	r.Handle(actor.ActionSpec{
		Name:        "review_freeze",
		Description: "Open a review case for a frozen principal",
	}, r.reviewFreeze)
	r.Handle(actor.ActionSpec{
		Name:        "escalation",
		Description: "Open a case for a failed critical coordination request",
	}, r.escalation)
	r.Handle(actor.ActionSpec{
		Name:        "open_cases",
		Description: "List cases awaiting a decision",
		Requirement: domain.Requirement{MinTrustLevel: 5},
	}, r.openCases)
	r.Handle(actor.ActionSpec{
		Name:        "resolve_case",
		Description: "Close a case; release lifts the freeze",
		Requirement: domain.Requirement{MinTrustLevel: 5},
	}, r.resolveCase)
	return r
}

func (*Review) Name() string { return "Review" }

func (r *Review) WithClock(clock func() time.Time) *Review {
	r.clock = clock
	return r
}

func (r *Review) reviewFreeze(_ context.Context, call actor.Call) (actor.Result, error) {
	if !requireService(call.Identity) {
		return actor.Result{}, fmt.Errorf("%w: review_freeze accepts coordination requests only", ErrForbidden)
	}
	principal := actor.String(call.Params, "principal_id")
	if principal == "" {
		return actor.Result{}, fmt.Errorf("%w: principal_id is required", ErrInvalidParam)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Один открытый кейс на принципала
	for _, c := range r.cases {
		if c.Kind == CaseFreeze && c.PrincipalID == principal && c.Status == CaseOpen {
			return actor.Result{Data: map[string]any{"case_id": c.ID, "existing": true}}, nil
		}
	}
	c := r.open(call, CaseFreeze, principal, actor.String(call.Params, "reason"))
	r.logger.Warn("freeze case opened",
		zap.String("case_id", c.ID),
		zap.String("principal_id", principal),
		zap.String("reason", c.Reason))
	return actor.Result{Data: map[string]any{"case_id": c.ID}}, nil
}

func (r *Review) escalation(_ context.Context, call actor.Call) (actor.Result, error) {
	if !requireService(call.Identity) {
		return actor.Result{}, fmt.Errorf("%w: escalation accepts coordination requests only", ErrForbidden)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.open(call, CaseEscalation, actor.String(call.Params, "on_behalf_of"), actor.String(call.Params, "reason"))
	r.logger.Error("escalation case opened",
		zap.String("case_id", c.ID),
		zap.String("failed_request_id", actor.String(call.Params, "failed_request_id")),
		zap.String("failed_target", actor.String(call.Params, "failed_target")),
		zap.String("reason", c.Reason))
	return actor.Result{Data: map[string]any{"case_id": c.ID}}, nil
}

// open вызывается под r.mu.
func (r *Review) open(call actor.Call, kind CaseKind, principal, reason string) *Case {
	detail := make(map[string]any, len(call.Params))
	for k, v := range call.Params {
		detail[k] = v
	}
	c := &Case{
		ID:          uuid.New().String(),
		Kind:        kind,
		PrincipalID: principal,
		Reason:      reason,
		RequestID:   call.RequestID,
		OpenedBy:    call.Principal(),
		Detail:      detail,
		Status:      CaseOpen,
		OpenedAt:    r.clock(),
	}
	r.cases = append(r.cases, c)
	return c
}

func (r *Review) openCases(_ context.Context, call actor.Call) (actor.Result, error) {
	if !call.Identity.HasPermission(PermissionReview) {
		return actor.Result{}, fmt.Errorf("%w: %s permission required", ErrForbidden, PermissionReview)
	}
	kind := CaseKind(actor.String(call.Params, "kind"))

	r.mu.Lock()
	out := make([]Case, 0)
	for _, c := range r.cases {
		if c.Status == CaseOpen && (kind == "" || c.Kind == kind) {
			out = append(out, *c)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return actor.Result{Data: map[string]any{"cases": out, "count": len(out)}}, nil
}

func (r *Review) resolveCase(ctx context.Context, call actor.Call) (actor.Result, error) {
	if !call.Identity.HasPermission(PermissionReview) {
		return actor.Result{}, fmt.Errorf("%w: %s permission required", ErrForbidden, PermissionReview)
	}
	id := actor.String(call.Params, "case_id")
	decision := actor.String(call.Params, "decision")

	r.mu.Lock()
	c := r.find(id)
	if c == nil || c.Status != CaseOpen {
		r.mu.Unlock()
		return actor.Result{}, fmt.Errorf("%w: no open case %q", ErrInvalidParam, id)
	}
	status, err := r.decide(c, decision)
	if err != nil {
		r.mu.Unlock()
		return actor.Result{}, err
	}
	now := r.clock()
	c.Status = status
	c.ResolvedBy = call.Principal()
	c.ResolvedAt = &now
	principal := c.PrincipalID
	r.mu.Unlock()

	if status == CaseReleased {
		if err := r.releaser.Release(ctx, principal); err != nil {
			r.reopen(id)
			return actor.Result{}, err
		}
	}
	r.logger.Info("case resolved",
		zap.String("case_id", id),
		zap.String("status", string(status)),
		zap.String("resolved_by", call.Principal()))
	return actor.Result{Data: map[string]any{"case_id": id, "status": string(status)}}, nil
}

func (r *Review) decide(c *Case, decision string) (CaseStatus, error) {
	switch {
	case c.Kind == CaseFreeze && decision == "release":
		return CaseReleased, nil
	case c.Kind == CaseFreeze && decision == "uphold":
		return CaseUpheld, nil
	case c.Kind == CaseEscalation && decision == "close":
		return CaseClosed, nil
	default:
		return "", fmt.Errorf("%w: decision %q does not apply to %s case", ErrInvalidParam, decision, c.Kind)
	}
}

func (r *Review) find(id string) *Case {
	for _, c := range r.cases {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (r *Review) reopen(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.find(id); c != nil {
		c.Status = CaseOpen
		c.ResolvedBy = ""
		c.ResolvedAt = nil
	}
}
