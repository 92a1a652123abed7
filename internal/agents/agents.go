// Package agents содержит сервисных акторов платформы. Каждый актор знает только свой домен,
// а проверки доступа, аудит и доставку между акторами берут на себя конверт и роутер.
package agents

import (
	"context"
	"errors"

	"github.com/xela07ax/trustmesh/internal/domain"
)

const (
	ReputationID = "reputation"
	ReviewID     = "review"
	AssistantID  = "assistant"
)

var (
	ErrForbidden    = errors.New("agents: permission denied")
	ErrInvalidParam = errors.New("agents: invalid parameter")
)

// Router — отправка запросов другим акторам (coordination.Router).
type Router interface {
	Route(ctx context.Context, req domain.CoordinationRequest) (domain.RouteResult, error)
}

const (
	// PermissionReview — право оператора ревью разбирать кейсы.
	PermissionReview = "review"
	// PermissionRecord выдается внешним системам-источникам (биржа заказов, форум), которые начисляют вклады пользователям.
	PermissionRecord = "record_contributions"
)

func requireService(id *domain.Identity) bool {
	return id != nil && id.Service && id.HasPermission(domain.PermissionCoordination)
}
