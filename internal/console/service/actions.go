package service

import (
	"context"

	"github.com/xela07ax/trustmesh/internal/actor"
	"github.com/xela07ax/trustmesh/internal/domain"
	"github.com/xela07ax/trustmesh/internal/engine"
)

// Invoker — конверт. Идентичность уже лежит в контексте запроса.
type Invoker interface {
	Invoke(ctx context.Context, actorID, action string, params map[string]any, opts ...engine.InvokeOption) (actor.Result, error)
}

// ActorLister — каталог зарегистрированных акторов (registry.Registry).
type ActorLister interface {
	List() []domain.ActorDescriptor
}

type ActionService struct {
	env    Invoker
	actors ActorLister
}

func NewActionService(env Invoker, actors ActorLister) *ActionService {
	return &ActionService{env: env, actors: actors}
}

// Invoke проводит вызов через конверт. minTrust > 0 поднимает требование для этого вызова.
func (s *ActionService) Invoke(ctx context.Context, actorID, action string, params map[string]any, minTrust int) (actor.Result, error) {
	var opts []engine.InvokeOption
	if minTrust > 0 {
		opts = append(opts, engine.WithMinTrustLevel(minTrust))
	}
	return s.env.Invoke(ctx, actorID, action, params, opts...)
}

func (s *ActionService) Actors() []domain.ActorDescriptor {
	return s.actors.List()
}
