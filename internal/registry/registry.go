// Package registry сопоставляет идентификаторы акторов с их экземплярами.
// Заполняется при старте процесса, во время работы акторы не создаются и не удаляются.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/trustmesh/internal/actor"
	"github.com/xela07ax/trustmesh/internal/domain"
)

// ErrNotFound — актор не зарегистрирован. Для вызывающих это UnknownTargetActor.
var ErrNotFound = fmt.Errorf("registry: %w", domain.ErrUnknownTargetActor)

type Registry struct {
	mu     sync.RWMutex
	actors map[string]actor.Actor
}

func New() *Registry {
	return &Registry{actors: make(map[string]actor.Actor)}
}

func (r *Registry) Register(actorID string, a actor.Actor) error {
	if actorID == "" || a == nil {
		return fmt.Errorf("registry: actor id and instance are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actors[actorID]; exists {
		return fmt.Errorf("registry: actor %q already registered", actorID)
	}
	r.actors[actorID] = a
	return nil
}

// MustRegister — для сборки в main, где дубликат означает ошибку конфигурации.
func (r *Registry) MustRegister(actorID string, a actor.Actor) {
	if err := r.Register(actorID, a); err != nil {
		panic(err)
	}
}

func (r *Registry) Resolve(actorID string) (actor.Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[actorID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, actorID)
	}
	return a, nil
}

// List возвращает описания всех акторов, отсортированные по id.
func (r *Registry) List() []domain.ActorDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ActorDescriptor, 0, len(r.actors))
	for id, a := range r.actors {
		specs := a.Actions()
		caps := make([]string, 0, len(specs))
		for _, s := range specs {
			caps = append(caps, s.Name)
		}
		out = append(out, domain.ActorDescriptor{ID: id, Name: a.Name(), Capabilities: caps})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
