// Package actor задает контракт, который реализует каждый сервисный актор.
// Общее поведение (аудит, проверка доверия) живет в конверте, а не в акторах.
package actor

import (
	"context"
	"fmt"
	"sort"

	"github.com/xela07ax/trustmesh/internal/domain"
)

// ActionSpec — объявление действия актора и его требований.
type ActionSpec struct {
	Name        string
	Description string
	Requirement domain.Requirement
}

// Call — то, что конверт передает обработчику после всех проверок.
type Call struct {
	Action    string
	Identity  *domain.Identity // nil для анонимных действий
	Params    map[string]any
	TraceID   string
	RequestID string // Заполнен, если вызов пришел через координацию
}

// Principal — принципал вызова или пустая строка.
func (c Call) Principal() string {
	if c.Identity == nil {
		return ""
	}
	return c.Identity.PrincipalID
}

type Result struct {
	Data map[string]any `json:"data"`
}

type Actor interface {
	Name() string
	Actions() []ActionSpec
	Execute(ctx context.Context, call Call) (Result, error)
}

type HandlerFunc func(ctx context.Context, call Call) (Result, error)

// Mux — таблица обработчиков по имени действия. Акторы встраивают его вместо ручного switch.
type Mux struct {
	specs    map[string]ActionSpec
	handlers map[string]HandlerFunc
}

func NewMux() *Mux {
	return &Mux{
		specs:    make(map[string]ActionSpec),
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle регистрирует действие. Повторная регистрация считается ошибкой программиста.
func (m *Mux) Handle(spec ActionSpec, h HandlerFunc) {
	if _, dup := m.specs[spec.Name]; dup {
		panic(fmt.Sprintf("actor: action %q registered twice", spec.Name))
	}
	m.specs[spec.Name] = spec
	m.handlers[spec.Name] = h
}

func (m *Mux) Actions() []ActionSpec {
	out := make([]ActionSpec, 0, len(m.specs))
	for _, s := range m.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Mux) Execute(ctx context.Context, call Call) (Result, error) {
	h, ok := m.handlers[call.Action]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrUnknownAction, call.Action)
	}
	return h(ctx, call)
}

// Lookup ищет объявление действия у актора.
func Lookup(a Actor, action string) (ActionSpec, bool) {
	for _, s := range a.Actions() {
		if s.Name == action {
			return s, true
		}
	}
	return ActionSpec{}, false
}

// Params helpers

func String(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func Int(params map[string]any, key string) (int64, bool) {
	switch v := params[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func Map(params map[string]any, key string) map[string]any {
	m, _ := params[key].(map[string]any)
	return m
}
