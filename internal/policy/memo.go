package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/xela07ax/trustmesh/internal/domain"
	"go.uber.org/zap"
)

type RuleSource interface {
	Rules(ctx context.Context) ([]domain.PolicyRule, error)
}

// StaticRules — правила из конфигурации.
type StaticRules []domain.PolicyRule

func (s StaticRules) Rules(context.Context) ([]domain.PolicyRule, error) { return s, nil }

// MemoEnforcer — потокобезопасный кэш правил в памяти. Горячий путь конверта работает только с ним.
type MemoEnforcer struct {
	mu sync.RWMutex
	// Кэш: "actor:action" -> требование
	rules map[string]domain.Requirement

	source RuleSource // Используется только в Refresh()
	logger *zap.Logger
}

func NewMemoEnforcer(source RuleSource, logger *zap.Logger) *MemoEnforcer {
	return &MemoEnforcer{
		rules:  make(map[string]domain.Requirement),
		source: source,
		logger: logger.Named("enforcer"),
	}
}

// Lookup: сначала персональное правило, затем wildcard по действию, по актору и общий.
func (e *MemoEnforcer) Lookup(actorID, action string) (domain.Requirement, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, key := range []string{
		actorID + ":" + action,
		actorID + ":" + Wildcard,
		Wildcard + ":" + action,
		Wildcard + ":" + Wildcard,
	} {
		if r, ok := e.rules[key]; ok {
			return r, true
		}
	}
	return domain.Requirement{}, false
}

// Refresh перечитывает правила из источника и атомарно подменяет кэш.
func (e *MemoEnforcer) Refresh(ctx context.Context) error {
	rules, err := e.source.Rules(ctx)
	if err != nil {
		return fmt.Errorf("policy: load rules: %w", err)
	}

	next := make(map[string]domain.Requirement, len(rules))
	for _, r := range rules {
		if r.Actor == "" || r.Action == "" {
			return fmt.Errorf("policy: rule needs actor and action (got %q:%q)", r.Actor, r.Action)
		}
		if r.MinTrustLevel < 0 {
			return fmt.Errorf("policy: negative min_trust_level for %s:%s", r.Actor, r.Action)
		}
		key := r.Actor + ":" + r.Action
		req := domain.Requirement{Anonymous: r.Anonymous, MinTrustLevel: r.MinTrustLevel}
		// Дубликаты сливаются в более строгое требование
		if prev, ok := next[key]; ok {
			req = prev.Merge(req)
		}
		next[key] = req
	}

	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()

	e.logger.Info("policy cache refreshed", zap.Int("count", len(next)))
	return nil
}
