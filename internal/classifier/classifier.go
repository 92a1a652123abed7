// Package classifier сопоставляет имя события со знаковой дельтой баллов.
// Таблица фиксирована и версионируется вместе с кодом: ни один актор не назначает баллы сам.
package classifier

import (
	"fmt"
	"io"
	"sort"

	"github.com/xela07ax/trustmesh/internal/domain"
	"gopkg.in/yaml.v3"
)

// Rule — строка таблицы классификатора.
type Rule struct {
	Delta       int64  `yaml:"delta" mapstructure:"delta"`
	Explanation string `yaml:"explanation" mapstructure:"explanation"`
}

// Classification — результат классификации.
type Classification struct {
	EventType   string
	Delta       int64
	Explanation string
}

// Violation: отрицательная дельта.
func (c Classification) Violation() bool { return c.Delta < 0 }

// Classifier — чистая функция поверх неизменяемой таблицы.
type Classifier struct {
	rules map[string]Rule
}

// New копирует таблицу: последующие изменения исходной мапы на классификатор не влияют.
func New(rules map[string]Rule) (*Classifier, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("classifier: empty event table")
	}
	table := make(map[string]Rule, len(rules))
	for name, r := range rules {
		if name == "" {
			return nil, fmt.Errorf("classifier: empty event type name")
		}
		table[name] = r
	}
	return &Classifier{rules: table}, nil
}

// Default возвращает классификатор со встроенной таблицей.
func Default() *Classifier {
	c, _ := New(DefaultRules())
	return c
}

// Load читает таблицу в YAML-формате:
//
//	complete_gig:
//	  delta: 40
//	  explanation: Completed a gig
func Load(r io.Reader) (*Classifier, error) {
	var rules map[string]Rule
	if err := yaml.NewDecoder(r).Decode(&rules); err != nil {
		return nil, fmt.Errorf("classifier: decode table: %w", err)
	}
	return New(rules)
}

// Classify возвращает дельту и пояснение либо ErrUnknownEventType.
func (c *Classifier) Classify(eventType string) (Classification, error) {
	r, ok := c.rules[eventType]
	if !ok {
		return Classification{}, fmt.Errorf("%w: %q", domain.ErrUnknownEventType, eventType)
	}
	return Classification{EventType: eventType, Delta: r.Delta, Explanation: r.Explanation}, nil
}

// Types — отсортированный список известных типов событий.
func (c *Classifier) Types() []string {
	out := make([]string, 0, len(c.rules))
	for name := range c.rules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
