package domain

import (
	"fmt"
	"strings"
	"time"
)

// Priority — упорядоченный приоритет запроса координации.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"low", "medium", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Synchronous: high и critical доставляются сквозным вызовом, low и medium через очередь.
func (p Priority) Synchronous() bool {
	return p >= PriorityHigh
}

// ParsePriority разбирает строковое имя приоритета (регистр не важен).
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Priority(i), nil
		}
	}
	return PriorityLow, fmt.Errorf("unknown priority %q", s)
}

// CoordinationRequest — сообщение от одного актора другому. Эфемерно: живет только в аудите.
type CoordinationRequest struct {
	RequestID   string         `json:"request_id"`
	TraceID     string         `json:"trace_id,omitempty"`
	SourceActor string         `json:"source_actor"`
	TargetActor string         `json:"target_actor"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    Priority       `json:"priority"`
	OnBehalfOf  string         `json:"on_behalf_of,omitempty"` // Принципал, ради которого отправлен запрос
	CreatedAt   time.Time      `json:"created_at"`
}

// RouteResult — результат Router.Route.
type RouteResult struct {
	RequestID    string         `json:"request_id"`
	Delivered    bool           `json:"delivered"` // Синхронная доставка завершилась успешно
	Queued       bool           `json:"queued"`    // Принят в очередь (подтверждение для low/medium)
	Output       map[string]any `json:"output,omitempty"`
	Escalated    bool           `json:"escalated,omitempty"`
	EscalationID string         `json:"escalation_id,omitempty"`
}
