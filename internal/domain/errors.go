package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок ядра. Все ошибки шагов 1–3 конверта попадают в ActionRecord.
var (
	ErrUnauthenticated    = errors.New("unauthenticated: verified identity required")
	ErrInsufficientTrust  = errors.New("insufficient trust level")
	ErrUnknownAction      = errors.New("unknown action")
	ErrUnknownEventType   = errors.New("unknown event type")
	ErrUnknownTargetActor = errors.New("unknown target actor")
	ErrAccountFrozen      = errors.New("account frozen")
	ErrRouteTimeout       = errors.New("coordination route timeout")
	ErrQueueFull          = errors.New("coordination queue full")
)

// FrozenError возвращается леджером при попытке начислить баллы замороженному принципалу.
// Несет причину заморозки, чтобы вызывающий мог отправить пользователя на ревью.
type FrozenError struct {
	PrincipalID string
	Reason      string
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("account frozen: principal %s (%s)", e.PrincipalID, e.Reason)
}

func (e *FrozenError) Unwrap() error { return ErrAccountFrozen }

// TrustError уточняет ErrInsufficientTrust требуемым и фактическим уровнем.
type TrustError struct {
	Required int
	Actual   int
}

func (e *TrustError) Error() string {
	return fmt.Sprintf("insufficient trust level: required %d, actual %d", e.Required, e.Actual)
}

func (e *TrustError) Unwrap() error { return ErrInsufficientTrust }

// ErrorKind сводит ошибку к короткой метке для метрик и аудита.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInsufficientTrust):
		return "insufficient_trust"
	case errors.Is(err, ErrUnknownAction):
		return "unknown_action"
	case errors.Is(err, ErrUnknownEventType):
		return "unknown_event_type"
	case errors.Is(err, ErrUnknownTargetActor):
		return "unknown_target_actor"
	case errors.Is(err, ErrAccountFrozen):
		return "account_frozen"
	case errors.Is(err, ErrRouteTimeout):
		return "route_timeout"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	default:
		return "handler_error"
	}
}
