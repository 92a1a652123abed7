package auth

import (
	"context"

	"github.com/xela07ax/trustmesh/internal/domain"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey struct{}

// WithIdentity кладет проверенную идентичность в контекст вызова.
func WithIdentity(ctx context.Context, id *domain.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom достает идентичность. Для анонимного вызова (nil, false).
func IdentityFrom(ctx context.Context) (*domain.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*domain.Identity)
	if !ok || !id.Verified() {
		return nil, false
	}
	return id, true
}
