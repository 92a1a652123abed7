package auth

import (
	"net/http"

	"github.com/xela07ax/trustmesh/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — проверка bearer-токена, выпущенного внешним провайдером.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// NewMiddleware прокидывает идентичность в контекст, если токен валиден.
// Запрос без токена или с плохим токеном идет дальше анонимным: решение принимает конверт и оно попадает в аудит.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.String("path", r.URL.Path), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithIdentity(r.Context(), domain.IdentityFromClaims(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireIdentity отсекает анонимные запросы (служебные ручки, не проходящие через конверт).
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFrom(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
