package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — полезная нагрузка токена, выпущенного внешним провайдером идентичности.
type CustomClaims struct {
	UserID      string          `json:"user_id"`
	Permissions []string        `json:"permissions"`
	Preferences map[string]bool `json:"preferences,omitempty"` // Настройки доступности, в логике доверия не участвуют
	jwt.RegisteredClaims
}

// Identity — проверенный принципал, от имени которого выполняется действие.
// Ядро его только читает: выпуск и обновление токенов вне нашей зоны.
type Identity struct {
	PrincipalID string          `json:"principal_id"`
	Permissions []string        `json:"permissions"`
	Preferences map[string]bool `json:"preferences,omitempty"`
	Service     bool            `json:"service,omitempty"` // Служебная идентичность актора (координация)
}

// Verified сообщает, несет ли контекст непустую проверенную идентичность.
func (i *Identity) Verified() bool {
	return i != nil && i.PrincipalID != ""
}

// HasPermission проверяет наличие непрозрачного права.
func (i *Identity) HasPermission(p string) bool {
	if i == nil {
		return false
	}
	for _, have := range i.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// IdentityFromClaims строит Identity из провалидированных claims.
func IdentityFromClaims(c *CustomClaims) *Identity {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	return &Identity{
		PrincipalID: id,
		Permissions: c.Permissions,
		Preferences: c.Preferences,
	}
}

// PermissionCoordination выдается служебной идентичности актора-отправителя.
const PermissionCoordination = "coordination"

// ServiceIdentity — идентичность, под которой роутер доставляет запрос целевому актору.
func ServiceIdentity(actorID string) *Identity {
	return &Identity{
		PrincipalID: "actor:" + actorID,
		Permissions: []string{PermissionCoordination},
		Service:     true,
	}
}
