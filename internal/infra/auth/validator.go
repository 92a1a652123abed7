package auth

import (
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/trustmesh/internal/domain"
)

// BaseValidator проверяет RS256-токены внешнего провайдера идентичности.
// Токены мы не выпускаем и не обновляем, только читаем.
type BaseValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// NewBaseValidator: при пустом issuer издатель не проверяется.
func NewBaseValidator(pubKey *rsa.PublicKey, issuer string, leeway time.Duration) *BaseValidator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &BaseValidator{publicKey: pubKey, parser: jwt.NewParser(opts...)}
}

// VerifyToken принимает значение заголовка Authorization (с префиксом Bearer или без).
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))
	if tokenStr == "" {
		return nil, fmt.Errorf("invalid token: empty")
	}

	token, err := v.parser.ParseWithClaims(tokenStr, &domain.CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*domain.CustomClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	if claims.UserID == "" && claims.Subject == "" {
		return nil, fmt.Errorf("invalid claims: empty principal")
	}
	return claims, nil
}

// ParseRSAPublicKey превращает PEM в ключ для проверки подписи.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
