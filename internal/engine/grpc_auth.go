package engine

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/xela07ax/trustmesh/internal/domain"
	"github.com/xela07ax/trustmesh/internal/infra/auth"
)

// UnaryAuthInterceptor переносит токен и Trace-ID из метаданных gRPC в контекст.
// Как и в HTTP, отсутствие или невалидность токена не обрывает вызов: решает конверт, и отказ попадает в аудит.
// Без валидатора все вызовы анонимные.
func UnaryAuthInterceptor(v auth.TokenValidator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}

		// В gRPC заголовки в нижнем регистре
		if ids := md.Get("x-trace-id"); len(ids) > 0 && ids[0] != "" {
			ctx = WithTraceID(ctx, ids[0])
		}

		if tokens := md.Get("authorization"); v != nil && len(tokens) > 0 {
			claims, err := v.VerifyToken(tokens[0])
			if err != nil {
				logger.Warn("grpc auth failure", zap.String("method", info.FullMethod), zap.Error(err))
			} else {
				ctx = auth.WithIdentity(ctx, domain.IdentityFromClaims(claims))
			}
		}

		return handler(ctx, req)
	}
}
