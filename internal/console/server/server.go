package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/trustmesh/internal/console/handler"
	"github.com/xela07ax/trustmesh/internal/engine"
	"github.com/xela07ax/trustmesh/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка bearer-токенов (RS256). При nil все запросы анонимные
	authValidator auth.TokenValidator
	metrics       http.Handler

	actionHandler *handler.ActionHandler    // /v1/actors
	trustHandler  *handler.TrustHandler     // /v1/principals
	auditHandler  *handler.AuditHandler     // /v1/audit
	dashHandler   *handler.DashboardHandler // /v1/dashboard, только при наличии БД
}

// NewConsoleServer собирает HTTP-поверхность. dashH и metrics могут быть nil.
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	metrics http.Handler,
	actionH *handler.ActionHandler,
	trustH *handler.TrustHandler,
	auditH *handler.AuditHandler,
	dashH *handler.DashboardHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		metrics:       metrics,
		actionHandler: actionH,
		trustHandler:  trustH,
		auditHandler:  auditH,
		dashHandler:   dashH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)
	if s.authValidator != nil {
		// Токен опционален: анонимный вызов доходит до конверта и попадает в аудит
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))
	}

	// --- 2. Служебные роуты ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// --- 3. Вызовы акторов: решение о доступе принимает конверт ---
	r.Route("/v1/actors", func(r chi.Router) {
		r.Get("/", s.actionHandler.List)
		r.Post("/{actorID}/actions/{action}", s.actionHandler.Invoke)
	})

	// --- 4. Чтение состояния: только с идентичностью ---
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireIdentity)

		r.Get("/v1/principals/{id}/trust", s.trustHandler.Get)
		r.Get("/v1/audit", s.auditHandler.GetRecords)
		if s.dashHandler != nil {
			r.Get("/v1/dashboard", s.dashHandler.Get)
		}
	})
}

func (s *ConsoleServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
