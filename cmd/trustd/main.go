package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/trustmesh/internal/agents"
	"github.com/xela07ax/trustmesh/internal/audit"
	"github.com/xela07ax/trustmesh/internal/connectors"
	"github.com/xela07ax/trustmesh/internal/console/handler"
	"github.com/xela07ax/trustmesh/internal/console/server"
	"github.com/xela07ax/trustmesh/internal/console/service"
	"github.com/xela07ax/trustmesh/internal/coordination"
	"github.com/xela07ax/trustmesh/internal/engine"
	"github.com/xela07ax/trustmesh/internal/fraud"
	"github.com/xela07ax/trustmesh/internal/infra"
	"github.com/xela07ax/trustmesh/internal/infra/auth"
	"github.com/xela07ax/trustmesh/internal/ledger"
	"github.com/xela07ax/trustmesh/internal/policy"
	"github.com/xela07ax/trustmesh/internal/registry"
	"github.com/xela07ax/trustmesh/internal/repository/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("trustd failed", zap.Error(err))
	}
}

func loadConfig(path string) (*infra.Config, error) {
	if path != "" {
		return infra.LoadConfigFile(path)
	}
	return infra.LoadConfig()
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст для управления жизненным циклом фоновых горутин
	// При SIGTERM cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Хранилища: Postgres, если настроен, иначе память
	memStore := ledger.NewMemoryStore()
	var (
		store    ledger.Store        = memStore
		frozen   engine.FrozenLister = memStore
		journal                      = audit.NewJournal(0) // без базы журнал единственная копия аудита, не вытесняем
		auditors                     = audit.Multi{journal}
		reader   audit.Reader        = journal
		dashH    *handler.DashboardHandler
	)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(appCtx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.Database.Migrate {
			if err := postgres.Migrate(appCtx, db); err != nil {
				return err
			}
		}

		trustRepo := postgres.NewTrustRepo(db)
		store, frozen = trustRepo, trustRepo

		// Аудит летит в базу пачками
		auditRepo := postgres.NewAuditRepo(db)
		agentFS := audit.NewAgentFS(auditRepo, cfg.Audit, logger)
		agentFS.Start()
		defer agentFS.Stop()
		metrics.TrackAuditBuffer(agentFS.Utilization)
		// Читаем из базы, копия в памяти не нужна
		auditors = audit.Multi{agentFS}
		reader = auditRepo

		dashH = handler.NewDashboardHandler(postgres.NewDashboardRepo(db))
	} else {
		logger.Warn("database.url is empty: trust state and audit are kept in memory only")
	}

	// 3. Ядро доверия
	cls, err := cfg.Ledger.Classifier()
	if err != nil {
		return err
	}
	l, err := ledger.New(store, cls, fraud.NewDetector(cfg.Fraud, logger), cfg.Ledger.Config, logger)
	if err != nil {
		return err
	}
	l.SetInstrumentation(metrics)

	// 4. Control Plane: заморозки через Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	freeze := engine.NewFreezeManager(rdb, l, logger)
	if err := freeze.Warmup(appCtx, frozen); err != nil {
		logger.Warn("freeze warmup failed, listener will resync on connect", zap.Error(err))
	}
	go freeze.Run(appCtx)
	metrics.TrackFrozenPrincipals(freeze.Count)
	l.SetFreezeObserver(freeze)

	pdp := policy.NewMemoEnforcer(policy.StaticRules(cfg.Policy.Requirements), logger)
	if err := pdp.Refresh(appCtx); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	// 5. Конверт и координация
	actors := registry.New()
	redactor := audit.NewRedactor(cfg.Audit.MaxParamBytes, cfg.Audit.RedactKeys)
	env := engine.NewEnvelope(actors, l, pdp, auditors, redactor, metrics, logger)

	router := coordination.NewRouter(actors, env, coordination.Config{
		Timeout:                     cfg.Coordination.Timeout,
		LowPriorityQueueCapacity:    cfg.Coordination.LowPriorityQueueCapacity,
		MediumPriorityQueueCapacity: cfg.Coordination.MediumPriorityQueueCapacity,
		EscalationActor:             cfg.Coordination.EscalationActor,
		EscalationAction:            cfg.Coordination.EscalationAction,
		Workers:                     cfg.Coordination.Workers,
	}, logger)
	router.SetInstrumentation(metrics)
	router.Start()
	defer router.Stop()

	// 6. Генеративный сервис (Исполнение + Надежность)
	var gen connectors.Generator = &connectors.MockGenerator{MinLatency: 20 * time.Millisecond, MaxLatency: 200 * time.Millisecond}
	if cfg.Content.Addr != "" {
		conn, err := grpc.NewClient(cfg.Content.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("content: connect %s: %w", cfg.Content.Addr, err)
		}
		defer conn.Close()
		gen = connectors.NewGRPCGenerator(conn, cfg.Content.Timeout)
	}
	gen = engine.NewReliabilityWrapper(gen, engine.ReliabilityConfig{
		Name:                  "content",
		RPS:                   cfg.Content.RPS,
		Burst:                 cfg.Content.Burst,
		Attempts:              cfg.Content.Attempts,
		CallTimeout:           cfg.Content.Timeout,
		CBMaxRequests:         cfg.Content.CBMaxRequests,
		CBInterval:            cfg.Content.CBInterval,
		CBTimeout:             cfg.Content.CBTimeout,
		CBConsecutiveFailures: cfg.Content.CBConsecutiveFailures,
	}, metrics, logger)

	actors.MustRegister(agents.ReputationID, agents.NewReputation(l, cls, router, logger))
	actors.MustRegister(agents.ReviewID, agents.NewReview(freeze, logger))
	actors.MustRegister(agents.AssistantID, agents.NewAssistant(gen, logger))

	// 7. Проверка токенов внешнего провайдера
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		validator = auth.NewBaseValidator(pub, cfg.Auth.Issuer, cfg.Auth.Leeway)
	} else {
		logger.Warn("auth public key not configured: every call is anonymous")
	}

	// 8. HTTP
	console := server.NewConsoleServer(logger, validator, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		handler.NewActionHandler(service.NewActionService(env, actors), logger),
		handler.NewTrustHandler(service.NewTrustService(l)),
		handler.NewAuditHandler(service.NewAuditService(reader)),
		dashH,
	)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. gRPC
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(engine.UnaryAuthInterceptor(validator, logger)))
	engine.RegisterActorService(grpcSrv, engine.NewGRPCActorServer(env))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc: listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server started", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: serve: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: listen: %w", err)
		}
	}()

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("trustd stopping", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server failed, stopping", zap.Error(err))
	}

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	cancel()

	// Отложенные вызовы: роутер дочитывает очереди, затем AgentFS сбрасывает буфер
	logger.Info("trustd exited properly")
	return nil
}
