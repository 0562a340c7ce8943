package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/api/handlers"
	"github.com/BaSui01/visionflow/config"
	"github.com/BaSui01/visionflow/internal/metrics"
	"github.com/BaSui01/visionflow/internal/server"
	"github.com/BaSui01/visionflow/internal/telemetry"
	"github.com/BaSui01/visionflow/vision"
	"github.com/BaSui01/visionflow/vision/factory"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server wires configuration, the orchestrator, handlers, and the two HTTP
// listeners (API and metrics) together.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	orchestrator *vision.Orchestrator

	// Handlers
	healthHandler  *handlers.HealthHandler
	analyzeHandler *handlers.AnalyzeHandler
	statusHandler  *handlers.StatusHandler

	collector *metrics.Collector
	providers *telemetry.Providers

	apiManager     *server.Manager
	metricsManager *server.Manager
}

// NewServer creates an unwired server. Start performs all initialization.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Start initializes every subsystem and begins serving. Provider
// initialization failures degrade to a smaller active set; they never
// abort startup.
func (s *Server) Start() error {
	// 1. Telemetry
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	s.providers = providers

	// 2. Metrics
	s.collector = metrics.NewCollector("visionflow", s.logger)

	// 3. Orchestrator
	orch := vision.NewOrchestrator(factory.New(s.logger), vision.OrchestratorOptions{
		Logger: s.logger,
	})
	initCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := orch.Initialize(initCtx, s.cfg.Providers); err != nil {
		return fmt.Errorf("initialize orchestrator: %w", err)
	}
	s.orchestrator = orch

	// 4. Handlers
	s.initHandlers()

	// 5. HTTP listeners
	if err := s.startAPIServer(); err != nil {
		return err
	}
	if err := s.startMetricsServer(); err != nil {
		return err
	}

	s.logger.Info("visionflow started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("active_providers", len(s.orchestrator.ActiveProviders())),
	)
	return nil
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger, Version)
	s.healthHandler.RegisterCheck(&providerCheck{orch: s.orchestrator})
	s.analyzeHandler = handlers.NewAnalyzeHandler(s.orchestrator, s.logger)
	s.statusHandler = handlers.NewStatusHandler(s.orchestrator, s.logger)

	s.logger.Info("handlers initialized")
}

// providerCheck reports readiness: at least one active provider.
type providerCheck struct {
	orch *vision.Orchestrator
}

func (c *providerCheck) Name() string { return "providers" }

func (c *providerCheck) Check(ctx context.Context) error {
	if len(c.orch.ActiveProviders()) == 0 {
		return fmt.Errorf("no active providers")
	}
	return nil
}

func (s *Server) startAPIServer() error {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health/live", s.healthHandler.HandleLiveness)
	mux.HandleFunc("/health/ready", s.healthHandler.HandleReadiness)

	// Analysis endpoints
	mux.HandleFunc("/v1/analyze", s.analyzeHandler.HandleAnalyzeVideo)
	mux.HandleFunc("/v1/analyze/image", s.analyzeHandler.HandleAnalyzeImage)
	mux.HandleFunc("/v1/analyze/multi", s.analyzeHandler.HandleMultiAnalyze)
	mux.HandleFunc("/v1/analyze/batch", s.analyzeHandler.HandleBatchAnalyze)
	mux.HandleFunc("/v1/cost/estimate", s.analyzeHandler.HandleEstimateCost)

	// Provider status endpoint
	mux.HandleFunc("/v1/providers/status", s.statusHandler.HandleStatus)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
	)

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	serverConfig.ReadTimeout = s.cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = s.cfg.Server.WriteTimeout
	serverConfig.ShutdownTimeout = s.cfg.Server.ShutdownTimeout

	s.apiManager = server.NewManager(handler, serverConfig, s.logger)
	return s.apiManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// WaitForShutdown blocks until the API server exits, then tears everything
// down in dependency order.
func (s *Server) WaitForShutdown() {
	s.apiManager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown stops the listeners, cleans up providers, and flushes telemetry.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown failed", zap.Error(err))
		}
	}
	if s.orchestrator != nil {
		s.orchestrator.Cleanup(ctx)
	}
	if s.providers != nil {
		if err := s.providers.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown failed", zap.Error(err))
		}
	}
	s.logger.Info("visionflow stopped")
}
