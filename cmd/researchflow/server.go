package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/researchflow/researchflow/agent"
	"github.com/researchflow/researchflow/api/handlers"
	"github.com/researchflow/researchflow/config"
	"github.com/researchflow/researchflow/internal/cache"
	"github.com/researchflow/researchflow/internal/metrics"
	"github.com/researchflow/researchflow/internal/server"
	"github.com/researchflow/researchflow/internal/store"
	"github.com/researchflow/researchflow/internal/telemetry"
	"github.com/researchflow/researchflow/llm"
	"github.com/researchflow/researchflow/providers"
	"github.com/researchflow/researchflow/tools"
	"github.com/researchflow/researchflow/workflow"
)

// Server wires the whole service together.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector *metrics.Collector
	telemetry *telemetry.Providers
	toolCache cache.Cache

	orchestrator *workflow.Orchestrator

	rateLimiterCancel context.CancelFunc
}

// NewServer creates the server; nothing connects until Start.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start connects the database, builds the pipeline and starts both
// listeners.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector()

	otelProviders, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		s.telemetry = otelProviders
	}

	if err := s.initPipeline(); err != nil {
		return fmt.Errorf("failed to init pipeline: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// initPipeline builds store, provider, invoker, tool registry and the
// orchestrator.
func (s *Server) initPipeline() error {
	db, err := store.Open(s.cfg.Database.Driver, s.cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	st, err := store.New(db, s.logger)
	if err != nil {
		return err
	}
	s.logger.Info("Database connected", zap.String("driver", s.cfg.Database.Driver))

	provider, err := providers.New(s.cfg.LLM, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}

	collector := s.collector
	invoker := agent.NewInvoker(provider, s.logger,
		agent.WithObserver(func(role agent.Role, usage llm.Usage, duration time.Duration, err error) {
			collector.RecordLLMRequest(string(role), usage.InputTokens, usage.OutputTokens, duration, err)
		}))

	registry, err := s.buildToolRegistry()
	if err != nil {
		return err
	}

	wfCfg := workflow.Config{
		MaxResearchIterations: s.cfg.Workflow.MaxResearchIterations,
		MaxRevisionIterations: s.cfg.Workflow.MaxRevisionIterations,
		AutoApprove:           s.cfg.Workflow.AutoApprove,
		OutputDir:             s.cfg.Workflow.OutputDir,
		MaxConcurrentTools:    s.cfg.Tools.MaxConcurrent,
		ToolFailureThreshold:  s.cfg.Tools.FailureThreshold,
	}

	s.orchestrator = workflow.NewOrchestrator(st, invoker, registry, wfCfg, s.logger,
		workflow.WithStageObserver(func(stage workflow.Stage, duration time.Duration, err error) {
			collector.RecordStage(string(stage), duration, err)
		}),
		workflow.WithEventObserver(workflow.EventObserver{
			WorkflowCreated: collector.RecordWorkflowCreated,
			Escalated:       collector.RecordEscalation,
			ApprovalRecorded: func(gate workflow.ApprovalType, decision workflow.Decision) {
				collector.RecordApproval(string(gate), string(decision))
			},
			ToolCalled: collector.RecordToolCall,
		}))
	return nil
}

// buildToolRegistry registers the search adapters, wrapped in the
// result cache when memoization is enabled.
func (s *Server) buildToolRegistry() (*tools.Registry, error) {
	limits := tools.Limits{
		MaxResults: s.cfg.Tools.MaxResults,
		Timeout:    s.cfg.Tools.Timeout,
	}

	registry := tools.NewRegistry()
	type entry struct {
		adapter  tools.Adapter
		category tools.Category
	}
	var entries []entry

	if s.cfg.Tools.TavilyAPIKey != "" {
		entries = append(entries, entry{tools.NewWebSearch(s.cfg.Tools.TavilyAPIKey, "", limits, s.logger), tools.CategoryWeb})
	} else {
		s.logger.Info("Tavily API key not configured, web search disabled")
	}
	entries = append(entries,
		entry{tools.NewScholar("", limits, s.logger), tools.CategoryAcademic},
		entry{tools.NewArxiv("", limits, s.logger), tools.CategoryAcademic},
		entry{tools.NewScraper(limits, s.logger), tools.CategoryScrape},
	)

	toolCache := s.openToolCache()
	for _, e := range entries {
		adapter := e.adapter
		if toolCache != nil {
			adapter = tools.NewCachedAdapter(adapter, toolCache, s.cfg.Tools.CacheTTL, s.logger)
		}
		if err := registry.Register(adapter, e.category); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// openToolCache returns the tool-result cache: Redis when configured,
// in-process memory otherwise, nil when memoization is disabled.
func (s *Server) openToolCache() cache.Cache {
	if s.cfg.Tools.CacheTTL <= 0 {
		return nil
	}

	if s.cfg.Redis.Addr != "" {
		rcfg := cache.DefaultRedisConfig()
		rcfg.Addr = s.cfg.Redis.Addr
		rcfg.Password = s.cfg.Redis.Password
		rcfg.DB = s.cfg.Redis.DB
		rcfg.DefaultTTL = s.cfg.Tools.CacheTTL

		rc, err := cache.NewRedisCache(rcfg, s.logger)
		if err != nil {
			s.logger.Warn("Redis unavailable, falling back to in-memory tool cache", zap.Error(err))
		} else {
			s.toolCache = rc
			return rc
		}
	}

	mc := cache.NewMemoryCache(s.cfg.Tools.CacheTTL)
	s.toolCache = mc
	return mc
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	handlers.NewHealthHandler(Version).Register(mux)
	handlers.NewWorkflowHandler(s.orchestrator, s.logger).Register(mux)

	skipAuthPaths := []string{"/healthz", "/metrics"}
	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.collector.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a shutdown signal, then tears everything
// down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown closes listeners, the tool cache and the trace exporter.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.toolCache != nil {
		if err := s.toolCache.Close(); err != nil {
			s.logger.Error("Tool cache shutdown error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.telemetry.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
