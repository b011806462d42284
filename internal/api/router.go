package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cortexmem/cortex/internal/api/handlers"
	mw "github.com/cortexmem/cortex/internal/api/middleware"
	"github.com/cortexmem/cortex/internal/config"
	"github.com/cortexmem/cortex/internal/domain"
	"github.com/cortexmem/cortex/internal/embedding"
	"github.com/cortexmem/cortex/internal/llm"
	"github.com/cortexmem/cortex/internal/reasoning"
	"github.com/cortexmem/cortex/internal/service"
	"github.com/cortexmem/cortex/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router    *chi.Mux
	Scheduler *service.Scheduler
	Sessions  *reasoning.MemorySessionStore

	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) (*App, error) {
	// Stores
	memoryStore := store.NewMemoryStore(db)
	embeddingStore := store.NewEmbeddingStore(db)
	pruneStore := store.NewPruneStore(db)
	archiveStore := store.NewArchiveStore(db)
	consolidationStore := store.NewConsolidationStore(db)
	historyStore := store.NewReinforcementHistoryStore(db)

	// External clients via provider factory
	llmClient, err := llm.NewClient(config.LLMProvider(), config.LLMAPIKey())
	if err != nil {
		logger.Warn("LLM client initialization failed", zap.String("provider", config.LLMProvider()), zap.Error(err))
	} else {
		logger.Info("LLM client initialized", zap.String("provider", config.LLMProvider()))
	}

	embeddingClient, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingAPIKey())
	if err != nil {
		logger.Warn("embedding client initialization failed", zap.String("provider", config.EmbeddingProvider()), zap.Error(err))
	} else {
		logger.Info("embedding client initialized", zap.String("provider", config.EmbeddingProvider()))
	}

	// Lifecycle services
	sectorConfig := service.NewSectorConfig()
	pruningSvc := service.NewPruningService(memoryStore, pruneStore, logger)
	decaySvc := service.NewDecayService(memoryStore, historyStore, sectorConfig, pruningSvc, logger)
	archiveSvc := service.NewArchiveService(archiveStore, logger)
	consolidationSvc := service.NewConsolidationService(memoryStore, embeddingStore, consolidationStore, embeddingClient, llmClient, logger)
	memorySvc := service.NewMemoryService(memoryStore, embeddingStore, archiveStore, embeddingClient, decaySvc, logger)

	maxRetries := config.SchedulerMaxRetries()
	scheduler, err := service.NewScheduler(consolidationSvc, memoryStore, service.SchedulerConfig{
		CronExpr:         config.SchedulerCron(),
		Enabled:          config.SchedulerEnabled(),
		MaxLoad:          config.SchedulerMaxLoad(),
		BatchSize:        config.ConsolidationBatchSize(),
		MaxRetryAttempts: &maxRetries,
		BaseRetryDelay:   config.SchedulerRetryDelay(),
	}, logger)
	if err != nil {
		return nil, err
	}

	healthSvc := service.NewHealthService(memoryStore, scheduler, config.QuotaBytes(), logger)

	// Reasoning
	conflictEngine := reasoning.NewConflictEngine(logger)
	synthesizer := reasoning.NewSynthesizer(logger)
	coordinator := reasoning.NewCoordinator(synthesizer, conflictEngine, logger)
	sessions := reasoning.NewMemorySessionStore(config.SessionTTL(), logger)
	hub := reasoning.NewSSEHub(logger)

	// Handlers
	memoryHandler := handlers.NewMemoryHandler(memorySvc, decaySvc)
	archiveHandler := handlers.NewArchiveHandler(archiveSvc)
	maintenanceHandler := handlers.NewMaintenanceHandler(decaySvc, pruningSvc, scheduler, sectorConfig)
	healthHandler := handlers.NewHealthHandler(healthSvc)
	thinkHandler := handlers.NewThinkHandler(coordinator, sessions, hub, memorySvc, config.LLMTimeout(), logger)
	reasoningHandler := handlers.NewReasoningHandler(coordinator, sessions, hub, logger)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		Scheduler: scheduler,
		Sessions:  sessions,
		startTime: time.Now(),
	}

	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", healthzHandler(db))
	r.Get("/metrics", app.metricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/memory", func(r chi.Router) {
			r.Post("/", memoryHandler.Create)
			r.Get("/", memoryHandler.List)
			r.Get("/recall", memoryHandler.Recall)
			r.Post("/reinforce", memoryHandler.Reinforce)
			r.Get("/health", healthHandler.GetMemoryHealth)

			r.Route("/archive", func(r chi.Router) {
				r.Post("/", archiveHandler.Archive)
				r.Get("/search", archiveHandler.Search)
				r.Post("/restore", archiveHandler.Restore)
				r.Get("/stats", archiveHandler.Stats)
			})

			r.Get("/{id}", memoryHandler.GetByID)
			r.Delete("/{id}", memoryHandler.Delete)
		})

		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/decay", maintenanceHandler.TriggerDecay)
			r.Post("/prune/candidates", maintenanceHandler.ListPruneCandidates)
			r.Post("/prune", maintenanceHandler.Prune)
			r.Post("/consolidate", maintenanceHandler.TriggerConsolidation)
			r.Get("/consolidate/status", maintenanceHandler.ConsolidationStatus)
			r.Put("/consolidate/batch-size", maintenanceHandler.SetBatchSize)
			r.Get("/decay/config", maintenanceHandler.GetDecayConfig)
			r.Put("/decay/config", maintenanceHandler.UpdateDecayConfig)
			r.Delete("/decay/config", maintenanceHandler.ResetDecayConfig)
		})

		r.Post("/think", thinkHandler.Think)
		r.Get("/think/status/{sessionId}", thinkHandler.Status)

		r.Route("/reasoning", func(r chi.Router) {
			r.Post("/parallel", reasoningHandler.Parallel)
			r.Get("/parallel/{sessionId}/stream", reasoningHandler.StreamSession)
			r.Get("/live/{streamId}", reasoningHandler.StreamLive)
			r.Get("/chain/{sessionId}", reasoningHandler.Chain)
		})
	})

	return app, nil
}

func healthzHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.MemoryStore               = (*store.MemoryStore)(nil)
	_ domain.EmbeddingStore            = (*store.EmbeddingStore)(nil)
	_ domain.LinkStore                 = (*store.LinkStore)(nil)
	_ domain.PruneStore                = (*store.PruneStore)(nil)
	_ domain.ArchiveStore              = (*store.ArchiveStore)(nil)
	_ domain.ConsolidationStore        = (*store.ConsolidationStore)(nil)
	_ domain.ReinforcementHistoryStore = (*store.ReinforcementHistoryStore)(nil)
	_ domain.EmbeddingClient           = (*embedding.OpenAIClient)(nil)
	_ domain.EmbeddingClient           = (*embedding.MockClient)(nil)
	_ domain.LLMClient                 = (*llm.OpenAIClient)(nil)
	_ domain.LLMClient                 = (*llm.AnthropicClient)(nil)
	_ domain.LLMClient                 = (*llm.BreakerClient)(nil)
	_ domain.LLMClient                 = (*llm.MockClient)(nil)
	_ service.ConsolidationMonitor     = (*service.Scheduler)(nil)
	_ reasoning.SessionStore           = (*reasoning.MemorySessionStore)(nil)
)
