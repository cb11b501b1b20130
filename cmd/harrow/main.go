// Harrow - Subsidy application fraud scoring for the farmer portal.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-agri/harrow/internal/api"
	"github.com/opensource-agri/harrow/internal/bus"
	"github.com/opensource-agri/harrow/internal/cache"
	"github.com/opensource-agri/harrow/internal/decision"
	"github.com/opensource-agri/harrow/internal/domain"
	"github.com/opensource-agri/harrow/internal/eligibility"
	"github.com/opensource-agri/harrow/internal/history"
	"github.com/opensource-agri/harrow/internal/model"
	"github.com/opensource-agri/harrow/internal/repository"
	"github.com/opensource-agri/harrow/internal/rules"
	"github.com/opensource-agri/harrow/internal/scoring"
	"github.com/opensource-agri/harrow/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARROW_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting harrow",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HARROW_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if os.Getenv("HARROW_MODE") == "binary" {
		cfg.DecisionMode = domain.ModeBinary
	}
	if path := os.Getenv("HARROW_MODEL_PATH"); path != "" {
		cfg.Model.Path = path
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"decision_mode", cfg.DecisionMode,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRules(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize Model Store. A missing artifact is not fatal: scoring
	// degrades to rule-only UNKNOWN assessments until one is trained.
	models := model.NewStore(cfg.Model.Path, logger)
	if err := models.Load(); err != nil {
		slog.Warn("no model artifact loaded, scoring degrades to rules only",
			"path", cfg.Model.Path,
			"error", err,
		)
	} else {
		slog.Info("model artifact loaded",
			"path", cfg.Model.Path,
			"version", models.Current().Version,
		)
	}

	// Initialize Eligibility Calculator
	norms, err := repo.ListCropNorms(ctx)
	if err != nil || len(norms) == 0 {
		norms = eligibility.DefaultNorms()
		slog.Info("using default crop norms", "count", len(norms))
	}
	elig := eligibility.NewService(norms)

	// Initialize Scoring Pipeline
	refs := scoring.NewRepoRefProvider(repo, time.Minute)
	scorer, err := scoring.NewService(scoring.Config{
		Refs:    refs,
		History: history.NewService(repo, cacheImpl),
		Models:  models,
		Rules:   engine,
		Decider: decision.NewEngine(cfg.DecisionMode),
		Repo:    repo,
		Bus:     busImpl,
		Logger:  logger,
	})
	if err != nil {
		slog.Error("failed to initialize scoring service", "error", err)
		os.Exit(1)
	}
	slog.Info("scoring service initialized", "engine_version", scoring.EngineVersion)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("HARROW_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, scorer, logger)
		if err := asyncWorker.Start(worker.Config{}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, scorer, refs, engine, elig, models, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrow is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrow shutdown complete")
}

// loadRules loads screening rules from the database, falling back to the
// builtin set when none are configured yet.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database, using builtin set", "error", err)
		return engine.LoadRules(rules.BuiltinRules())
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no rules in database, loading builtin set")
	return engine.LoadRules(rules.BuiltinRules())
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🌾 HARROW                   ║")
	fmt.Println("  ║     Subsidy Fraud Scoring Engine          ║")
	fmt.Println("  ║      Every claim, checked.                ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Mode:     %s\n", cfg.DecisionMode)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /applications/score        - Score a subsidy application")
	fmt.Println("    POST /applications/score/batch  - Score a batch of applications")
	fmt.Println("    GET  /assessments/{id}          - Get assessment by ID")
	fmt.Println("    POST /eligibility/check         - Check crop-norm eligibility")
	fmt.Println("    GET  /norms                     - List crop norms")
	fmt.Println("    GET  /seasons/recommendation    - Seasonal product guidance")
	fmt.Println("    GET  /stats/fraud               - Fraud statistics")
	fmt.Println("    GET  /rules                     - List screening rules")
	fmt.Println("    POST /rules                     - Create a screening rule")
	fmt.Println("    POST /rules/reload              - Hot-reload rules")
	fmt.Println("    GET  /model                     - Loaded model metadata")
	fmt.Println("    POST /model/reload              - Hot-swap the model artifact")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println()
}
