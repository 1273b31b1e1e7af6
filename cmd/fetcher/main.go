package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/prxgr4mmer/crypto-history-service/internal/adapters/cache"
	"github.com/prxgr4mmer/crypto-history-service/internal/adapters/coingecko"
	"github.com/prxgr4mmer/crypto-history-service/internal/adapters/postgres"
	"github.com/prxgr4mmer/crypto-history-service/internal/config"
	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
	"github.com/prxgr4mmer/crypto-history-service/internal/ports"
	"github.com/prxgr4mmer/crypto-history-service/internal/services"
	"github.com/prxgr4mmer/crypto-history-service/internal/worker"
	"github.com/prxgr4mmer/crypto-history-service/pkg/retry"
)

const dateLayout = "2006-01-02"

type cliFlags struct {
	startDate   string
	endDate     string
	date        string
	coins       string
	concurrency int
}

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	flags := parseFlags()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting crypto history fetcher")

	// Create root context cancelled on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Build application components
	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer app.Shutdown()

	if cfg.Runner.Enabled {
		runScheduled(ctx, app, cfg, logger)
		return
	}

	if err := runOnce(ctx, app, cfg, flags, logger); err != nil {
		logger.Error("run failed", "error", err)
		app.Shutdown()
		os.Exit(1)
	}
}

func parseFlags() cliFlags {
	var flags cliFlags
	flag.StringVar(&flags.startDate, "start-date", "", "first date of the range to fetch (YYYY-MM-DD)")
	flag.StringVar(&flags.endDate, "end-date", "", "last date of the range to fetch (YYYY-MM-DD)")
	flag.StringVar(&flags.date, "date", "", "single date to fetch (YYYY-MM-DD), defaults to yesterday")
	flag.StringVar(&flags.coins, "coin-id", "", "comma-separated coin ids, overrides COINS")
	flag.IntVar(&flags.concurrency, "concurrency", 0, "worker pool size, overrides FETCH_CONCURRENCY")
	flag.Parse()
	return flags
}

func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Application holds all components
type Application struct {
	db           *postgres.DB
	cache        *cache.RedisCache
	orchestrator *services.Orchestrator
	stats        *services.StatsService
	logger       *slog.Logger
}

func buildApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.Info("building application")

	// 1. Infrastructure Layer - Database
	db, err := postgres.NewDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	// 2. Infrastructure Layer - Repositories
	aggregateRepo := postgres.NewAggregateRepository(db)
	observationRepo := postgres.NewObservationRepository(db, aggregateRepo)

	// 3. Infrastructure Layer - Optional Aggregate Cache
	var redisCache *cache.RedisCache
	if cfg.Cache.Addr != "" {
		redisCache, err = cache.NewRedisCache(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB, cfg.Cache.TTL)
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("aggregate cache enabled", "addr", cfg.Cache.Addr)
	}

	// 4. Infrastructure Layer - Price Source Client
	client := coingecko.NewClient(
		coingecko.WithBaseURL(cfg.Source.BaseURL),
		coingecko.WithTimeout(cfg.Source.Timeout),
		coingecko.WithAPIKey(cfg.Source.APIKeyHeader, cfg.Source.APIKey),
		coingecko.WithLogger(logger),
	)

	// 5. Service Layer
	var aggregateCache ports.AggregateCache
	if redisCache != nil {
		aggregateCache = redisCache
	}
	ingestService := services.NewIngestService(
		observationRepo,
		aggregateRepo,
		aggregateCache,
		logger,
	)

	statsService := services.NewStatsService(logger)

	orchestrator := services.NewOrchestrator(
		client,
		ingestService,
		statsService,
		services.OrchestratorConfig{
			Concurrency: cfg.Fetch.Concurrency,
			Retry: retry.Config{
				MaxAttempts:    cfg.Fetch.MaxAttempts,
				InitialBackoff: cfg.Fetch.InitialBackoff,
				MaxBackoff:     cfg.Fetch.MaxBackoff,
				Multiplier:     2.0,
				Jitter:         0.1,
			},
		},
		logger,
	)

	logger.Info("application built successfully")

	return &Application{
		db:           db,
		cache:        redisCache,
		orchestrator: orchestrator,
		stats:        statsService,
		logger:       logger,
	}, nil
}

func (a *Application) Shutdown() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close cache", "error", err)
		}
	}
	a.db.Close()
}

// runOnce executes a single fetch run for the requested coin set and date
// range and logs the summary. Individual task failures do not fail the
// process; only an unusable request does.
func runOnce(ctx context.Context, app *Application, cfg *config.Config, flags cliFlags, logger *slog.Logger) error {
	from, to, err := resolveDates(flags)
	if err != nil {
		return err
	}

	coins := cfg.Fetch.Coins
	if flags.coins != "" {
		coins = splitList(flags.coins)
	}

	concurrency := cfg.Fetch.Concurrency
	if flags.concurrency > 0 {
		concurrency = flags.concurrency
	}

	summary, err := app.orchestrator.Run(ctx, coins, from, to, concurrency)
	if err != nil {
		return err
	}

	for _, failure := range summary.Failed {
		logger.Warn("task failed",
			"coin", failure.CoinID,
			"date", failure.Date.Format(dateLayout),
			"state", string(failure.State),
			"attempts", failure.Attempts,
			"error", failure.Err,
		)
	}

	snapshot := app.stats.Snapshot()
	logger.Info("run complete",
		"run_id", summary.RunID.String(),
		"succeeded", summary.Succeeded,
		"failed", len(summary.Failed),
		"duration_ms", snapshot.LastRunDuration,
	)

	return nil
}

// runScheduled starts the interval runner and blocks until a shutdown
// signal arrives.
func runScheduled(ctx context.Context, app *Application, cfg *config.Config, logger *slog.Logger) {
	runner := worker.NewRunner(
		app.orchestrator,
		cfg.Fetch.Coins,
		cfg.Fetch.Concurrency,
		cfg.Runner.Interval,
		logger,
	)

	if err := runner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runner error", "error", err)
	}

	snapshot := app.stats.Snapshot()
	logger.Info("scheduler stopped",
		"runs", snapshot.Runs,
		"tasks_succeeded", snapshot.TasksSucceeded,
		"tasks_failed", snapshot.TasksFailed,
	)
}

// resolveDates turns the CLI flags into an inclusive [from, to] range.
// Precedence: explicit range, then single date, then yesterday.
func resolveDates(flags cliFlags) (time.Time, time.Time, error) {
	if flags.startDate != "" || flags.endDate != "" {
		if flags.startDate == "" || flags.endDate == "" {
			return time.Time{}, time.Time{}, fmt.Errorf("start-date and end-date must be provided together")
		}
		from, err := time.Parse(dateLayout, flags.startDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start-date: %w", err)
		}
		to, err := time.Parse(dateLayout, flags.endDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end-date: %w", err)
		}
		return from, to, nil
	}

	if flags.date != "" {
		day, err := time.Parse(dateLayout, flags.date)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date: %w", err)
		}
		return day, day, nil
	}

	yesterday := domain.DayOf(time.Now().UTC().AddDate(0, 0, -1))
	return yesterday, yesterday, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
