// cmd/pipeline-server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fleetbridge/internal/audit"
	"fleetbridge/internal/common/config"
	"fleetbridge/internal/common/database"
	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/common/observability"
	"fleetbridge/internal/entity"
	"fleetbridge/internal/execution"
	"fleetbridge/internal/generate"
	"fleetbridge/internal/intent"
	"fleetbridge/internal/model"
	"fleetbridge/internal/notify"
	"fleetbridge/internal/pipeline"
	"fleetbridge/internal/server"
	"fleetbridge/internal/template"
	"fleetbridge/internal/validate"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting pipeline server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()
	clock := time.Now

	// --- Audit recorder ---
	var recorder audit.Recorder
	switch cfg.Audit.Backend {
	case "postgres":
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		pgRecorder := audit.NewPostgresRecorder(pg.DB)
		if err := pgRecorder.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("audit schema setup failed", zap.Error(err))
		}
		recorder = pgRecorder
		zapLog.Info("PostgreSQL audit trail ready")

	case "file":
		fileRecorder, err := audit.NewFileRecorder(cfg.Audit.Path)
		if err != nil {
			zapLog.Fatal("audit file open failed", zap.Error(err))
		}
		recorder = fileRecorder
		zapLog.Info("File audit trail ready", zap.String("path", cfg.Audit.Path))

	default:
		recorder = audit.NopRecorder{}
		zapLog.Warn("audit disabled", zap.String("backend", cfg.Audit.Backend))
	}
	defer recorder.Close()

	// --- Extraction cache ---
	var cache entity.Cache = entity.NewMemoryCache()
	if cfg.Database.Redis.Address != "" {
		var redis *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redis.Close()
		cache = entity.NewRedisCache(redis, time.Duration(cfg.Database.Redis.CacheTTL)*time.Millisecond, log)
		zapLog.Info("Redis extraction cache ready")
	}

	// --- Notifier ---
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notify.Enabled {
		awsNotifier, err := notify.NewAWSNotifier(ctx, cfg.Notify, log)
		if err != nil {
			zapLog.Fatal("notifier setup failed", zap.Error(err))
		}
		notifier = awsNotifier
		zapLog.Info("AWS notifier ready", zap.String("region", cfg.Notify.Region))
	}

	// --- Template registry ---
	var registry *template.Registry
	if cfg.Templates.UseBuiltin {
		registry = template.NewRegistry(log)
	} else {
		registry = template.NewDirRegistry(log)
	}
	if cfg.Templates.Directory != "" {
		if err := registry.LoadDir(cfg.Templates.Directory); err != nil {
			zapLog.Fatal("template catalog load failed", zap.Error(err))
		}
	}
	zapLog.Info("Template catalog ready", zap.Int("templates", registry.Snapshot().Len()))

	// --- Pipeline stages ---
	completer := model.NewClient(cfg.Model, log)
	classifier := intent.NewClassifier(completer, intent.Config{
		AmbiguityEpsilon: cfg.Pipeline.AmbiguityEpsilon,
		Temperature:      cfg.Model.Temperature,
	}, log)
	extractor := entity.NewExtractor(completer, cache, log)
	selector := template.NewSelector(template.SelectorConfig{
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		CoverageThreshold:   cfg.Pipeline.CoverageThreshold,
		TieEpsilon:          cfg.Pipeline.SelectionTieEpsilon,
	}, log)
	generator := generate.NewGenerator(clock, log)

	executor := execution.NewClient(cfg.Execution, clock, log)
	var dryRunner validate.DryRunner
	if cfg.Execution.DryRunEnabled {
		dryRunner = executor
	}
	validator := validate.NewValidator(clock, dryRunner, log)

	analyzer := pipeline.NewAnalyzer(
		classifier, extractor, registry, selector, generator, validator,
		time.Duration(cfg.Pipeline.StageTimeout)*time.Millisecond, log,
	)
	service := pipeline.NewService(analyzer, executor, recorder, notifier, obs, cfg.Pipeline, clock, log)

	// --- API server ---
	api := server.New(service, log)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: api.Routes(),
	}
	go func() {
		zapLog.Info("API server listening", zap.Int("port", cfg.App.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("API server failed", zap.Error(err))
		}
	}()

	// --- Metrics server ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Metrics server listening", zap.Int("port", cfg.App.MetricsPort))
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.App.MetricsPort), mux); err != nil {
			zapLog.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("API server shutdown failed", zap.Error(err))
	}
	zapLog.Info("Pipeline server stopped")
}
