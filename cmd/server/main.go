package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"exam-grader/internal/api"
	"exam-grader/internal/cache"
	"exam-grader/internal/catalog"
	"exam-grader/internal/config"
	"exam-grader/internal/grader"
	"exam-grader/internal/intake"
	"exam-grader/internal/monitor"
	"exam-grader/internal/sandbox"
	"exam-grader/internal/storage"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()
	shutdownTracing := monitor.SetupTracing(ctx, monitor.TracingOptions{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.Sample,
	})

	cat := catalog.Default()
	if cfg.Catalog.Path != "" {
		loaded, err := catalog.LoadFile(cfg.Catalog.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Catalog.Path).Msg("failed to load question catalog")
		}
		cat = loaded
	}

	engine, err := sandbox.NewEngine(sandbox.Options{
		Toolchain:     cfg.Toolchain(),
		Limits:        cfg.Sandbox.Limits,
		WorkDir:       cfg.Sandbox.WorkDir,
		SweepInterval: cfg.Sandbox.SweepInterval,
		SweepAge:      cfg.Sandbox.SweepAge,
		Metrics:       metrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create execution engine")
	}

	pipeline := grader.NewPipeline(cat, engine, grader.PipelineOptions{
		LimitedTests: cfg.Grader.LimitedTests,
		Detector:     monitor.NewSourceDetector(metrics),
		Metrics:      metrics,
		Tracer:       monitor.NewTracer(),
	})

	svcOpts := cfg.ServiceOptions()
	svcOpts.Metrics = metrics
	checks := []api.HealthCheck{{
		Name: "compiler",
		Check: func(context.Context) error {
			_, err := exec.LookPath(cfg.Sandbox.Compiler)
			return err
		},
	}}

	// Database is optional; without it submissions are graded but not stored.
	var db *storage.DB
	var writer *storage.ResultWriter
	var submissions api.SubmissionReader
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, results will not be persisted")
		} else {
			writer = storage.NewResultWriter(db, storage.WriterOptions{
				BufferSize: cfg.Database.WriterBuffer,
				MaxRetries: cfg.Database.WriterMaxRetries,
				Metrics:    metrics,
			})
			writer.Start()
			svcOpts.Store = db
			svcOpts.Recorder = writer
			submissions = db
			checks = append(checks, api.HealthCheck{Name: "database", Check: func(ctx context.Context) error {
				if !db.Healthy(ctx) {
					return errors.New("ping failed")
				}
				return nil
			}})
		}
	}

	// Redis is optional too: result cache, one-submission guard, queue intake.
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, caching and duplicate guard disabled")
			rdb = nil
		} else {
			svcOpts.Cache = cache.NewResultCache(rdb, cfg.Redis.Prefix, cfg.Redis.ResultTTL)
			svcOpts.Guard = cache.NewSubmissionGuard(rdb, cfg.Redis.Prefix, cfg.Redis.GuardTTL)
			checks = append(checks, api.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}})
		}
	}

	svc := grader.NewService(pipeline, svcOpts)

	var intakeWG sync.WaitGroup
	intakeCtx, stopIntake := context.WithCancel(ctx)
	defer stopIntake()
	if rdb != nil && cfg.Redis.Intake.Enabled {
		consumer := intake.NewConsumer(rdb, svc, intake.Options{
			Queue:       cfg.Redis.Intake.Queue,
			ResultTTL:   cfg.Redis.Intake.ResultTTL,
			Concurrency: cfg.Redis.Intake.Concurrency,
		})
		intakeWG.Add(1)
		go func() {
			defer intakeWG.Done()
			consumer.Run(intakeCtx)
		}()
	}

	server := api.NewServer(cfg, api.Deps{
		Grading:     svc,
		Submissions: submissions,
		Metrics:     metrics,
		Checks:      checks,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		stopIntake()
		intakeWG.Wait()

		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("worker pool shutdown error")
		}
		if writer != nil {
			writer.Flush(cfg.Database.FlushTimeout)
		}
		if err := engine.Close(); err != nil {
			log.Error().Err(err).Msg("engine close error")
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		if db != nil {
			db.Close()
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracer shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Int("questions", len(cat.IDs())).
		Ints("exam_questions", svc.ExamQuestions()).
		Int("workers", svc.PoolStatus().PoolSize).
		Bool("db_enabled", db != nil).
		Bool("redis_enabled", rdb != nil).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	<-ctx.Done()
	log.Info().Msg("server stopped")
}

func loadConfig() *config.Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	if _, statErr := os.Stat(configPath); statErr == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
		cfg = loaded
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
