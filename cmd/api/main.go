package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/api"
	"github.com/tvoe/cliphub/internal/clips"
	"github.com/tvoe/cliphub/internal/config"
	"github.com/tvoe/cliphub/internal/db"
	"github.com/tvoe/cliphub/internal/dispatch"
	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/events"
	"github.com/tvoe/cliphub/internal/intake"
	"github.com/tvoe/cliphub/internal/jobs"
	"github.com/tvoe/cliphub/internal/logging"
	"github.com/tvoe/cliphub/internal/metrics"
	"github.com/tvoe/cliphub/internal/poller"
	"github.com/tvoe/cliphub/internal/publish"
	"github.com/tvoe/cliphub/internal/storage/s3"
	"github.com/tvoe/cliphub/internal/temporal"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	st := db.NewStore(database)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegistry(reg)

	s3Client, err := s3.New(cfg.S3)
	if err != nil {
		logger.Fatal("failed to initialize S3 client", zap.Error(err))
	}

	temporalClient, err := temporal.Dial(cfg.Temporal.Address, cfg.Temporal.Namespace, logger)
	if err != nil {
		logger.Fatal("failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()
	starter := temporal.NewStarter(temporalClient, cfg.Temporal.TaskQueue, cfg.Processing.JobDeadline, logger)

	// Cancellations made through the API must reach the processing service too
	producer := dispatch.NewProducer(dispatch.NewKafkaWriter(cfg.Kafka), cfg.S3.BucketUploads, logger)
	defer producer.Close()

	checks := map[string]api.HealthCheck{
		"database": database.Health,
		"storage":  s3Client.Health,
		"temporal": func(ctx context.Context) error {
			_, err := temporalClient.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		},
	}

	required := cfg.Processing.RequiredSet()
	bus := events.NewBus(logger, m)
	js := jobs.NewService(st, bus, required, logger, m, jobs.WithDefaultService(cfg.Processing.ServiceName))
	bus.Subscribe("pipeline", jobs.NewPipeline(js, starter, logger).HandleEvent)
	bus.Subscribe("workflow-signal", temporal.NewSignaler(temporalClient, logger).HandleEvent)
	bus.Subscribe("processing-cancel", producer.HandleEvent)

	if cfg.Redis.Enabled {
		rc, err := events.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer rc.Close()
		bus.Subscribe("redis", events.NewRedisForwarder(rc, cfg.Redis.EventsChannel).Handle)
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}

	handler := api.NewHandler(api.Deps{
		Intake:  intake.NewService(st, js, s3Client, starter, cfg.Intake, logger, m),
		Jobs:    js,
		Gate:    publish.NewGate(st, required, bus, logger, m),
		Clips:   clips.NewService(st, s3Client, logger),
		Starter: starter,
		WatchOptions: poller.Options{
			Interval:       cfg.Poller.Interval,
			MaxWait:        cfg.Poller.MaxWait,
			MaxRetries:     cfg.Poller.MaxRetries,
			BackoffCeiling: cfg.Poller.BackoffCeiling,
		},
		Checks: checks,
	}, logger, m)

	server := api.NewServer(cfg.API, api.NewRouter(handler, reg, logger), logger)

	logger.Info("API server started",
		zap.Int("port", cfg.API.Port),
		zap.String("temporalAddress", cfg.Temporal.Address),
		zap.Strings("requiredJobTypes", jobTypeNames(required)),
	)

	if err := server.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
	}
	logger.Info("API server stopped")
}

func jobTypeNames(required domain.RequiredSet) []string {
	var names []string
	for _, t := range required.Required() {
		names = append(names, string(t))
	}
	return names
}
