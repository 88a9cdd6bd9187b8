package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tvoe/cliphub/internal/api"
	"github.com/tvoe/cliphub/internal/config"
	"github.com/tvoe/cliphub/internal/db"
	"github.com/tvoe/cliphub/internal/dispatch"
	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/events"
	"github.com/tvoe/cliphub/internal/jobs"
	"github.com/tvoe/cliphub/internal/logging"
	"github.com/tvoe/cliphub/internal/metrics"
	"github.com/tvoe/cliphub/internal/store"
	"github.com/tvoe/cliphub/internal/temporal"
	"github.com/tvoe/cliphub/internal/temporal/activities"
	"github.com/tvoe/cliphub/internal/temporal/workflows"
)

const backlogInterval = 30 * time.Second

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
	st := db.NewStore(database)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegistry(reg)

	temporalClient, err := temporal.Dial(cfg.Temporal.Address, cfg.Temporal.Namespace, logger)
	if err != nil {
		logger.Fatal("failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()
	starter := temporal.NewStarter(temporalClient, cfg.Temporal.TaskQueue, cfg.Processing.JobDeadline, logger)

	producer := dispatch.NewProducer(dispatch.NewKafkaWriter(cfg.Kafka), cfg.S3.BucketUploads, logger)
	defer producer.Close()

	bus := events.NewBus(logger, m)
	js := jobs.NewService(st, bus, cfg.Processing.RequiredSet(), logger, m, jobs.WithDefaultService(cfg.Processing.ServiceName))
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
	}

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.Worker.MaxConcurrentActivities,
	})
	w.RegisterWorkflow(workflows.ProcessingJobWorkflow)
	w.RegisterActivity(activities.NewActivities(js, producer, logger, m))

	consumer := dispatch.NewConsumer(dispatch.NewKafkaReader(cfg.Kafka), js, logger,
		dispatch.WithApplyRetries(cfg.Processing.ReportRetries))
	defer consumer.Close()

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})
	metricsServer := api.NewServer(config.APIConfig{
		Port:         cfg.Worker.MetricsPort,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, mux, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to start Temporal worker: %w", err)
		}
		<-gctx.Done()
		w.Stop()
		return nil
	})
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return metricsServer.Run(gctx) })
	g.Go(func() error {
		monitorJobBacklog(gctx, st, m, logger)
		return nil
	})

	logger.Info("worker started",
		zap.String("taskQueue", cfg.Temporal.TaskQueue),
		zap.String("statusTopic", cfg.Kafka.StatusTopic),
		zap.Int("maxConcurrentActivities", cfg.Worker.MaxConcurrentActivities),
	)

	if err := g.Wait(); err != nil {
		logger.Error("worker error", zap.Error(err))
	}
	logger.Info("worker stopped")
}

// monitorJobBacklog periodically publishes job counts per status
func monitorJobBacklog(ctx context.Context, st store.Store, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(backlogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := st.CountJobsByStatus(ctx)
			if err != nil {
				logger.Warn("failed to count jobs", zap.Error(err))
				continue
			}
			byStatus := make(map[string]int, len(counts))
			for status, n := range counts {
				byStatus[string(status)] = n
			}
			m.SetJobsByStatus(byStatus)

			if queued := counts[domain.JobStatusQueued]; queued > 100 {
				logger.Warn("job backlog is growing", zap.Int("queued", queued))
			}
		}
	}
}
