package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/beacon/internal/aggregator"
	"github.com/oriys/beacon/internal/artifacts"
	"github.com/oriys/beacon/internal/barrier"
	"github.com/oriys/beacon/internal/billing"
	"github.com/oriys/beacon/internal/cache"
	"github.com/oriys/beacon/internal/cancel"
	"github.com/oriys/beacon/internal/config"
	"github.com/oriys/beacon/internal/container"
	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/eventbus"
	"github.com/oriys/beacon/internal/k6runner"
	"github.com/oriys/beacon/internal/logging"
	"github.com/oriys/beacon/internal/logs"
	"github.com/oriys/beacon/internal/metrics"
	"github.com/oriys/beacon/internal/mq"
	"github.com/oriys/beacon/internal/observability"
	"github.com/oriys/beacon/internal/pwrunner"
	"github.com/oriys/beacon/internal/store"
	"github.com/oriys/beacon/internal/worker"
)

func daemonCmd() *cobra.Command {
	var (
		logLevel   string
		listenAddr string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the Beacon regional worker daemon",
		Long:  "Run Beacon as a regional worker: consume this replica's monitor/k6/playwright queues, apply the billing gate and cancellation check, execute probes and load/synthetic-test jobs, and persist results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("pg-dsn") {
				cfg.Postgres.DSN = pgDSN
			}
			if cmd.Flags().Changed("redis-addr") {
				cfg.Redis.Addr = redisAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			if cfg.Observability.Tracing.ServiceName == "" || cfg.Observability.Tracing.ServiceName == "beacon" {
				cfg.Observability.Tracing.ServiceName = "beaconworker"
			}
			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			pgStore, err := store.NewPostgresStore(context.Background(), cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pgStore.Close()

			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer redisClient.Close()

			queue := mq.NewRedisQueue(redisClient)
			cancelStore := cancel.New(redisClient)
			localCache := cache.NewInMemoryCache()
			resultCache := cache.NewTieredCache(localCache, cache.NewRedisCacheFromClient(redisClient, "beacon:cache:"), 10*time.Second)
			invalidator := cache.NewCacheInvalidator(localCache, redisClient)
			barrierStore := barrier.New(redisClient)

			if err := logging.InitOutputStore(os.TempDir()+"/beacon-run-output", 256*1024, 3600); err != nil {
				logging.Op().Warn("beaconworker: run-output store unavailable", "error", err)
			}

			var alertNotifier domain.AlertNotifier
			if cfg.Webhook.URL != "" {
				alertNotifier = eventbus.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.SigningSecret, cfg.Webhook.Headers, cfg.Webhook.TimeoutMs)
			}
			aggregatorSvc := aggregator.New(pgStore, barrierStore, alertNotifier, resultCache)

			containerExecutor := container.NewExecutor(&cfg.Container, cancelStore)

			var artifactStore *artifacts.Store
			if cfg.Artifacts.Bucket != "" {
				artifactStore, err = artifacts.NewStore(context.Background(), cfg.Artifacts)
				if err != nil {
					logging.Op().Warn("beaconworker: artifact store unavailable, runs will have no report/log URLs", "error", err)
				}
			}
			consolePublisher := logs.NewConsolePublisher(redisClient)

			k6Runner := k6runner.New(k6runner.Config{
				DashboardAddr:        cfg.K6Dashboard.Addr,
				DashboardStartPort:   cfg.K6Dashboard.StartPort,
				DashboardPortRange:   cfg.K6Dashboard.PortRange,
				MaxDashboardAttempts: cfg.K6Dashboard.MaxAttempts,
				Image:                cfg.Container.DefaultImage,
			}, containerExecutor, artifactStore, consolePublisher)

			playwrightRunner := pwrunner.New(pwrunner.Config{
				Image: cfg.Container.DefaultImage,
			}, containerExecutor, artifactStore, consolePublisher)

			location := domain.NormalizeLocation(cfg.Worker.LocationRaw)
			isLocal := cfg.Worker.LocationRaw == "" || cfg.Worker.LocationRaw == "local"
			if !isLocal && cfg.Worker.NodeEnv == "production" && !location.IsValid() {
				return fmt.Errorf("WORKER_LOCATION %q is not a valid location in production", cfg.Worker.LocationRaw)
			}

			w := worker.New(worker.Config{
				Location:                   location,
				IsLocal:                    isLocal,
				EnableLocationFiltering:    cfg.Worker.EnableLocationFiltering,
				SubscribeK6Global:          cfg.Worker.K6Global,
				AllowInternalTargets:       cfg.Worker.AllowInternalTargets,
				AdaptiveMonitorConcurrency: cfg.Worker.AdaptiveMonitorConcurrency,
			}, queue, pgStore, cancelStore, billing.AllowAll{}, aggregatorSvc, k6Runner, playwrightRunner, resultCache, nil)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go invalidator.Start(ctx)
			defer invalidator.Close()

			var httpServer *http.Server
			if listenAddr != "" {
				mux := http.NewServeMux()
				if cfg.Observability.Metrics.Enabled {
					mux.Handle("/metrics", metrics.PrometheusHandler())
				}
				mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
					w.Write([]byte(`{"status":"ok","service":"beaconworker","location":"` + string(location) + `"}`))
				})
				mux.HandleFunc("/runs/", func(w http.ResponseWriter, r *http.Request) {
					runID := strings.TrimPrefix(r.URL.Path, "/runs/")
					if rest, ok := strings.CutSuffix(runID, "/output"); ok {
						entry, found := logging.GetOutputStore().Get(rest)
						if !found {
							http.Error(w, "no captured output", http.StatusNotFound)
							return
						}
						w.Header().Set("Content-Type", "application/json")
						json.NewEncoder(w).Encode(entry)
						return
					}
					progress := containerExecutor.Progress(runID)
					if progress == nil {
						http.Error(w, "run not tracked", http.StatusNotFound)
						return
					}
					w.Header().Set("Content-Type", "application/json")
					json.NewEncoder(w).Encode(progress)
				})
				httpServer = &http.Server{Addr: listenAddr, Handler: observability.HTTPMiddleware(mux)}
				go func() {
					logging.Op().Info("beaconworker HTTP endpoint started", "addr", listenAddr)
					if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Error("beaconworker HTTP server error", "error", err)
					}
				}()
			}

			logging.Op().Info("beaconworker started", "location", location, "local", isLocal)

			errCh := make(chan error, 1)
			go func() { errCh <- w.Run(ctx) }()

			select {
			case <-ctx.Done():
				logging.Op().Info("shutdown signal received")
			case err := <-errCh:
				if err != nil && err != context.Canceled {
					logging.Op().Error("beaconworker: worker loop exited", "error", err)
				}
			}

			if httpServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(shutdownCtx)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&listenAddr, "listen", ":9090", "HTTP listen address for /metrics and /health")

	return cmd
}
