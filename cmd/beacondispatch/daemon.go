package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/beacon/internal/config"
	"github.com/oriys/beacon/internal/dispatcher"
	"github.com/oriys/beacon/internal/logging"
	"github.com/oriys/beacon/internal/metrics"
	"github.com/oriys/beacon/internal/mq"
	"github.com/oriys/beacon/internal/observability"
	"github.com/oriys/beacon/internal/store"
)

func daemonCmd() *cobra.Command {
	var (
		logLevel   string
		listenAddr string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the Beacon dispatcher daemon",
		Long:  "Run Beacon as the dispatcher: consume monitor-scheduler/job-scheduler/k6-job-scheduler triggers and fan each out to its regional monitor/k6/playwright queue",
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
				cfg.Observability.Tracing.ServiceName = "beacondispatch"
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
			d := dispatcher.New(pgStore, queue)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var httpServer *http.Server
			if listenAddr != "" {
				mux := http.NewServeMux()
				if cfg.Observability.Metrics.Enabled {
					mux.Handle("/metrics", metrics.PrometheusHandler())
				}
				mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
					w.Write([]byte(`{"status":"ok","service":"beacondispatch"}`))
				})
				httpServer = &http.Server{Addr: listenAddr, Handler: observability.HTTPMiddleware(mux)}
				go func() {
					logging.Op().Info("beacondispatch HTTP endpoint started", "addr", listenAddr)
					if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Error("beacondispatch HTTP server error", "error", err)
					}
				}()
			}

			logging.Op().Info("beacondispatch started")

			errCh := make(chan error, 1)
			go func() { errCh <- d.Run(ctx) }()

			select {
			case <-ctx.Done():
				logging.Op().Info("shutdown signal received")
			case err := <-errCh:
				if err != nil && err != context.Canceled {
					logging.Op().Error("beacondispatch: dispatch loop exited", "error", err)
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
	cmd.Flags().StringVar(&listenAddr, "listen", ":9091", "HTTP listen address for /metrics and /health")

	return cmd
}
