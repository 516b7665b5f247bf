package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/tradebus/internal/config"
	"github.com/Aidin1998/tradebus/internal/ingest"
	"github.com/Aidin1998/tradebus/internal/store"
	"github.com/Aidin1998/tradebus/pkg/logger"
	"github.com/Aidin1998/tradebus/pkg/metrics"
	"github.com/Aidin1998/tradebus/pkg/telemetry"
)

const serviceName = "db-processor"

func main() {
	bootLogger, err := logger.NewLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	cfg, err := config.Load(bootLogger)
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	base, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	zapLogger := logger.Named(base, serviceName)
	defer zapLogger.Sync()
	if effective, err := cfg.Redacted(); err == nil {
		zapLogger.Debug("Effective configuration", zap.ByteString("config", effective))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: serviceName,
		PrettyPrint: cfg.Tracing.PrettyPrint,
	})
	if err != nil {
		zapLogger.Fatal("Failed to set up tracing", zap.Error(err))
	}

	st, err := store.Open(ctx, cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}

	if cfg.Kafka.EnsureTopics {
		if err := ingest.EnsureTopics(ctx, cfg.Kafka, zapLogger); err != nil {
			zapLogger.Fatal("Failed to ensure Kafka topics", zap.Error(err))
		}
	}

	registry := ingest.NewRegistry()
	ingest.RegisterStoreHandlers(registry, st)

	retryWriter := ingest.NewRetryWriter(cfg.Kafka, zapLogger)
	consumer := ingest.NewConsumer(cfg.Ingest.Workers, func() ingest.Reader {
		return ingest.NewReader(cfg.Kafka)
	}, retryWriter, registry, zapLogger)

	// Sample DB pool metrics every 30s
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if stats, err := st.PoolStats(); err == nil {
					metrics.DBOpenConns.WithLabelValues("postgres").Set(float64(stats.OpenConnections))
					metrics.DBIdleConns.WithLabelValues("postgres").Set(float64(stats.Idle))
					metrics.DBInUseConns.WithLabelValues("postgres").Set(float64(stats.InUse))
				}
			}
		}
	}()

	metricsServer := newServer(fmt.Sprintf(":%d", cfg.Ingest.MetricsPort), st, zapLogger)
	go func() {
		zapLogger.Info("Starting HTTP server", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	zapLogger.Info("DB processor started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("retry_topic", cfg.Kafka.RetryTopic),
		zap.Int("workers", cfg.Ingest.Workers),
	)
	runErr := consumer.Run(ctx)
	if runErr != nil {
		zapLogger.Error("Ingestion stopped", zap.Error(runErr))
	}

	zapLogger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	if err := retryWriter.Close(); err != nil {
		zapLogger.Error("Failed to close retry writer", zap.Error(err))
	}
	if err := st.Close(); err != nil {
		zapLogger.Error("Failed to close database", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		zapLogger.Error("Failed to flush traces", zap.Error(err))
	}

	if runErr != nil {
		zapLogger.Sync()
		os.Exit(1)
	}
	zapLogger.Info("DB processor exited properly")
}
