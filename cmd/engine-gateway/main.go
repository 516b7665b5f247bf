package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/tradebus/api"
	"github.com/Aidin1998/tradebus/internal/bridge"
	"github.com/Aidin1998/tradebus/internal/broker"
	"github.com/Aidin1998/tradebus/internal/config"
	"github.com/Aidin1998/tradebus/internal/redis"
	"github.com/Aidin1998/tradebus/pkg/logger"
	"github.com/Aidin1998/tradebus/pkg/telemetry"
)

const (
	serviceName        = "engine-gateway"
	redisStatsInterval = 30 * time.Second
)

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

	// Separate connections: a subscribed connection cannot issue LPUSH.
	queueClient, err := redis.NewClient(redis.FromSettings("queue", cfg.Redis), zapLogger.Sugar())
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	pubsubClient, err := redis.NewClient(redis.FromSettings("pubsub", cfg.RedisPubSub), zapLogger.Sugar())
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis pub/sub", zap.Error(err))
	}

	transport, err := bridge.NewTransport(cfg.Bridge, broker.NewRedis(queueClient.GetClient(), pubsubClient.GetClient()))
	if err != nil {
		zapLogger.Fatal("Failed to create bridge transport", zap.Error(err))
	}
	engine := bridge.NewClient(transport, cfg.Bridge.Timeout, zapLogger)

	apiServer := api.NewServer(zapLogger, engine, bridge.RetryPolicy{
		MaxAttempts: cfg.Bridge.RetryAttempts,
		Delay:       cfg.Bridge.RetryDelay,
		Timeout:     cfg.Bridge.Timeout,
	}, cfg.HTTP.AllowedOrigins)
	apiServer.AddHealthCheck("redis", queueClient.Health)
	apiServer.AddHealthCheck("redis_pubsub", pubsubClient.Health)

	go queueClient.SamplePoolStats(ctx, redisStatsInterval)
	go pubsubClient.SamplePoolStats(ctx, redisStatsInterval)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	go func() {
		if err := apiServer.Start(addr); err != nil {
			zapLogger.Error("API server stopped", zap.Error(err))
			stop()
		}
	}()
	zapLogger.Info("Engine gateway started",
		zap.String("addr", addr),
		zap.String("transport", cfg.Bridge.Transport),
		zap.String("queue", cfg.Bridge.QueueKey),
	)

	<-ctx.Done()
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}
	if n := engine.Pending(); n > 0 {
		zapLogger.Warn("Engine calls still pending at shutdown", zap.Int("pending", n))
	}
	if err := pubsubClient.Close(); err != nil {
		zapLogger.Error("Failed to close Redis pub/sub client", zap.Error(err))
	}
	if err := queueClient.Close(); err != nil {
		zapLogger.Error("Failed to close Redis client", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		zapLogger.Error("Failed to flush traces", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
