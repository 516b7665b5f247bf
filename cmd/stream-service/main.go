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

	"github.com/Aidin1998/tradebus/internal/broker"
	"github.com/Aidin1998/tradebus/internal/config"
	"github.com/Aidin1998/tradebus/internal/redis"
	"github.com/Aidin1998/tradebus/internal/stream"
	"github.com/Aidin1998/tradebus/pkg/logger"
	"github.com/Aidin1998/tradebus/pkg/telemetry"
)

const serviceName = "stream-service"

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

	subscriber, err := redis.NewClient(redis.FromSettings("pubsub", cfg.RedisPubSub), zapLogger.Sugar())
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis pub/sub", zap.Error(err))
	}

	hub := stream.NewHub(zapLogger)
	relay := stream.NewRelay(broker.NewRedis(subscriber.GetClient(), nil), cfg.Stream.Channel, hub, zapLogger)

	server := stream.NewServer(hub, stream.ClientConfig{
		SendBuffer:     cfg.Stream.SendBuffer,
		PingInterval:   cfg.Stream.PingInterval,
		PongTimeout:    cfg.Stream.PongTimeout,
		WriteTimeout:   cfg.Stream.WriteTimeout,
		MaxMessageSize: cfg.Stream.MaxMessageSize,
	}, cfg.Stream.AllowedOrigins, zapLogger)
	server.AddHealthCheck("redis", subscriber.Health)
	go subscriber.SamplePoolStats(ctx, 30*time.Second)

	relayDone := make(chan error, 1)
	go func() {
		relayDone <- relay.Run(ctx)
	}()

	addr := fmt.Sprintf(":%d", cfg.Stream.Port)
	go func() {
		if err := server.Start(addr); err != nil {
			zapLogger.Error("Stream server stopped", zap.Error(err))
			stop()
		}
	}()
	zapLogger.Info("Stream service started",
		zap.String("addr", addr),
		zap.String("channel", cfg.Stream.Channel),
	)

	<-ctx.Done()
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down stream server", zap.Error(err))
	}
	select {
	case err := <-relayDone:
		if err != nil {
			zapLogger.Error("Relay stopped with error", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		zapLogger.Warn("Relay did not stop before the shutdown deadline")
	}
	if err := subscriber.Close(); err != nil {
		zapLogger.Error("Failed to close Redis client", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		zapLogger.Error("Failed to flush traces", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
