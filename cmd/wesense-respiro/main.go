package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/config"
	"github.com/wesense-earth/wesense-respiro-sub002/internal/service"
	"github.com/wesense-earth/wesense-respiro-sub002/pkg/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化 Logger
	zapLogger, err := logger.New(cfg.Log.Level, cfg.Log.Format, "wesense-respiro")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting wesense-respiro telemetry service",
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("legacy_topic", cfg.Ingest.LegacyTopic),
		zap.String("structured_topic", cfg.Ingest.StructuredTopic),
		zap.String("boundary_source", cfg.Resolver.BoundarySource),
	)

	// 创建服务
	telemetryService, err := service.NewTelemetryService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create telemetry service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := telemetryService.Start(ctx); err != nil {
			zapLogger.Fatal("Failed to start telemetry service", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := telemetryService.Stop(context.Background()); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
