package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/aggregator"
	"github.com/wesense-earth/wesense-respiro-sub002/internal/config"
	"github.com/wesense-earth/wesense-respiro-sub002/internal/consumer"
	"github.com/wesense-earth/wesense-respiro-sub002/internal/models"
	"github.com/wesense-earth/wesense-respiro-sub002/internal/repository"
	"github.com/wesense-earth/wesense-respiro-sub002/internal/resolver"
	"github.com/wesense-earth/wesense-respiro-sub002/internal/store"
	"github.com/wesense-earth/wesense-respiro-sub002/internal/transformer"
	"github.com/wesense-earth/wesense-respiro-sub002/pkg/database"
	mqttcommon "github.com/wesense-earth/wesense-respiro-sub002/pkg/mqtt"
	rediscommon "github.com/wesense-earth/wesense-respiro-sub002/pkg/redis"
)

// ErrResolverDisabled 区域解析处于降级关闭状态
var ErrResolverDisabled = errors.New("region resolution is disabled")

// TelemetryService 遥测接入与区域解析服务
// 初始化顺序：加载边界 -> 建索引 -> 回灌解析缓存 -> 接入流量
// 停机顺序：停接入 -> 解析缓存刷入持久化存储 -> 关闭连接
type TelemetryService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *rediscommon.Client
	mqttClient  *mqttcommon.Client

	sensorStore *store.SensorStore
	resolver    *resolver.Resolver // nil 表示降级运行（无区域信息）
	aggregator  *aggregator.Aggregator
	consumer    *consumer.MQTTConsumer
}

// NewTelemetryService 创建服务
// 边界数据加载失败对解析器是致命的，但不拖垮整个服务：
// Sensor Store 和接入照常工作，只是所有设备都呈现为未解析（优雅降级）。
func NewTelemetryService(cfg *config.Config, logger *zap.Logger) (*TelemetryService, error) {
	s := &TelemetryService{
		config:      cfg,
		logger:      logger,
		sensorStore: store.NewSensorStore(logger),
	}

	// 1. 初始化 Redis（解析缓存的持久化存储）
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	var cacheRepo resolver.CacheStore
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		logger.Warn("Redis unavailable, region cache will not be persisted", zap.Error(err))
		redisClient.Close()
	} else {
		s.redisClient = redisClient
		cacheRepo = repository.NewRegionCacheRepository(
			repository.NewRedisKVStore(redisClient),
			cfg.Resolver.CacheKeyPrefix,
			logger,
		)
	}

	// 2. 加载边界数据并构建解析器（失败即降级，不中断启动）
	if err := s.initResolver(cacheRepo); err != nil {
		logger.Error("Boundary data unavailable, running without region enrichment", zap.Error(err))
	}

	// 3. 统计聚合器（resolver 为 nil 时所有设备计入 unresolved 桶）
	var snapshotter aggregator.ResolutionSnapshotter
	if s.resolver != nil {
		snapshotter = s.resolver
	}
	s.aggregator = aggregator.NewAggregator(s.sensorStore, snapshotter, logger)

	// 4. 连接 MQTT 并创建消费者
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	s.mqttClient = mqttClient

	s.consumer = consumer.NewMQTTConsumer(
		cfg,
		mqttClient,
		transformer.NewTransformer(logger),
		s.sensorStore,
		s.resolver,
		logger,
	)

	return s, nil
}

// initResolver 加载边界、建空间索引、回灌解析缓存
func (s *TelemetryService) initResolver(cacheRepo resolver.CacheStore) error {
	boundaries, err := s.loadBoundaries()
	if err != nil {
		return err
	}

	index, err := resolver.NewBoundaryIndex(boundaries, s.config.Resolver.GridCellDegrees)
	if err != nil {
		return fmt.Errorf("failed to build boundary index: %w", err)
	}

	s.resolver = resolver.NewResolver(
		index,
		cacheRepo,
		s.config.Resolver.MoveThresholdMeters,
		s.config.Resolver.Workers,
		s.logger,
	)

	if err := s.resolver.Hydrate(context.Background()); err != nil {
		s.logger.Warn("Failed to hydrate region cache", zap.Error(err))
	}
	return nil
}

// loadBoundaries 按配置的来源加载边界数据
func (s *TelemetryService) loadBoundaries() ([]models.RegionBoundary, error) {
	switch s.config.Resolver.BoundarySource {
	case "geojson":
		loader := repository.NewGeoJSONLoader(s.config.Resolver.GeoJSONDir, s.logger)
		return loader.LoadAll()
	case "postgres":
		db, err := database.NewPostgresDB(&s.config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		repo := repository.NewBoundaryRepository(db, s.logger)
		if counts, err := repo.CountByLevel(); err == nil {
			s.logger.Info("Region boundary inventory", zap.Any("per_level", counts))
		}
		return repo.LoadAll()
	default:
		return nil, fmt.Errorf("unknown boundary source: %s", s.config.Resolver.BoundarySource)
	}
}

// Start 启动服务（阻塞到 ctx 取消）
func (s *TelemetryService) Start(ctx context.Context) error {
	s.logger.Info("Starting telemetry service components")

	if s.resolver != nil {
		s.resolver.Start(ctx)
	}

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}
	return nil
}

// Stop 优雅停机
func (s *TelemetryService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping telemetry service")

	if s.consumer != nil {
		if err := s.consumer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping consumer", zap.Error(err))
		}
	}

	if s.resolver != nil {
		s.resolver.Wait()
		// 缓存刷入持久化存储，重启后免全量重解析
		if err := s.resolver.Flush(ctx); err != nil {
			s.logger.Error("Failed to flush region cache", zap.Error(err))
		}
	}

	s.closeConnections()
	s.logger.Info("Telemetry service stopped")
	return nil
}

func (s *TelemetryService) closeConnections() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}
}

// ---- 向上暴露的查询面（HTTP API 层消费，这里只有数据操作）----

// GetDevice 查询单个设备快照
func (s *TelemetryService) GetDevice(deviceID string) (*models.Device, error) {
	return s.sensorStore.Get(deviceID)
}

// ListDevices 全部设备快照
func (s *TelemetryService) ListDevices() []*models.Device {
	return s.sensorStore.ListAll()
}

// GetHistory 某设备某读数类型的历史
func (s *TelemetryService) GetHistory(deviceID, readingType string) ([]models.Reading, error) {
	return s.sensorStore.GetHistory(deviceID, readingType)
}

// GetDeviceRegion 某设备的区域解析结果（未解析时 ok 为 false）
func (s *TelemetryService) GetDeviceRegion(deviceID string) (*models.RegionResolution, bool) {
	if s.resolver == nil {
		return nil, false
	}
	return s.resolver.Resolution(deviceID)
}

// GetStats 指定层级的全网统计
func (s *TelemetryService) GetStats(adminLevel int) (*models.Stats, error) {
	return s.aggregator.NetworkStats(adminLevel)
}

// InvalidateRegionCache 清空区域解析缓存（边界数据重载后调用）
func (s *TelemetryService) InvalidateRegionCache(ctx context.Context) error {
	if s.resolver == nil {
		return ErrResolverDisabled
	}
	return s.resolver.InvalidateCache(ctx)
}
