package config

import (
	"os"
	"strconv"

	"github.com/wesense-earth/wesense-respiro-sub002/pkg/config"
)

// Config 遥测接入与区域解析服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 接入配置
	Ingest struct {
		// MQTT 主题（两种消息格式并存）
		LegacyTopic     string // 旧版路径编码格式，如 "skytrace/+/+/+/+"
		StructuredTopic string // 结构化格式，如 "wesense/v1/#"
		Workers         int    // 接入工作协程数（按设备哈希分片，保证单设备顺序）
		QueueSize       int    // 接入队列容量
	}

	// 区域解析配置
	Resolver struct {
		// 边界数据来源："postgres" 或 "geojson"
		BoundarySource string
		// GeoJSON 文件目录（BoundarySource=geojson 时使用）
		GeoJSONDir string
		// 坐标移动超过该距离（米）才重新解析，以下移动直接复用缓存
		MoveThresholdMeters float64
		Workers             int    // 解析工作协程数
		CacheKeyPrefix      string // 解析结果持久化键前缀，如 "wesense:region:"
		GridCellDegrees     float64 // 空间索引网格单元大小（度）
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 共享连接配置：先填默认值，再用环境变量覆盖
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "wesense_respiro",
		SSLMode:  "disable",
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "wesense-respiro",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	// 接入配置
	cfg.Ingest.LegacyTopic = getEnv("INGEST_LEGACY_TOPIC", "skytrace/+/+/+/+")
	cfg.Ingest.StructuredTopic = getEnv("INGEST_STRUCTURED_TOPIC", "wesense/v1/#")
	cfg.Ingest.Workers = getEnvInt("INGEST_WORKERS", 4)
	cfg.Ingest.QueueSize = getEnvInt("INGEST_QUEUE_SIZE", 1024)

	// 区域解析配置
	cfg.Resolver.BoundarySource = getEnv("BOUNDARY_SOURCE", "postgres")
	cfg.Resolver.GeoJSONDir = getEnv("BOUNDARY_GEOJSON_DIR", "data/boundaries")
	cfg.Resolver.MoveThresholdMeters = getEnvFloat("RESOLVER_MOVE_THRESHOLD_M", 100)
	cfg.Resolver.Workers = getEnvInt("RESOLVER_WORKERS", 2)
	cfg.Resolver.CacheKeyPrefix = getEnv("RESOLVER_CACHE_PREFIX", "wesense:region:")
	cfg.Resolver.GridCellDegrees = 1.0

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
