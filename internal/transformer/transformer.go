package transformer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/models"
)

// 标准化失败的典型原因（调用方据此丢弃消息，绝不中断接入）
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingValue     = errors.New("missing required field: value")
	ErrUnknownTopic     = errors.New("unrecognized topic layout")
)

// StructuredPrefix 结构化主题前缀
// 格式：wesense/v1/{country}/{subdivision}/{device_id}/{reading_type}
const StructuredPrefix = "wesense/v1/"

// Transformer 消息标准化器
// 把两种线上消息格式（旧版路径编码 / 结构化 v1）统一转换为 Reading
type Transformer struct {
	logger *zap.Logger
}

// NewTransformer 创建消息标准化器
func NewTransformer(logger *zap.Logger) *Transformer {
	return &Transformer{logger: logger}
}

// Normalize 将原始消息转换为标准 Reading
// receivedAt 为消息到达时间，payload 未携带 timestamp 时作为默认值
func (t *Transformer) Normalize(topic string, payload []byte, receivedAt time.Time) (*models.Reading, error) {
	var meta topicMeta
	var err error

	if strings.HasPrefix(topic, StructuredPrefix) {
		meta, err = parseStructuredTopic(topic)
	} else {
		meta, err = parseLegacyTopic(topic)
	}
	if err != nil {
		return nil, err
	}

	body, err := parsePayload(payload)
	if err != nil {
		return nil, err
	}

	return body.toReading(meta, receivedAt)
}

// DeviceKeyFromTopic 从主题中提取设备键（不解析 JSON，供接入层按设备分片用）
// 主题无法识别时返回原始主题串，仍能保证同主题消息落在同一分片
func DeviceKeyFromTopic(topic string) string {
	if strings.HasPrefix(topic, StructuredPrefix) {
		if meta, err := parseStructuredTopic(topic); err == nil {
			return meta.deviceID
		}
		return topic
	}
	if meta, err := parseLegacyTopic(topic); err == nil {
		return meta.deviceID
	}
	return topic
}

// topicMeta 主题中携带的元信息
type topicMeta struct {
	deviceID    string
	readingType string
	country     string // 结构化主题才有
	subdivision string // 结构化主题才有
}

// parseStructuredTopic 解析结构化主题
// wesense/v1/{country}/{subdivision}/{device_id}/{reading_type}
func parseStructuredTopic(topic string) (topicMeta, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 6 {
		return topicMeta{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if parts[4] == "" || parts[5] == "" {
		return topicMeta{}, fmt.Errorf("%w: empty device_id or reading_type in %s", ErrUnknownTopic, topic)
	}
	return topicMeta{
		country:     parts[2],
		subdivision: parts[3],
		deviceID:    parts[4],
		readingType: parts[5],
	}, nil
}

// parseLegacyTopic 解析旧版路径编码主题
// {prefix}/{REGION}/{TYPE}/{LOCATION}_{DEVICE_ID}/{sensor_type}
func parseLegacyTopic(topic string) (topicMeta, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 {
		return topicMeta{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	node := parts[len(parts)-2]
	readingType := parts[len(parts)-1]
	if node == "" || readingType == "" {
		return topicMeta{}, fmt.Errorf("%w: empty segment in %s", ErrUnknownTopic, topic)
	}

	// {LOCATION}_{DEVICE_ID}：取最后一个下划线之后的部分
	// 无下划线时整段就是设备 ID（部分旧固件不带位置前缀）
	deviceID := node
	if idx := strings.LastIndex(node, "_"); idx >= 0 && idx < len(node)-1 {
		deviceID = node[idx+1:]
	}

	return topicMeta{
		deviceID:    deviceID,
		readingType: readingType,
	}, nil
}
