package transformer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/models"
)

// rawPayload 线上 JSON 消息体
// 两种主题格式共用同一套字段；timestamp 既可能是 ISO-8601 字符串
// 也可能是 unix 秒（旧版解码器发的是整数）
type rawPayload struct {
	Value          *float64        `json:"value"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	DeviceID       string          `json:"device_id,omitempty"`
	ReadingType    string          `json:"reading_type,omitempty"`
	Unit           string          `json:"unit,omitempty"`
	Latitude       *float64        `json:"latitude,omitempty"`
	Longitude      *float64        `json:"longitude,omitempty"`
	Altitude       *float64        `json:"altitude,omitempty"`
	LocationSource string          `json:"location_source,omitempty"`
	SensorModel    string          `json:"sensor_model,omitempty"`
	BoardModel     string          `json:"board_model,omitempty"`
}

func parsePayload(payload []byte) (*rawPayload, error) {
	var body rawPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body.Value == nil {
		return nil, ErrMissingValue
	}
	return &body, nil
}

// toReading 合并主题元信息与消息体，生成标准 Reading
// 优先级：消息体字段覆盖主题字段（device_id / reading_type），缺省走主题
func (p *rawPayload) toReading(meta topicMeta, receivedAt time.Time) (*models.Reading, error) {
	deviceID := meta.deviceID
	if p.DeviceID != "" {
		deviceID = p.DeviceID
	}
	if deviceID == "" {
		return nil, fmt.Errorf("%w: no device_id in topic or payload", ErrMalformedPayload)
	}

	readingType := meta.readingType
	if readingType == "" {
		readingType = p.ReadingType
	}

	ts := parseTimestamp(p.Timestamp, receivedAt)

	reading := &models.Reading{
		DeviceID:       deviceID,
		ReadingType:    readingType,
		Value:          *p.Value,
		Unit:           p.Unit,
		Timestamp:      ts,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		Altitude:       p.Altitude,
		LocationSource: p.LocationSource,
		SensorModel:    p.SensorModel,
		BoardModel:     p.BoardModel,
	}

	// 坐标必须成对出现，单边缺失按无位置处理
	if reading.Latitude == nil || reading.Longitude == nil {
		reading.Latitude = nil
		reading.Longitude = nil
	}

	return reading, nil
}

// parseTimestamp 解析 timestamp 字段
// 数字按 unix 秒处理，字符串按 RFC3339 处理，缺失或无法解析时取接收时间
func parseTimestamp(raw json.RawMessage, receivedAt time.Time) time.Time {
	if len(raw) == 0 {
		return receivedAt
	}

	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil {
		if epoch <= 0 {
			return receivedAt
		}
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}

	return receivedAt
}
