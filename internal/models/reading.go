package models

import "time"

// LocationSource 位置来源
const (
	LocationSourceGPS             = "gps"
	LocationSourceFirmwareDefault = "firmware_default"
	LocationSourceMQTTOverride    = "mqtt_override"
)

// Reading 标准化的传感器读数（入库后不可变）
type Reading struct {
	DeviceID    string    `json:"device_id"`
	ReadingType string    `json:"reading_type"` // temperature / humidity / pm2_5 / co2 等
	Value       float64   `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// 位置信息（可选，设备可能未上报位置）
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Altitude       *float64 `json:"altitude,omitempty"`
	LocationSource string   `json:"location_source,omitempty"`

	// 设备硬件信息（可选）
	SensorModel string `json:"sensor_model,omitempty"`
	BoardModel  string `json:"board_model,omitempty"`
}

// HasLocation 读数是否携带坐标
func (r *Reading) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}
