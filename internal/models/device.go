package models

import "time"

// HistoryCapacity 每种读数类型保留的历史条数（超出后淘汰最旧的）
const HistoryCapacity = 100

// Device 设备状态（device_id 唯一键）
// Readings 保存每种类型的最新读数，History 保存有界历史（oldest -> newest）
type Device struct {
	DeviceID       string   `json:"device_id"`
	Name           string   `json:"name,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	LocationSource string   `json:"location_source,omitempty"`

	Readings map[string]Reading   `json:"readings"`
	History  map[string][]Reading `json:"history,omitempty"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Clone 深拷贝（快照语义，调用方拿到的副本不会随后续写入变化）
func (d *Device) Clone() *Device {
	cp := *d
	cp.Readings = make(map[string]Reading, len(d.Readings))
	for k, v := range d.Readings {
		cp.Readings[k] = v
	}
	cp.History = make(map[string][]Reading, len(d.History))
	for k, v := range d.History {
		h := make([]Reading, len(v))
		copy(h, v)
		cp.History[k] = h
	}
	return &cp
}
