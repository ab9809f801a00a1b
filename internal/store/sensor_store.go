package store

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/models"
)

// ErrDeviceNotFound 设备不存在
var ErrDeviceNotFound = errors.New("device not found")

// SensorStore 内存设备状态存储
// - 同一设备的写入串行化（每设备独立互斥锁，不丢更新）
// - 不同设备的写入互不阻塞
// - 读取返回调用时刻的快照副本，不随后续写入变化
type SensorStore struct {
	mu      sync.RWMutex
	devices map[string]*deviceEntry
	logger  *zap.Logger
}

type deviceEntry struct {
	mu     sync.Mutex
	device models.Device
}

// NewSensorStore 创建设备状态存储
func NewSensorStore(logger *zap.Logger) *SensorStore {
	return &SensorStore{
		devices: make(map[string]*deviceEntry),
		logger:  logger,
	}
}

// Upsert 写入一条读数并返回设备快照
// 未知设备自动创建；覆盖对应类型的最新读数槽位；追加有界历史
// （超出容量淘汰最旧的）；读数携带坐标时更新设备坐标
func (s *SensorStore) Upsert(reading *models.Reading) *models.Device {
	entry := s.getOrCreate(reading.DeviceID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	d := &entry.device

	if d.FirstSeen.IsZero() || reading.Timestamp.Before(d.FirstSeen) {
		d.FirstSeen = reading.Timestamp
	}
	if reading.Timestamp.After(d.LastSeen) {
		d.LastSeen = reading.Timestamp
	}

	if reading.ReadingType != "" {
		d.Readings[reading.ReadingType] = *reading

		h := append(d.History[reading.ReadingType], *reading)
		if len(h) > models.HistoryCapacity {
			h = h[len(h)-models.HistoryCapacity:]
		}
		d.History[reading.ReadingType] = h
	}

	if reading.HasLocation() {
		d.Latitude = reading.Latitude
		d.Longitude = reading.Longitude
		if reading.LocationSource != "" {
			d.LocationSource = reading.LocationSource
		}
	}

	return d.Clone()
}

// Get 查询单个设备快照
func (s *SensorStore) Get(deviceID string) (*models.Device, error) {
	s.mu.RLock()
	entry, ok := s.devices[deviceID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrDeviceNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.device.Clone(), nil
}

// GetHistory 查询某设备某读数类型的历史（oldest -> newest 的只读副本）
func (s *SensorStore) GetHistory(deviceID, readingType string) ([]models.Reading, error) {
	s.mu.RLock()
	entry, ok := s.devices[deviceID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrDeviceNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	h := entry.device.History[readingType]
	out := make([]models.Reading, len(h))
	copy(out, h)
	return out, nil
}

// ListAll 返回全部设备快照（调用时刻一致视图，非实时事务）
func (s *SensorStore) ListAll() []*models.Device {
	s.mu.RLock()
	entries := make([]*deviceEntry, 0, len(s.devices))
	for _, entry := range s.devices {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	out := make([]*models.Device, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		out = append(out, entry.device.Clone())
		entry.mu.Unlock()
	}
	return out
}

// Count 当前设备数
func (s *SensorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

func (s *SensorStore) getOrCreate(deviceID string) *deviceEntry {
	s.mu.RLock()
	entry, ok := s.devices[deviceID]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok = s.devices[deviceID]; ok {
		return entry
	}

	entry = &deviceEntry{
		device: models.Device{
			DeviceID: deviceID,
			Readings: make(map[string]models.Reading),
			History:  make(map[string][]models.Reading),
		},
	}
	s.devices[deviceID] = entry
	s.logger.Debug("Created device on first reading", zap.String("device_id", deviceID))
	return entry
}
