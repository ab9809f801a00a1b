package store_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/models"
	"github.com/wesense-earth/wesense-respiro-sub002/internal/store"
)

func newReading(deviceID, readingType string, value float64, ts time.Time) *models.Reading {
	return &models.Reading{
		DeviceID:    deviceID,
		ReadingType: readingType,
		Value:       value,
		Timestamp:   ts,
	}
}

func TestUpsert_RoundTrip(t *testing.T) {
	s := store.NewSensorStore(zap.NewNop())
	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	s.Upsert(newReading("dev-a", "temperature", 23.45, ts))

	d, err := s.Get("dev-a")
	require.NoError(t, err)

	latest, ok := d.Readings["temperature"]
	require.True(t, ok)
	assert.Equal(t, 23.45, latest.Value)
	assert.Equal(t, ts, latest.Timestamp)
}

func TestUpsert_CreatesUnknownDevice(t *testing.T) {
	s := store.NewSensorStore(zap.NewNop())

	_, err := s.Get("dev-a")
	require.ErrorIs(t, err, store.ErrDeviceNotFound)

	d := s.Upsert(newReading("dev-a", "humidity", 55, time.Now()))
	assert.Equal(t, "dev-a", d.DeviceID)
	assert.Equal(t, 1, s.Count())
}

func TestUpsert_UpdatesCoordinates(t *testing.T) {
	s := store.NewSensorStore(zap.NewNop())
	lat, lng := -36.848, 174.763

	r := newReading("dev-a", "temperature", 20, time.Now())
	r.Latitude = &lat
	r.Longitude = &lng
	r.LocationSource = models.LocationSourceGPS

	d := s.Upsert(r)
	require.NotNil(t, d.Latitude)
	require.NotNil(t, d.Longitude)
	assert.Equal(t, -36.848, *d.Latitude)
	assert.Equal(t, "gps", d.LocationSource)

	// 不带坐标的后续读数不清掉已有坐标
	d = s.Upsert(newReading("dev-a", "temperature", 21, time.Now()))
	require.NotNil(t, d.Latitude)
	assert.Equal(t, -36.848, *d.Latitude)
}

func TestGetHistory_BoundedAtCapacity(t *testing.T) {
	s := store.NewSensorStore(zap.NewNop())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// 写入 150 条，历史只保留最新的 100 条
	for i := 0; i < 150; i++ {
		s.Upsert(newReading("dev-a", "temperature", float64(i), base.Add(time.Duration(i)*time.Second)))
	}

	h, err := s.GetHistory("dev-a", "temperature")
	require.NoError(t, err)
	require.Len(t, h, models.HistoryCapacity)

	// 最旧的 50 条被淘汰，剩余按时间戳升序
	assert.Equal(t, 50.0, h[0].Value)
	assert.Equal(t, 149.0, h[len(h)-1].Value)
	for i := 1; i < len(h); i++ {
		assert.True(t, h[i].Timestamp.After(h[i-1].Timestamp))
	}
}

func TestGetHistory_ReturnsPointInTimeCopy(t *testing.T) {
	s := store.NewSensorStore(zap.NewNop())
	base := time.Now()

	s.Upsert(newReading("dev-a", "temperature", 1, base))
	h1, err := s.GetHistory("dev-a", "temperature")
	require.NoError(t, err)
	require.Len(t, h1, 1)

	// 拿到的历史是调用时刻的副本，后续写入不改变它
	s.Upsert(newReading("dev-a", "temperature", 2, base.Add(time.Second)))
	assert.Len(t, h1, 1)

	h2, err := s.GetHistory("dev-a", "temperature")
	require.NoError(t, err)
	assert.Len(t, h2, 2)
}

func TestListAll_Snapshots(t *testing.T) {
	s := store.NewSensorStore(zap.NewNop())
	s.Upsert(newReading("dev-a", "temperature", 1, time.Now()))
	s.Upsert(newReading("dev-b", "humidity", 2, time.Now()))

	all := s.ListAll()
	require.Len(t, all, 2)

	// 修改快照不影响存储内的状态
	for _, d := range all {
		d.Readings["temperature"] = models.Reading{Value: 999}
	}
	d, err := s.Get("dev-a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.Readings["temperature"].Value)
}

func TestUpsert_ConcurrentDevicesKeepPerDeviceOrder(t *testing.T) {
	s := store.NewSensorStore(zap.NewNop())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	const devices = 10
	const perDevice = 100

	// 每个设备一个发送方按序提交，设备之间完全并发
	var wg sync.WaitGroup
	for d := 0; d < devices; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			deviceID := fmt.Sprintf("dev-%02d", d)
			for i := 0; i < perDevice; i++ {
				s.Upsert(newReading(deviceID, "temperature", float64(i), base.Add(time.Duration(i)*time.Second)))
			}
		}(d)
	}
	wg.Wait()

	// 每个设备的历史必须严格等于自己的提交顺序，无跨设备串扰
	for d := 0; d < devices; d++ {
		deviceID := fmt.Sprintf("dev-%02d", d)
		h, err := s.GetHistory(deviceID, "temperature")
		require.NoError(t, err)
		require.Len(t, h, perDevice)
		for i, r := range h {
			require.Equal(t, float64(i), r.Value, "device %s position %d", deviceID, i)
			require.Equal(t, deviceID, r.DeviceID)
		}
	}
}
