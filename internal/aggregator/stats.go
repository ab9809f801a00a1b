package aggregator

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/models"
)

// DeviceLister 设备快照来源（Sensor Store）
type DeviceLister interface {
	ListAll() []*models.Device
}

// ResolutionSnapshotter 区域解析缓存快照来源（Region Resolver）
// 解析器缺席（边界数据加载失败的降级运行）时可为 nil
type ResolutionSnapshotter interface {
	SnapshotCache() map[string]*models.RegionResolution
}

// Aggregator 统计聚合器
// 拉模型：每次请求时取设备快照和解析缓存快照做联结，
// 按 region_ids[admin_level] 和 reading_type 分组，不落盘
type Aggregator struct {
	devices     DeviceLister
	resolutions ResolutionSnapshotter
	logger      *zap.Logger
}

// NewAggregator 创建统计聚合器
func NewAggregator(devices DeviceLister, resolutions ResolutionSnapshotter, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		devices:     devices,
		resolutions: resolutions,
		logger:      logger,
	}
}

// NetworkStats 计算指定层级的全网统计
// - 未解析（无缓存条目或该层级为 nil）的设备计入 "unresolved" 桶
// - 设备没有某类型的最新读数时不计入该类型的统计（不按 0 处理）
func (a *Aggregator) NetworkStats(adminLevel int) (*models.Stats, error) {
	if adminLevel < 0 || adminLevel >= models.MaxAdminLevels {
		return nil, fmt.Errorf("invalid admin_level %d, must be 0-%d", adminLevel, models.MaxAdminLevels-1)
	}

	devices := a.devices.ListAll()

	var resolutions map[string]*models.RegionResolution
	if a.resolutions != nil {
		resolutions = a.resolutions.SnapshotCache()
	}

	stats := &models.Stats{
		GeneratedAt:  time.Now(),
		AdminLevel:   adminLevel,
		TotalDevices: len(devices),
		Regions:      make(map[string]*models.RegionStats),
	}

	// 均值计算的中间量：region -> reading_type -> sum
	sums := make(map[string]map[string]float64)

	for _, d := range devices {
		bucket := models.UnresolvedBucket
		if res, ok := resolutions[d.DeviceID]; ok {
			if id := res.RegionIDAt(adminLevel); id != "" {
				bucket = id
			}
			if res.Resolved() {
				stats.ResolvedDevices++
			}
		}

		rs, ok := stats.Regions[bucket]
		if !ok {
			rs = &models.RegionStats{
				RegionID: bucket,
				Readings: make(map[string]*models.ReadingTypeStats),
			}
			stats.Regions[bucket] = rs
			sums[bucket] = make(map[string]float64)
		}
		rs.DeviceCount++

		for readingType, latest := range d.Readings {
			ts, ok := rs.Readings[readingType]
			if !ok {
				ts = &models.ReadingTypeStats{Min: latest.Value, Max: latest.Value}
				rs.Readings[readingType] = ts
			}
			ts.DeviceCount++
			if latest.Value < ts.Min {
				ts.Min = latest.Value
			}
			if latest.Value > ts.Max {
				ts.Max = latest.Value
			}
			sums[bucket][readingType] += latest.Value
		}
	}

	// 收尾：算均值
	for bucket, rs := range stats.Regions {
		for readingType, ts := range rs.Readings {
			if ts.DeviceCount > 0 {
				ts.Avg = sums[bucket][readingType] / float64(ts.DeviceCount)
			}
		}
	}

	return stats, nil
}
