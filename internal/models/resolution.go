package models

import "time"

// RegionResolution 设备坐标到嵌套行政区划的解析结果（缓存条目）
// RegionIDs 按 admin_level 索引，未解析层级为 nil
// 不变式：RegionIDs[k] 非 nil 时 RegionIDs[k-1] 必须非 nil 且为其父级
type RegionResolution struct {
	DeviceID      string     `json:"device_id"`
	ResolvedAtLat float64    `json:"resolved_at_lat"`
	ResolvedAtLng float64    `json:"resolved_at_lng"`
	RegionIDs     []*string  `json:"region_ids"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewRegionResolution 创建空的解析结果（全层级未解析）
func NewRegionResolution(deviceID string, lat, lng float64) *RegionResolution {
	return &RegionResolution{
		DeviceID:      deviceID,
		ResolvedAtLat: lat,
		ResolvedAtLng: lng,
		RegionIDs:     make([]*string, MaxAdminLevels),
		UpdatedAt:     time.Now(),
	}
}

// RegionIDAt 返回指定层级的 region_id，未解析返回 ""
func (r *RegionResolution) RegionIDAt(level int) string {
	if level < 0 || level >= len(r.RegionIDs) || r.RegionIDs[level] == nil {
		return ""
	}
	return *r.RegionIDs[level]
}

// Resolved 是否至少解析到 ADM0
func (r *RegionResolution) Resolved() bool {
	return len(r.RegionIDs) > 0 && r.RegionIDs[0] != nil
}

// Clone 深拷贝
func (r *RegionResolution) Clone() *RegionResolution {
	cp := *r
	cp.RegionIDs = make([]*string, len(r.RegionIDs))
	for i, id := range r.RegionIDs {
		if id != nil {
			v := *id
			cp.RegionIDs[i] = &v
		}
	}
	return &cp
}
