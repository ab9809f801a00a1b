package models

import "time"

// UnresolvedBucket 未解析设备的统计桶键
const UnresolvedBucket = "unresolved"

// ReadingTypeStats 某读数类型在一个区域内的统计
// 只统计拥有该类型最新读数的设备，没有该类型读数的设备不计入
type ReadingTypeStats struct {
	DeviceCount int     `json:"device_count"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Avg         float64 `json:"avg"`
}

// RegionStats 单个区域的统计
type RegionStats struct {
	RegionID    string                       `json:"region_id"`
	DeviceCount int                          `json:"device_count"`
	Readings    map[string]*ReadingTypeStats `json:"readings"`
}

// Stats 全网统计快照（派生数据，按需重算，不落盘）
type Stats struct {
	GeneratedAt     time.Time               `json:"generated_at"`
	AdminLevel      int                     `json:"admin_level"`
	TotalDevices    int                     `json:"total_devices"`
	ResolvedDevices int                     `json:"resolved_devices"`
	Regions         map[string]*RegionStats `json:"regions"`
}
