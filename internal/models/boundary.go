package models

// MaxAdminLevels 行政区划层级数（ADM0 国家 ... ADM4 最细分区）
const MaxAdminLevels = 5

// Point 经纬度坐标点
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BBox 边界框（用于空间索引的快速过滤）
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Contains 点是否落在边界框内
func (b *BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// RegionBoundary 行政区划边界
// Polygon 是环的有序列表：第 0 个环为外环，其余为孔洞
// ParentID 指向上一级（admin_level-1）同国家的边界，ADM0 无父级
type RegionBoundary struct {
	RegionID    string    `json:"region_id"`
	AdminLevel  int       `json:"admin_level"` // 0-4
	Name        string    `json:"name"`
	CountryCode string    `json:"country_code"`
	ParentID    string    `json:"parent_id,omitempty"`
	Polygon     [][]Point `json:"polygon"`
	BBox        BBox      `json:"bbox"`
}

// ComputeBBox 根据多边形各环重算边界框
func (rb *RegionBoundary) ComputeBBox() {
	if len(rb.Polygon) == 0 || len(rb.Polygon[0]) == 0 {
		rb.BBox = BBox{}
		return
	}
	first := rb.Polygon[0][0]
	box := BBox{MinLat: first.Lat, MaxLat: first.Lat, MinLng: first.Lng, MaxLng: first.Lng}
	for _, ring := range rb.Polygon {
		for _, p := range ring {
			if p.Lat < box.MinLat {
				box.MinLat = p.Lat
			}
			if p.Lat > box.MaxLat {
				box.MaxLat = p.Lat
			}
			if p.Lng < box.MinLng {
				box.MinLng = p.Lng
			}
			if p.Lng > box.MaxLng {
				box.MaxLng = p.Lng
			}
		}
	}
	rb.BBox = box
}
