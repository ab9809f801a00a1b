package repository

import (
	"fmt"
	"os"
	"path/filepath"

	geojson "github.com/paulmach/go.geojson"
	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/models"
)

// GeoJSONLoader 从预处理好的 GeoJSON 文件加载边界
// 文件命名沿用边界流水线的产物：processed_adm{0..4}.geojson
// ADM3/ADM4 文件可选，缺失时该层级跳过（部分国家无深层数据）
type GeoJSONLoader struct {
	dir    string
	logger *zap.Logger
}

// NewGeoJSONLoader 创建 GeoJSON 边界加载器
func NewGeoJSONLoader(dir string, logger *zap.Logger) *GeoJSONLoader {
	return &GeoJSONLoader{
		dir:    dir,
		logger: logger,
	}
}

// LoadAll 逐层级加载全部边界（层级升序）
func (l *GeoJSONLoader) LoadAll() ([]models.RegionBoundary, error) {
	var boundaries []models.RegionBoundary

	for level := 0; level < models.MaxAdminLevels; level++ {
		path := filepath.Join(l.dir, fmt.Sprintf("processed_adm%d.geojson", level))
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Info("Boundary file not present, skipping level",
					zap.Int("admin_level", level),
					zap.String("path", path),
				)
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		loaded, err := l.parseLevel(data, level)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		l.logger.Info("Loaded boundary file",
			zap.Int("admin_level", level),
			zap.Int("count", len(loaded)),
		)
		boundaries = append(boundaries, loaded...)
	}

	if len(boundaries) == 0 {
		return nil, fmt.Errorf("no boundary files found in %s", l.dir)
	}
	return boundaries, nil
}

// parseLevel 解析单层级的 FeatureCollection
func (l *GeoJSONLoader) parseLevel(data []byte, level int) ([]models.RegionBoundary, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal feature collection: %w", err)
	}

	boundaries := make([]models.RegionBoundary, 0, len(fc.Features))
	for _, f := range fc.Features {
		regionID := propString(f, "region_id")
		if regionID == "" {
			l.logger.Warn("Feature without region_id, skipping", zap.Int("admin_level", level))
			continue
		}

		polygon := extractPolygon(f.Geometry)
		if len(polygon) == 0 {
			l.logger.Warn("Feature without usable polygon, skipping",
				zap.String("region_id", regionID),
			)
			continue
		}

		b := models.RegionBoundary{
			RegionID:    regionID,
			AdminLevel:  level,
			Name:        propString(f, "name", "shapeName"),
			CountryCode: propString(f, "country_code", "shapeGroup"),
			ParentID:    propString(f, "parent_id"),
			Polygon:     polygon,
		}
		b.ComputeBBox()
		boundaries = append(boundaries, b)
	}
	return boundaries, nil
}

// propString 按候选键顺序取第一个非空字符串属性
func propString(f *geojson.Feature, keys ...string) string {
	for _, key := range keys {
		if s, err := f.PropertyString(key); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// extractPolygon 从几何体提取环坐标
// MultiPolygon 取外环点数最多的那个多边形（细碎离岛不参与解析）
func extractPolygon(g *geojson.Geometry) [][]models.Point {
	if g == nil {
		return nil
	}

	switch {
	case g.IsPolygon():
		return convertRings(g.Polygon)
	case g.IsMultiPolygon():
		var largest [][][]float64
		largestPoints := 0
		for _, poly := range g.MultiPolygon {
			if len(poly) > 0 && len(poly[0]) > largestPoints {
				largestPoints = len(poly[0])
				largest = poly
			}
		}
		return convertRings(largest)
	default:
		return nil
	}
}

// convertRings GeoJSON 坐标为 [lng, lat] 顺序
func convertRings(rings [][][]float64) [][]models.Point {
	out := make([][]models.Point, 0, len(rings))
	for _, ring := range rings {
		points := make([]models.Point, 0, len(ring))
		for _, pair := range ring {
			if len(pair) < 2 {
				continue
			}
			points = append(points, models.Point{Lng: pair[0], Lat: pair[1]})
		}
		out = append(out, points)
	}
	return out
}
