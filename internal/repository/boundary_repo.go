package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/models"
)

// BoundaryRepository 行政区划边界仓库
// region_boundaries 表按 (admin_level, country_code, region_id) 键控，
// polygon 列为 JSONB：环的数组，每个环是 [lng, lat] 坐标对的数组
type BoundaryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBoundaryRepository 创建边界仓库
func NewBoundaryRepository(db *sql.DB, logger *zap.Logger) *BoundaryRepository {
	return &BoundaryRepository{
		db:     db,
		logger: logger,
	}
}

// LoadAll 加载全部边界（按层级升序，保证父级先于子级出现）
func (r *BoundaryRepository) LoadAll() ([]models.RegionBoundary, error) {
	query := `
		SELECT region_id, admin_level, name, country_code, COALESCE(parent_id, ''),
		       polygon,
		       bbox_min_lat, bbox_max_lat, bbox_min_lng, bbox_max_lng
		FROM region_boundaries
		ORDER BY admin_level, country_code, region_id
	`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query region_boundaries: %w", err)
	}
	defer rows.Close()

	var boundaries []models.RegionBoundary
	for rows.Next() {
		var b models.RegionBoundary
		var polygonJSON []byte

		if err := rows.Scan(
			&b.RegionID, &b.AdminLevel, &b.Name, &b.CountryCode, &b.ParentID,
			&polygonJSON,
			&b.BBox.MinLat, &b.BBox.MaxLat, &b.BBox.MinLng, &b.BBox.MaxLng,
		); err != nil {
			return nil, fmt.Errorf("failed to scan boundary row: %w", err)
		}

		polygon, err := decodePolygon(polygonJSON)
		if err != nil {
			return nil, fmt.Errorf("boundary %s: %w", b.RegionID, err)
		}
		b.Polygon = polygon

		boundaries = append(boundaries, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate boundary rows: %w", err)
	}

	r.logger.Info("Loaded region boundaries from database", zap.Int("count", len(boundaries)))
	return boundaries, nil
}

// CountByLevel 各层级边界数（启动日志用）
func (r *BoundaryRepository) CountByLevel() (map[int]int, error) {
	rows, err := r.db.Query(`SELECT admin_level, COUNT(*) FROM region_boundaries GROUP BY admin_level`)
	if err != nil {
		return nil, fmt.Errorf("failed to count boundaries: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var level, n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[level] = n
	}
	return counts, rows.Err()
}

// decodePolygon 解析 JSONB 多边形列：[[[lng, lat], ...], ...]
func decodePolygon(raw []byte) ([][]models.Point, error) {
	var rings [][][2]float64
	if err := json.Unmarshal(raw, &rings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal polygon: %w", err)
	}

	polygon := make([][]models.Point, len(rings))
	for i, ring := range rings {
		points := make([]models.Point, len(ring))
		for j, pair := range ring {
			points[j] = models.Point{Lng: pair[0], Lat: pair[1]}
		}
		polygon[i] = points
	}
	return polygon, nil
}
