package resolver

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/models"
)

// BoundaryIndex 行政区划边界空间索引
// 按 admin_level 分层建网格桶索引（边界框覆盖到的网格单元），
// 加载完成后只读，可被任意数量的解析协程无锁并发查询。
// ADM1-ADM4 的候选集按 parent_id 收窄：只在已命中的父区域的
// 子区域里做多边形包含测试，避免全球范围线性扫描。
type BoundaryIndex struct {
	cellDegrees float64
	arena       []models.RegionBoundary

	// 每层一套网格桶：cell -> arena 下标
	levels [models.MaxAdminLevels]map[gridCell][]int

	// parent region_id -> 子边界的 arena 下标
	children map[string][]int

	byID map[string]int

	// 多边形包含测试计数（性能观测用）
	containmentTests atomic.Uint64
}

type gridCell struct {
	x int // lng / cellDegrees
	y int // lat / cellDegrees
}

// NewBoundaryIndex 构建空间索引
// 校验边界森林完整性：N>0 层级的 parent_id 必须指向同国家的 N-1 层级边界
func NewBoundaryIndex(boundaries []models.RegionBoundary, cellDegrees float64) (*BoundaryIndex, error) {
	if cellDegrees <= 0 {
		cellDegrees = 1.0
	}

	ix := &BoundaryIndex{
		cellDegrees: cellDegrees,
		arena:       boundaries,
		children:    make(map[string][]int),
		byID:        make(map[string]int, len(boundaries)),
	}
	for lvl := range ix.levels {
		ix.levels[lvl] = make(map[gridCell][]int)
	}

	// 第一遍：登记 ID，计算缺失的边界框
	for i := range ix.arena {
		b := &ix.arena[i]
		if b.AdminLevel < 0 || b.AdminLevel >= models.MaxAdminLevels {
			return nil, fmt.Errorf("boundary %s: invalid admin_level %d", b.RegionID, b.AdminLevel)
		}
		if len(b.Polygon) == 0 || len(b.Polygon[0]) < 3 {
			return nil, fmt.Errorf("boundary %s: degenerate polygon", b.RegionID)
		}
		if _, dup := ix.byID[b.RegionID]; dup {
			return nil, fmt.Errorf("boundary %s: duplicate region_id", b.RegionID)
		}
		if (b.BBox == models.BBox{}) {
			b.ComputeBBox()
		}
		ix.byID[b.RegionID] = i
	}

	// 第二遍：父子关系 + 网格桶
	for i := range ix.arena {
		b := &ix.arena[i]
		if b.AdminLevel > 0 {
			if b.ParentID == "" {
				return nil, fmt.Errorf("boundary %s: level %d without parent_id", b.RegionID, b.AdminLevel)
			}
			pi, ok := ix.byID[b.ParentID]
			if !ok {
				return nil, fmt.Errorf("boundary %s: unknown parent %s", b.RegionID, b.ParentID)
			}
			parent := &ix.arena[pi]
			if parent.AdminLevel != b.AdminLevel-1 || parent.CountryCode != b.CountryCode {
				return nil, fmt.Errorf("boundary %s: parent %s is not a level-%d boundary of %s",
					b.RegionID, b.ParentID, b.AdminLevel-1, b.CountryCode)
			}
			ix.children[b.ParentID] = append(ix.children[b.ParentID], i)
		}

		for _, cell := range ix.cellsForBBox(&b.BBox) {
			ix.levels[b.AdminLevel][cell] = append(ix.levels[b.AdminLevel][cell], i)
		}
	}

	return ix, nil
}

// Size 索引中的边界总数
func (ix *BoundaryIndex) Size() int {
	return len(ix.arena)
}

// CountAtLevel 某层级的边界数
func (ix *BoundaryIndex) CountAtLevel(level int) int {
	n := 0
	for i := range ix.arena {
		if ix.arena[i].AdminLevel == level {
			n++
		}
	}
	return n
}

// ContainmentTests 已执行的多边形包含测试次数
func (ix *BoundaryIndex) ContainmentTests() uint64 {
	return ix.containmentTests.Load()
}

// Locate 把坐标解析为各层级 region_id
// 返回长度为 MaxAdminLevels 的数组，未解析层级为 nil；
// 点不落入任何 ADM0 边界（公海、未建图区域）时全层级为 nil，不是错误。
func (ix *BoundaryIndex) Locate(lat, lng float64) []*string {
	ids := make([]*string, models.MaxAdminLevels)

	// 1. ADM0：网格桶取候选，bbox 过滤后做多边形包含测试
	parent := -1
	for _, ci := range ix.levels[0][ix.cellOf(lat, lng)] {
		b := &ix.arena[ci]
		if b.BBox.Contains(lat, lng) && ix.containsPoint(b, lat, lng) {
			parent = ci
			break
		}
	}
	if parent < 0 {
		return ids
	}
	id0 := ix.arena[parent].RegionID
	ids[0] = &id0

	// 2. ADM1-ADM4：候选收窄为已命中父区域的子区域
	for level := 1; level < models.MaxAdminLevels; level++ {
		found := -1
		for _, ci := range ix.children[ix.arena[parent].RegionID] {
			b := &ix.arena[ci]
			if b.BBox.Contains(lat, lng) && ix.containsPoint(b, lat, lng) {
				found = ci
				break
			}
		}
		if found < 0 {
			// 该国家在更深层级无数据或点落在子区域之外：到此为止
			break
		}
		id := ix.arena[found].RegionID
		ids[level] = &id
		parent = found
	}

	return ids
}

// containsPoint 点是否在边界多边形内（外环减孔洞，射线法）
func (ix *BoundaryIndex) containsPoint(b *models.RegionBoundary, lat, lng float64) bool {
	ix.containmentTests.Add(1)

	if !pointInRing(b.Polygon[0], lat, lng) {
		return false
	}
	for _, hole := range b.Polygon[1:] {
		if pointInRing(hole, lat, lng) {
			return false
		}
	}
	return true
}

// pointInRing 射线法：从点向东发射水平射线，统计与环边的交点数
func pointInRing(ring []models.Point, lat, lng float64) bool {
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		yi, xi := ring[i].Lat, ring[i].Lng
		yj, xj := ring[j].Lat, ring[j].Lng
		if (yi > lat) != (yj > lat) &&
			lng < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

func (ix *BoundaryIndex) cellOf(lat, lng float64) gridCell {
	return gridCell{
		x: int(math.Floor(lng / ix.cellDegrees)),
		y: int(math.Floor(lat / ix.cellDegrees)),
	}
}

func (ix *BoundaryIndex) cellsForBBox(box *models.BBox) []gridCell {
	minX := int(math.Floor(box.MinLng / ix.cellDegrees))
	maxX := int(math.Floor(box.MaxLng / ix.cellDegrees))
	minY := int(math.Floor(box.MinLat / ix.cellDegrees))
	maxY := int(math.Floor(box.MaxLat / ix.cellDegrees))

	cells := make([]gridCell, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			cells = append(cells, gridCell{x: x, y: y})
		}
	}
	return cells
}
