package resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/models"
)

// CacheStore 解析结果的持久化存储（latest-wins upsert 语义）
// Redis 实现见 internal/repository/region_cache.go，单元测试用内存 fake 替换
type CacheStore interface {
	Upsert(ctx context.Context, res *models.RegionResolution) error
	LoadAll(ctx context.Context) ([]*models.RegionResolution, error)
	Clear(ctx context.Context) error
}

// Resolver 设备坐标 -> 嵌套行政区划的解析器
// 解析工作相对接入异步：读数先入库立即可见，区域信息在后台解析
// 完成前表现为未解析/过期（enrichment 数据，允许短暂陈旧）。
type Resolver struct {
	index   *BoundaryIndex
	persist CacheStore // 可为 nil（未配置持久化时纯内存运行）

	cacheMu sync.RWMutex
	cache   map[string]*models.RegionResolution
	// applied 记录每设备最近一次已应用结果的入队序号：
	// 工作协程乱序完成时，旧坐标的解析结果不得覆盖新坐标的
	applied map[string]uint64
	seq     atomic.Uint64

	queue           *resolveQueue
	moveThresholdM  float64
	workers         int
	logger          *zap.Logger
	wg              sync.WaitGroup
}

// NewResolver 创建解析器
// moveThresholdM: 坐标移动超过该距离（米）才重新解析，默认 100
func NewResolver(index *BoundaryIndex, persist CacheStore, moveThresholdM float64, workers int, logger *zap.Logger) *Resolver {
	if moveThresholdM <= 0 {
		moveThresholdM = 100
	}
	if workers <= 0 {
		workers = 2
	}
	return &Resolver{
		index:          index,
		persist:        persist,
		cache:          make(map[string]*models.RegionResolution),
		applied:        make(map[string]uint64),
		queue:          newResolveQueue(),
		moveThresholdM: moveThresholdM,
		workers:        workers,
		logger:         logger,
	}
}

// Start 启动后台解析工作协程
func (r *Resolver) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	r.logger.Info("Region resolver started",
		zap.Int("workers", r.workers),
		zap.Float64("move_threshold_m", r.moveThresholdM),
		zap.Int("boundaries", r.index.Size()),
	)
}

// Wait 等待工作协程退出（ctx 取消后调用）
func (r *Resolver) Wait() {
	r.wg.Wait()
}

// ObserveLocation 设备上报了新坐标
// 与缓存的解析坐标比较大圆距离：未超过阈值直接复用缓存条目
// （静止设备和 GPS 抖动不触发昂贵的几何测试），超过才入队解析；
// 同设备的多次待处理坐标只保留最新一份。
func (r *Resolver) ObserveLocation(deviceID string, lat, lng float64) {
	r.cacheMu.RLock()
	cached, ok := r.cache[deviceID]
	r.cacheMu.RUnlock()

	if ok {
		moved := haversineDistance(cached.ResolvedAtLat, cached.ResolvedAtLng, lat, lng)
		if moved <= r.moveThresholdM {
			return
		}
	}

	r.queue.Enqueue(locationUpdate{DeviceID: deviceID, Lat: lat, Lng: lng, seq: r.seq.Add(1)})
}

// Resolution 读取某设备的解析结果快照（可能略微陈旧）
func (r *Resolver) Resolution(deviceID string) (*models.RegionResolution, bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	res, ok := r.cache[deviceID]
	if !ok {
		return nil, false
	}
	return res.Clone(), true
}

// SnapshotCache 全量缓存快照（统计聚合用）
func (r *Resolver) SnapshotCache() map[string]*models.RegionResolution {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make(map[string]*models.RegionResolution, len(r.cache))
	for id, res := range r.cache {
		out[id] = res.Clone()
	}
	return out
}

// InvalidateCache 管理操作：清空全部缓存（内存 + 持久化），强制全量重解析
// 边界数据重新加载后调用
func (r *Resolver) InvalidateCache(ctx context.Context) error {
	r.cacheMu.Lock()
	n := len(r.cache)
	r.cache = make(map[string]*models.RegionResolution)
	r.applied = make(map[string]uint64)
	r.cacheMu.Unlock()

	if r.persist != nil {
		if err := r.persist.Clear(ctx); err != nil {
			return err
		}
	}

	r.logger.Info("Region cache invalidated", zap.Int("entries_dropped", n))
	return nil
}

// Hydrate 启动时从持久化存储恢复缓存
func (r *Resolver) Hydrate(ctx context.Context) error {
	if r.persist == nil {
		return nil
	}

	entries, err := r.persist.LoadAll(ctx)
	if err != nil {
		return err
	}

	r.cacheMu.Lock()
	for _, e := range entries {
		r.cache[e.DeviceID] = e
	}
	r.cacheMu.Unlock()

	r.logger.Info("Region cache hydrated", zap.Int("entries", len(entries)))
	return nil
}

// Flush 停机时把缓存刷入持久化存储
func (r *Resolver) Flush(ctx context.Context) error {
	if r.persist == nil {
		return nil
	}

	for _, res := range r.SnapshotCache() {
		if err := r.persist.Upsert(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

// PendingCount 待解析设备数
func (r *Resolver) PendingCount() int {
	return r.queue.Len()
}

// ContainmentTests 已执行的多边形包含测试次数（观测用）
func (r *Resolver) ContainmentTests() uint64 {
	return r.index.ContainmentTests()
}

func (r *Resolver) worker(ctx context.Context) {
	defer r.wg.Done()

	for {
		u, ok := r.queue.Dequeue(ctx)
		if !ok {
			return
		}
		r.resolveOne(ctx, u)
	}
}

// resolveOne 执行一次解析并更新缓存
// 同设备的两个任务可能被不同工作协程乱序完成：入队序号较旧的结果
// 直接丢弃，缓存始终反映该设备最后入队的坐标
func (r *Resolver) resolveOne(ctx context.Context, u locationUpdate) {
	res := models.NewRegionResolution(u.DeviceID, u.Lat, u.Lng)
	res.RegionIDs = r.index.Locate(u.Lat, u.Lng)
	res.UpdatedAt = time.Now()

	r.cacheMu.Lock()
	if last, ok := r.applied[u.DeviceID]; ok && u.seq < last {
		r.cacheMu.Unlock()
		return
	}
	r.applied[u.DeviceID] = u.seq
	r.cache[u.DeviceID] = res
	r.cacheMu.Unlock()

	if !res.Resolved() {
		r.logger.Debug("Device location outside all known boundaries",
			zap.String("device_id", u.DeviceID),
			zap.Float64("lat", u.Lat),
			zap.Float64("lng", u.Lng),
		)
	}

	if r.persist != nil {
		if err := r.persist.Upsert(ctx, res); err != nil {
			r.logger.Warn("Failed to persist region resolution",
				zap.String("device_id", u.DeviceID),
				zap.Error(err),
			)
		}
	}
}
