package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/models"
)

// RegionCacheRepository 解析结果的持久化仓库
// 键：{prefix}{device_id}，值：RegionResolution 的 JSON
// upsert 采用 latest-wins 语义：已存在条目的 updated_at 更新时不覆盖
type RegionCacheRepository struct {
	kv     KVStore
	prefix string
	logger *zap.Logger
}

// NewRegionCacheRepository 创建解析结果仓库
func NewRegionCacheRepository(kv KVStore, prefix string, logger *zap.Logger) *RegionCacheRepository {
	if prefix == "" {
		prefix = "wesense:region:"
	}
	return &RegionCacheRepository{
		kv:     kv,
		prefix: prefix,
		logger: logger,
	}
}

// Upsert 写入解析结果（latest-wins）
func (r *RegionCacheRepository) Upsert(ctx context.Context, res *models.RegionResolution) error {
	key := r.prefix + res.DeviceID

	// 已有条目更新时放弃本次写入（latest-write-wins on updated_at）
	if existing, err := r.get(ctx, key); err == nil {
		if existing.UpdatedAt.After(res.UpdatedAt) {
			return nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		return err
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal region resolution: %w", err)
	}
	if err := r.kv.Set(ctx, key, string(data), 0); err != nil {
		return fmt.Errorf("failed to persist region resolution: %w", err)
	}
	return nil
}

// LoadAll 加载全部持久化的解析结果（启动时回灌内存缓存）
func (r *RegionCacheRepository) LoadAll(ctx context.Context) ([]*models.RegionResolution, error) {
	keys, err := r.kv.Keys(ctx, r.prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list region cache keys: %w", err)
	}

	entries := make([]*models.RegionResolution, 0, len(keys))
	for _, key := range keys {
		res, err := r.get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrCacheMiss) {
				continue
			}
			r.logger.Warn("Failed to load cached resolution, skipping",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, res)
	}
	return entries, nil
}

// Clear 删除全部持久化条目（管理清空操作）
func (r *RegionCacheRepository) Clear(ctx context.Context) error {
	keys, err := r.kv.Keys(ctx, r.prefix+"*")
	if err != nil {
		return fmt.Errorf("failed to list region cache keys: %w", err)
	}
	if err := r.kv.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to clear region cache: %w", err)
	}
	return nil
}

func (r *RegionCacheRepository) get(ctx context.Context, key string) (*models.RegionResolution, error) {
	val, err := r.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var res models.RegionResolution
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal region resolution: %w", err)
	}
	return &res, nil
}
