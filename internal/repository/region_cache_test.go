package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/models"
	repo "github.com/wesense-earth/wesense-respiro-sub002/internal/repository"
)

func newResolution(deviceID string, region string, updatedAt time.Time) *models.RegionResolution {
	res := models.NewRegionResolution(deviceID, -36.848, 174.763)
	res.RegionIDs[0] = &region
	res.UpdatedAt = updatedAt
	return res
}

func TestRegionCache_UpsertAndLoadAll(t *testing.T) {
	kv := newFakeKVStore()
	r := repo.NewRegionCacheRepository(kv, "wesense:region:", zap.NewNop())
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, r.Upsert(ctx, newResolution("dev-a", "NZ", now)))
	require.NoError(t, r.Upsert(ctx, newResolution("dev-b", "AU", now)))

	entries, err := r.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byID := make(map[string]*models.RegionResolution)
	for _, e := range entries {
		byID[e.DeviceID] = e
	}
	assert.Equal(t, "NZ", byID["dev-a"].RegionIDAt(0))
	assert.Equal(t, "AU", byID["dev-b"].RegionIDAt(0))
}

func TestRegionCache_LatestWins(t *testing.T) {
	kv := newFakeKVStore()
	r := repo.NewRegionCacheRepository(kv, "wesense:region:", zap.NewNop())
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, r.Upsert(ctx, newResolution("dev-a", "NZ", now)))

	// 更旧的 updated_at 不覆盖已有条目
	require.NoError(t, r.Upsert(ctx, newResolution("dev-a", "AU", now.Add(-time.Hour))))

	entries, err := r.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "NZ", entries[0].RegionIDAt(0))

	// 更新的 updated_at 正常覆盖
	require.NoError(t, r.Upsert(ctx, newResolution("dev-a", "AU", now.Add(time.Hour))))
	entries, err = r.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "AU", entries[0].RegionIDAt(0))
}

func TestRegionCache_Clear(t *testing.T) {
	kv := newFakeKVStore()
	r := repo.NewRegionCacheRepository(kv, "wesense:region:", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, newResolution("dev-a", "NZ", time.Now())))
	require.NoError(t, r.Clear(ctx))

	entries, err := r.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
