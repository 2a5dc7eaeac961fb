package hybrid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensegate/backend/internal/domain"
	"licensegate/backend/internal/storage"
	"licensegate/backend/internal/storage/memory"
)

var errCacheMiss = errors.New("cache miss")

// fakeCache 进程内假缓存，记录每个键的删除次数以便验证失效时序
type fakeCache struct {
	mu      sync.Mutex
	records map[string]*domain.LicenseRecord
	deletes map[string]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		records: make(map[string]*domain.LicenseRecord),
		deletes: make(map[string]int),
	}
}

func (c *fakeCache) CacheLicense(ctx context.Context, record *domain.LicenseRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	clone := *record
	c.records[record.Key] = &clone
	return nil
}

func (c *fakeCache) GetCachedLicense(ctx context.Context, key string) (*domain.LicenseRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.records[key]
	if !ok {
		return nil, errCacheMiss
	}
	clone := *record
	return &clone, nil
}

func (c *fakeCache) DeleteCachedLicense(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.records, key)
		c.deletes[key]++
	}
	return nil
}

func (c *fakeCache) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 1, nil
}

func (c *fakeCache) GetRateLimit(ctx context.Context, key string) (int64, error) {
	return 0, nil
}

func (c *fakeCache) Ping(ctx context.Context) error { return nil }

func (c *fakeCache) Close() error { return nil }

func (c *fakeCache) cached(key string) (*domain.LicenseRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.records[key]
	return record, ok
}

func (c *fakeCache) deleteCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.deletes[key]
}

func newTestStore(t *testing.T) (*Store, *memory.Store, *fakeCache) {
	t.Helper()

	db := memory.NewStore()
	cache := newFakeCache()
	store := newStoreWithBackends(db, cache)
	store.replayDelay = 10 * time.Millisecond
	return store, db, cache
}

func seedUnbound(t *testing.T, db *memory.Store, key string) {
	t.Helper()

	err := db.Create(context.Background(), &domain.LicenseRecord{
		Key:       key,
		Kind:      domain.KindLifetime,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}

func TestStoreGetCachePolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("未绑定记录不回填缓存", func(t *testing.T) {
		store, db, cache := newTestStore(t)
		seedUnbound(t, db, "NM-UNBOUND-1")

		record, err := store.Get(ctx, "NM-UNBOUND-1")
		require.NoError(t, err)
		assert.False(t, record.IsBound())

		_, ok := cache.cached("NM-UNBOUND-1")
		assert.False(t, ok, "未绑定快照不应进入缓存")
	})

	t.Run("已绑定记录回填缓存", func(t *testing.T) {
		store, db, cache := newTestStore(t)
		seedUnbound(t, db, "NM-BOUND-1")

		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, db.CompareAndBind(ctx, "NM-BOUND-1", "hwid-a", now, nil))

		record, err := store.Get(ctx, "NM-BOUND-1")
		require.NoError(t, err)
		assert.True(t, record.IsBound())

		cachedRecord, ok := cache.cached("NM-BOUND-1")
		require.True(t, ok)
		require.NotNil(t, cachedRecord.HWID)
		assert.Equal(t, "hwid-a", *cachedRecord.HWID)
	})

	t.Run("缓存命中优先于数据库", func(t *testing.T) {
		store, db, cache := newTestStore(t)
		seedUnbound(t, db, "NM-HIT-1")

		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, db.CompareAndBind(ctx, "NM-HIT-1", "hwid-a", now, nil))
		require.NoError(t, db.SetNote(ctx, "NM-HIT-1", "from-db"))

		hwid := "hwid-a"
		require.NoError(t, cache.CacheLicense(ctx, &domain.LicenseRecord{
			Key:  "NM-HIT-1",
			Kind: domain.KindLifetime,
			HWID: &hwid,
			Note: "from-cache",
		}, time.Minute))

		record, err := store.Get(ctx, "NM-HIT-1")
		require.NoError(t, err)
		assert.Equal(t, "from-cache", record.Note)
	})
}

func TestStoreCompareAndBindInvalidation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("竞争失败方重读取到赢家的绑定", func(t *testing.T) {
		store, db, _ := newTestStore(t)
		seedUnbound(t, db, "NM-RACE-1")

		// 失败方先读一次，换取回填缓存的机会
		record, err := store.Get(ctx, "NM-RACE-1")
		require.NoError(t, err)
		assert.False(t, record.IsBound())

		// 赢家抢先完成绑定
		require.NoError(t, store.CompareAndBind(ctx, "NM-RACE-1", "hwid-winner", now, nil))

		// 失败方绑定冲突
		err = store.CompareAndBind(ctx, "NM-RACE-1", "hwid-loser", now, nil)
		require.ErrorIs(t, err, storage.ErrBindConflict)

		// 冲突后的重读必须取到赢家写入的 HWID，而不是旧的未绑定快照
		record, err = store.Get(ctx, "NM-RACE-1")
		require.NoError(t, err)
		require.NotNil(t, record.HWID)
		assert.Equal(t, "hwid-winner", *record.HWID)
	})

	t.Run("绑定冲突也触发缓存失效", func(t *testing.T) {
		store, db, cache := newTestStore(t)
		seedUnbound(t, db, "NM-RACE-2")

		require.NoError(t, store.CompareAndBind(ctx, "NM-RACE-2", "hwid-winner", now, nil))
		deletesAfterWin := cache.deleteCount("NM-RACE-2")

		err := store.CompareAndBind(ctx, "NM-RACE-2", "hwid-loser", now, nil)
		require.ErrorIs(t, err, storage.ErrBindConflict)
		assert.Greater(t, cache.deleteCount("NM-RACE-2"), deletesAfterWin)
	})

	t.Run("绑定成功后旧缓存被清除", func(t *testing.T) {
		store, db, cache := newTestStore(t)
		seedUnbound(t, db, "NM-RACE-3")

		require.NoError(t, cache.CacheLicense(ctx, &domain.LicenseRecord{
			Key:  "NM-RACE-3",
			Kind: domain.KindLifetime,
		}, time.Minute))

		require.NoError(t, store.CompareAndBind(ctx, "NM-RACE-3", "hwid-a", now, nil))

		_, ok := cache.cached("NM-RACE-3")
		assert.False(t, ok)
	})
}

func TestStoreDelayedDoubleDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("延迟删除清掉变更期间回填的旧快照", func(t *testing.T) {
		store, db, cache := newTestStore(t)
		seedUnbound(t, db, "NM-REVOKE-1")
		require.NoError(t, db.CompareAndBind(ctx, "NM-REVOKE-1", "hwid-a", now, nil))

		require.NoError(t, store.SetRevoked(ctx, "NM-REVOKE-1"))

		// 模拟并发读取者在第一次删除之后回填吊销前的旧快照
		hwid := "hwid-a"
		require.NoError(t, cache.CacheLicense(ctx, &domain.LicenseRecord{
			Key:     "NM-REVOKE-1",
			Kind:    domain.KindLifetime,
			HWID:    &hwid,
			Revoked: false,
		}, time.Minute))

		assert.Eventually(t, func() bool {
			_, ok := cache.cached("NM-REVOKE-1")
			return !ok && cache.deleteCount("NM-REVOKE-1") >= 2
		}, time.Second, 5*time.Millisecond, "第二次延迟删除应清除回填的旧快照")
	})

	t.Run("解绑后的读取直达数据库", func(t *testing.T) {
		store, db, cache := newTestStore(t)
		seedUnbound(t, db, "NM-RESET-1")
		require.NoError(t, db.CompareAndBind(ctx, "NM-RESET-1", "hwid-a", now, nil))

		// 先读一次填充缓存
		record, err := store.Get(ctx, "NM-RESET-1")
		require.NoError(t, err)
		assert.True(t, record.IsBound())
		_, ok := cache.cached("NM-RESET-1")
		require.True(t, ok)

		require.NoError(t, store.ClearBinding(ctx, "NM-RESET-1"))

		record, err = store.Get(ctx, "NM-RESET-1")
		require.NoError(t, err)
		assert.False(t, record.IsBound(), "解绑后不应再读到旧的绑定快照")
	})
}
