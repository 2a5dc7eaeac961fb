package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"licensegate/backend/internal/domain"
	"licensegate/backend/internal/storage"
	"licensegate/backend/internal/storage/memory"
)

// fakeClock 测试用可控时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testBaseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// seedLicense 向存储中植入一条未激活的许可证记录
func seedLicense(t *testing.T, store *memory.Store, key string, kind domain.LicenseKind, days int) {
	t.Helper()
	record := &domain.LicenseRecord{
		Key:          key,
		Kind:         kind,
		DurationDays: days,
		CreatedAt:    testBaseTime,
	}
	require.NoError(t, store.Create(context.Background(), record))
}

func newTestActivationService(store *memory.Store, clock Clock) *ActivationService {
	return NewActivationService(store, clock, zap.NewNop(), 5*time.Second)
}

func TestActivationService_FirstActivation(t *testing.T) {
	t.Run("限时许可证首次激活建立绑定并计算过期时间", func(t *testing.T) {
		store := memory.NewStore()
		clock := newFakeClock(testBaseTime)
		svc := newTestActivationService(store, clock)
		seedLicense(t, store, "NM-TIMED-01", domain.KindTimed, 30)

		result, err := svc.Activate(context.Background(), "NM-TIMED-01", "hwid-a")

		require.NoError(t, err)
		assert.Equal(t, StatusBound, result.Status)
		require.NotNil(t, result.ExpiresAt)
		assert.Equal(t, testBaseTime.AddDate(0, 0, 30), *result.ExpiresAt)

		// 绑定字段已全部写入存储
		record, err := store.Get(context.Background(), "NM-TIMED-01")
		require.NoError(t, err)
		require.NotNil(t, record.HWID)
		assert.Equal(t, "hwid-a", *record.HWID)
		require.NotNil(t, record.ActivatedAt)
		assert.Equal(t, testBaseTime, *record.ActivatedAt)
	})

	t.Run("永久许可证首次激活没有过期时间", func(t *testing.T) {
		store := memory.NewStore()
		clock := newFakeClock(testBaseTime)
		svc := newTestActivationService(store, clock)
		seedLicense(t, store, "NM-LIFE-01", domain.KindLifetime, 0)

		result, err := svc.Activate(context.Background(), "NM-LIFE-01", "hwid-a")

		require.NoError(t, err)
		assert.Equal(t, StatusBound, result.Status)
		assert.Nil(t, result.ExpiresAt)
	})

	t.Run("不存在的密钥返回未找到", func(t *testing.T) {
		store := memory.NewStore()
		svc := newTestActivationService(store, newFakeClock(testBaseTime))

		_, err := svc.Activate(context.Background(), "NM-MISSING", "hwid-a")

		assert.ErrorIs(t, err, storage.ErrLicenseNotFound)
	})
}

func TestActivationService_Idempotence(t *testing.T) {
	t.Run("同一硬件重复激活返回确认且过期时间不变", func(t *testing.T) {
		store := memory.NewStore()
		clock := newFakeClock(testBaseTime)
		svc := newTestActivationService(store, clock)
		seedLicense(t, store, "NM-TIMED-02", domain.KindTimed, 30)

		first, err := svc.Activate(context.Background(), "NM-TIMED-02", "hwid-a")
		require.NoError(t, err)
		assert.Equal(t, StatusBound, first.Status)

		// 时间前进后重复激活，过期时间绝不重算
		clock.Advance(10 * 24 * time.Hour)

		second, err := svc.Activate(context.Background(), "NM-TIMED-02", "hwid-a")
		require.NoError(t, err)
		assert.Equal(t, StatusOK, second.Status)
		require.NotNil(t, second.ExpiresAt)
		assert.Equal(t, *first.ExpiresAt, *second.ExpiresAt)
	})

	t.Run("不同硬件重复激活返回硬件不匹配", func(t *testing.T) {
		store := memory.NewStore()
		svc := newTestActivationService(store, newFakeClock(testBaseTime))
		seedLicense(t, store, "NM-TIMED-03", domain.KindTimed, 30)

		_, err := svc.Activate(context.Background(), "NM-TIMED-03", "hwid-a")
		require.NoError(t, err)

		_, err = svc.Activate(context.Background(), "NM-TIMED-03", "hwid-b")
		assert.ErrorIs(t, err, ErrHWIDMismatch)
	})
}

func TestActivationService_Exclusivity(t *testing.T) {
	t.Run("并发首次激活只产生一个绑定赢家", func(t *testing.T) {
		store := memory.NewStore()
		svc := newTestActivationService(store, newFakeClock(testBaseTime))
		seedLicense(t, store, "NM-RACE-01", domain.KindTimed, 30)

		const contenders = 16
		results := make(chan error, contenders)
		var wg sync.WaitGroup
		var start sync.WaitGroup
		start.Add(1)

		for i := 0; i < contenders; i++ {
			wg.Add(1)
			hwid := string(rune('a' + i))
			go func() {
				defer wg.Done()
				start.Wait()
				result, err := svc.Activate(context.Background(), "NM-RACE-01", "hwid-"+hwid)
				if err == nil && result.Status == StatusBound {
					results <- nil
					return
				}
				results <- err
			}()
		}
		start.Done()
		wg.Wait()
		close(results)

		var winners, mismatches int
		for err := range results {
			if err == nil {
				winners++
				continue
			}
			assert.ErrorIs(t, err, ErrHWIDMismatch)
			mismatches++
		}
		assert.Equal(t, 1, winners)
		assert.Equal(t, contenders-1, mismatches)
	})
}

func TestActivationService_Revocation(t *testing.T) {
	t.Run("吊销后的激活一律返回已吊销", func(t *testing.T) {
		store := memory.NewStore()
		svc := newTestActivationService(store, newFakeClock(testBaseTime))
		seedLicense(t, store, "NM-REV-01", domain.KindTimed, 30)

		_, err := svc.Activate(context.Background(), "NM-REV-01", "hwid-a")
		require.NoError(t, err)
		require.NoError(t, store.SetRevoked(context.Background(), "NM-REV-01"))

		// 持有者与非持有者得到同样的吊销错误
		_, err = svc.Activate(context.Background(), "NM-REV-01", "hwid-a")
		assert.ErrorIs(t, err, ErrLicenseRevoked)
		_, err = svc.Activate(context.Background(), "NM-REV-01", "hwid-b")
		assert.ErrorIs(t, err, ErrLicenseRevoked)
	})

	t.Run("未绑定状态下吊销同样生效", func(t *testing.T) {
		store := memory.NewStore()
		svc := newTestActivationService(store, newFakeClock(testBaseTime))
		seedLicense(t, store, "NM-REV-02", domain.KindTimed, 30)

		require.NoError(t, store.SetRevoked(context.Background(), "NM-REV-02"))

		_, err := svc.Activate(context.Background(), "NM-REV-02", "hwid-a")
		assert.ErrorIs(t, err, ErrLicenseRevoked)
	})

	t.Run("吊销优先于过期", func(t *testing.T) {
		store := memory.NewStore()
		clock := newFakeClock(testBaseTime)
		svc := newTestActivationService(store, clock)
		seedLicense(t, store, "NM-REV-03", domain.KindTimed, 1)

		_, err := svc.Activate(context.Background(), "NM-REV-03", "hwid-a")
		require.NoError(t, err)
		require.NoError(t, store.SetRevoked(context.Background(), "NM-REV-03"))

		// 过期之后吊销错误仍然优先
		clock.Advance(48 * time.Hour)

		_, err = svc.Activate(context.Background(), "NM-REV-03", "hwid-a")
		assert.ErrorIs(t, err, ErrLicenseRevoked)
	})
}

func TestActivationService_ExpiryBoundary(t *testing.T) {
	t.Run("有效期最后一秒内仍可确认", func(t *testing.T) {
		store := memory.NewStore()
		clock := newFakeClock(testBaseTime)
		svc := newTestActivationService(store, clock)
		seedLicense(t, store, "NM-EXP-01", domain.KindTimed, 1)

		_, err := svc.Activate(context.Background(), "NM-EXP-01", "hwid-a")
		require.NoError(t, err)

		clock.Advance(24*time.Hour - time.Second)

		result, err := svc.Activate(context.Background(), "NM-EXP-01", "hwid-a")
		require.NoError(t, err)
		assert.Equal(t, StatusOK, result.Status)
	})

	t.Run("超过有效期一秒返回已过期", func(t *testing.T) {
		store := memory.NewStore()
		clock := newFakeClock(testBaseTime)
		svc := newTestActivationService(store, clock)
		seedLicense(t, store, "NM-EXP-02", domain.KindTimed, 1)

		_, err := svc.Activate(context.Background(), "NM-EXP-02", "hwid-a")
		require.NoError(t, err)

		clock.Advance(24*time.Hour + time.Second)

		_, err = svc.Activate(context.Background(), "NM-EXP-02", "hwid-a")
		assert.ErrorIs(t, err, ErrLicenseExpired)
	})

	t.Run("过期密钥对非持有者仍然只报硬件不匹配", func(t *testing.T) {
		store := memory.NewStore()
		clock := newFakeClock(testBaseTime)
		svc := newTestActivationService(store, clock)
		seedLicense(t, store, "NM-EXP-03", domain.KindTimed, 1)

		_, err := svc.Activate(context.Background(), "NM-EXP-03", "hwid-a")
		require.NoError(t, err)

		clock.Advance(48 * time.Hour)

		// 不向非持有者泄露过期状态
		_, err = svc.Activate(context.Background(), "NM-EXP-03", "hwid-b")
		assert.ErrorIs(t, err, ErrHWIDMismatch)
	})

	t.Run("永久许可证永不过期", func(t *testing.T) {
		store := memory.NewStore()
		clock := newFakeClock(testBaseTime)
		svc := newTestActivationService(store, clock)
		seedLicense(t, store, "NM-LIFE-02", domain.KindLifetime, 0)

		_, err := svc.Activate(context.Background(), "NM-LIFE-02", "hwid-a")
		require.NoError(t, err)

		clock.Advance(10 * 365 * 24 * time.Hour)

		result, err := svc.Activate(context.Background(), "NM-LIFE-02", "hwid-a")
		require.NoError(t, err)
		assert.Equal(t, StatusOK, result.Status)
		assert.Nil(t, result.ExpiresAt)
	})
}

func TestActivationService_ResetSemantics(t *testing.T) {
	t.Run("重置绑定后重新激活获得全新有效期", func(t *testing.T) {
		store := memory.NewStore()
		clock := newFakeClock(testBaseTime)
		svc := newTestActivationService(store, clock)
		seedLicense(t, store, "NM-RESET-01", domain.KindTimed, 30)

		first, err := svc.Activate(context.Background(), "NM-RESET-01", "hwid-a")
		require.NoError(t, err)

		clock.Advance(20 * 24 * time.Hour)
		require.NoError(t, store.ClearBinding(context.Background(), "NM-RESET-01"))

		// 重置后如同从未激活，新硬件也可以绑定
		second, err := svc.Activate(context.Background(), "NM-RESET-01", "hwid-b")
		require.NoError(t, err)
		assert.Equal(t, StatusBound, second.Status)
		require.NotNil(t, second.ExpiresAt)
		assert.Equal(t, clock.Now().AddDate(0, 0, 30), *second.ExpiresAt)
		assert.True(t, second.ExpiresAt.After(*first.ExpiresAt))
	})
}
