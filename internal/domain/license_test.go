package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLicenseRecord_Validate(t *testing.T) {
	t.Run("合法的永久许可证", func(t *testing.T) {
		record := &LicenseRecord{Key: "NM-A", Kind: KindLifetime, DurationDays: 0}
		assert.NoError(t, record.Validate())
	})

	t.Run("合法的限时许可证", func(t *testing.T) {
		record := &LicenseRecord{Key: "NM-B", Kind: KindTimed, DurationDays: 30}
		assert.NoError(t, record.Validate())
	})

	t.Run("永久许可证不允许携带天数", func(t *testing.T) {
		record := &LicenseRecord{Key: "NM-C", Kind: KindLifetime, DurationDays: 30}
		assert.ErrorIs(t, record.Validate(), ErrInvalidDuration)
	})

	t.Run("限时许可证的天数必须为正", func(t *testing.T) {
		record := &LicenseRecord{Key: "NM-D", Kind: KindTimed, DurationDays: 0}
		assert.ErrorIs(t, record.Validate(), ErrInvalidDuration)

		record.DurationDays = -1
		assert.ErrorIs(t, record.Validate(), ErrInvalidDuration)
	})

	t.Run("未知类型被拒绝", func(t *testing.T) {
		record := &LicenseRecord{Key: "NM-E", Kind: LicenseKind("trial")}
		assert.ErrorIs(t, record.Validate(), ErrInvalidKind)
	})
}

func TestLicenseRecord_IsExpired(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expiry := base.AddDate(0, 0, 1)

	t.Run("未激活的限时许可证不过期", func(t *testing.T) {
		record := &LicenseRecord{Kind: KindTimed, DurationDays: 1}
		assert.False(t, record.IsExpired(base.AddDate(10, 0, 0)))
	})

	t.Run("过期时刻本身不算过期", func(t *testing.T) {
		record := &LicenseRecord{Kind: KindTimed, DurationDays: 1, ExpiresAt: &expiry}
		assert.False(t, record.IsExpired(expiry))
		assert.False(t, record.IsExpired(expiry.Add(-time.Second)))
		assert.True(t, record.IsExpired(expiry.Add(time.Second)))
	})

	t.Run("永久许可证永不过期", func(t *testing.T) {
		record := &LicenseRecord{Kind: KindLifetime}
		assert.False(t, record.IsExpired(base.AddDate(100, 0, 0)))
	})
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("lifetime")
	assert.NoError(t, err)
	assert.Equal(t, KindLifetime, kind)

	kind, err = ParseKind("timed")
	assert.NoError(t, err)
	assert.Equal(t, KindTimed, kind)

	_, err = ParseKind("trial")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestNewLicenseView(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("永久许可证显示 NEVER", func(t *testing.T) {
		record := &LicenseRecord{Key: "NM-A", Kind: KindLifetime, CreatedAt: base}
		view := NewLicenseView(record)
		assert.Equal(t, ExpiryNever, view.ExpiresAt)
		assert.Equal(t, "", view.HWID)
	})

	t.Run("已激活的限时许可证显示 RFC3339 过期时间", func(t *testing.T) {
		hwid := "hwid-a"
		expiry := base.AddDate(0, 0, 30)
		record := &LicenseRecord{
			Key:          "NM-B",
			Kind:         KindTimed,
			DurationDays: 30,
			CreatedAt:    base,
			ActivatedAt:  &base,
			ExpiresAt:    &expiry,
			HWID:         &hwid,
		}
		view := NewLicenseView(record)
		assert.Equal(t, expiry.Format(time.RFC3339), view.ExpiresAt)
		assert.Equal(t, "hwid-a", view.HWID)
	})

	t.Run("未激活的限时许可证过期时间为空", func(t *testing.T) {
		record := &LicenseRecord{Key: "NM-C", Kind: KindTimed, DurationDays: 30, CreatedAt: base}
		view := NewLicenseView(record)
		assert.Equal(t, "", view.ExpiresAt)
	})
}
