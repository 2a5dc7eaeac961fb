package domain

import (
	"errors"
	"time"
)

// LicenseKind 许可证类型
type LicenseKind string

const (
	// KindLifetime 永久许可证，激活后永不过期
	KindLifetime LicenseKind = "lifetime"
	// KindTimed 限时许可证，有效期从首次激活开始计算
	KindTimed LicenseKind = "timed"
)

var (
	// ErrInvalidKind 许可证类型无效
	ErrInvalidKind = errors.New("invalid license kind")
	// ErrInvalidDuration 限时许可证的天数必须为正数
	ErrInvalidDuration = errors.New("timed license requires a positive duration")
)

// LicenseRecord 许可证记录实体
//
// 许可证密钥在创建后不可变，作为主键使用。
// HWID、ActivatedAt、ExpiresAt 三个字段要么全为空（未激活），
// 要么全部设置（已绑定）；永久许可证例外，其 ExpiresAt 始终为空。
// Revoked 是单向状态，一旦吊销不可恢复。
type LicenseRecord struct {
	Key          string      `json:"licenseKey" gorm:"column:license_key;primaryKey;type:varchar(64)"`
	Kind         LicenseKind `json:"kind" gorm:"type:varchar(16);not null"`
	DurationDays int         `json:"durationDays" gorm:"not null;default:0"` // 仅限时许可证有意义
	CreatedAt    time.Time   `json:"createdAt" gorm:"index;not null"`
	ActivatedAt  *time.Time  `json:"activatedAt,omitempty"` // 首次激活时间
	ExpiresAt    *time.Time  `json:"expiresAt,omitempty"`   // 限时许可证首次激活时计算
	HWID         *string     `json:"hwid,omitempty" gorm:"column:hwid;type:varchar(255)"`
	Note         string      `json:"note" gorm:"type:text"`
	Revoked      bool        `json:"revoked" gorm:"not null;default:false"`
}

// TableName 指定数据库表名
func (LicenseRecord) TableName() string {
	return "license_keys"
}

// Validate 校验许可证记录的构造参数
//
// 限时许可证的天数必须大于 0，不允许静默修正。
// 永久许可证的天数必须为 0。
func (r *LicenseRecord) Validate() error {
	switch r.Kind {
	case KindLifetime:
		if r.DurationDays != 0 {
			return ErrInvalidDuration
		}
	case KindTimed:
		if r.DurationDays <= 0 {
			return ErrInvalidDuration
		}
	default:
		return ErrInvalidKind
	}
	return nil
}

// IsBound 判断许可证是否已绑定硬件
func (r *LicenseRecord) IsBound() bool {
	return r.HWID != nil && *r.HWID != ""
}

// IsExpired 判断许可证在给定时刻是否已过期
//
// 过期状态是读取时派生的瞬态，不单独持久化。
// 未激活或永久许可证永不过期。
func (r *LicenseRecord) IsExpired(now time.Time) bool {
	if r.Kind != KindTimed || r.ExpiresAt == nil {
		return false
	}
	return now.After(*r.ExpiresAt)
}

// ParseKind 解析许可证类型字符串
func ParseKind(s string) (LicenseKind, error) {
	switch LicenseKind(s) {
	case KindLifetime:
		return KindLifetime, nil
	case KindTimed:
		return KindTimed, nil
	default:
		return "", ErrInvalidKind
	}
}
