package domain

import "time"

// LicenseView 管理端列表视图
//
// 对已授权的管理员不做任何脱敏，HWID 与备注均可见。
// 永久许可证的过期时间以 "NEVER" 表示。
type LicenseView struct {
	Key          string      `json:"licenseKey"`
	Kind         LicenseKind `json:"kind"`
	DurationDays int         `json:"durationDays"`
	CreatedAt    time.Time   `json:"createdAt"`
	ActivatedAt  *time.Time  `json:"activatedAt,omitempty"`
	ExpiresAt    string      `json:"expiresAt"`
	HWID         string      `json:"hwid"`
	Note         string      `json:"note"`
	Revoked      bool        `json:"revoked"`
}

// ExpiryNever 永久许可证在视图中的过期时间占位值
const ExpiryNever = "NEVER"

// NewLicenseView 将许可证记录转换为管理端视图
func NewLicenseView(r *LicenseRecord) LicenseView {
	view := LicenseView{
		Key:          r.Key,
		Kind:         r.Kind,
		DurationDays: r.DurationDays,
		CreatedAt:    r.CreatedAt,
		ActivatedAt:  r.ActivatedAt,
		Note:         r.Note,
		Revoked:      r.Revoked,
	}

	if r.HWID != nil {
		view.HWID = *r.HWID
	}

	switch {
	case r.Kind == KindLifetime:
		view.ExpiresAt = ExpiryNever
	case r.ExpiresAt != nil:
		view.ExpiresAt = r.ExpiresAt.UTC().Format(time.RFC3339)
	default:
		view.ExpiresAt = "" // 未激活的限时许可证尚无过期时间
	}

	return view
}
