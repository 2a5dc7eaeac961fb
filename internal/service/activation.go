package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"licensegate/backend/internal/domain"
	"licensegate/backend/internal/storage"
)

var (
	// ErrLicenseRevoked 许可证已被吊销
	ErrLicenseRevoked = errors.New("license key revoked")
	// ErrHWIDMismatch 请求的硬件标识与已绑定的不一致
	ErrHWIDMismatch = errors.New("hardware id mismatch")
	// ErrLicenseExpired 限时许可证已过期
	ErrLicenseExpired = errors.New("license key expired")
	// ErrStorageUnavailable 存储层超时或故障，调用方可退避重试
	ErrStorageUnavailable = errors.New("license storage unavailable")
)

// ActivationStatus 激活结果状态
type ActivationStatus string

const (
	// StatusBound 首次激活成功，硬件绑定已建立
	StatusBound ActivationStatus = "BOUND"
	// StatusOK 已绑定硬件的幂等确认
	StatusOK ActivationStatus = "OK"
)

// ActivationResult 激活成功的结果
type ActivationResult struct {
	Status    ActivationStatus
	ExpiresAt *time.Time // 永久许可证为 nil
}

// ActivationService 激活状态机服务
//
// 检查顺序固定为: 不存在 → 已吊销 → 未绑定则抢占绑定 →
// 硬件不匹配 → 已过期。吊销是最强的终态，吊销的许可证绝不
// 返回过期或硬件不匹配；过期的许可证对非持有者仍然只报
// 硬件不匹配，不泄露过期状态。
type ActivationService struct {
	store   storage.LicenseRepository
	clock   Clock
	log     *zap.Logger
	timeout time.Duration
}

// NewActivationService 创建激活服务
func NewActivationService(store storage.LicenseRepository, clock Clock, log *zap.Logger, timeout time.Duration) *ActivationService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ActivationService{
		store:   store,
		clock:   clock,
		log:     log,
		timeout: timeout,
	}
}

// Activate 激活或重新校验一个许可证
//
// 首次激活通过存储层的 CompareAndBind 抢占绑定；并发竞争失败时
// 重读记录并按已绑定路径评估，保证同一密钥至多产生一个绑定赢家，
// 落败方绝不静默覆盖赢家的绑定。
func (s *ActivationService) Activate(ctx context.Context, key, hwid string) (*ActivationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	record, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, s.wrapStorageErr(err)
	}

	// 吊销优先于一切其他判定
	if record.Revoked {
		return nil, ErrLicenseRevoked
	}

	if !record.IsBound() {
		result, retry, err := s.bindFirstActivation(ctx, record, hwid)
		if err != nil {
			return nil, err
		}
		if !retry {
			return result, nil
		}

		// 并发激活竞争落败：重读赢家写入的绑定，按已绑定路径评估
		record, err = s.store.Get(ctx, key)
		if err != nil {
			return nil, s.wrapStorageErr(err)
		}
	}

	return s.confirmExistingBinding(record, hwid)
}

// bindFirstActivation 尝试建立首次绑定
//
// 返回 retry=true 表示绑定被并发写入者抢先，调用方应重读后
// 按已绑定路径继续。
func (s *ActivationService) bindFirstActivation(ctx context.Context, record *domain.LicenseRecord, hwid string) (*ActivationResult, bool, error) {
	activatedAt := s.clock.Now()

	var expiresAt *time.Time
	if record.Kind == domain.KindTimed {
		exp := activatedAt.AddDate(0, 0, record.DurationDays)
		expiresAt = &exp
	}

	err := s.store.CompareAndBind(ctx, record.Key, hwid, activatedAt, expiresAt)
	if err != nil {
		if errors.Is(err, storage.ErrBindConflict) {
			return nil, true, nil
		}
		return nil, false, s.wrapStorageErr(err)
	}

	s.log.Info("license bound",
		zap.String("license_key", record.Key),
		zap.String("kind", string(record.Kind)),
		zap.Time("activated_at", activatedAt),
	)

	return &ActivationResult{Status: StatusBound, ExpiresAt: expiresAt}, false, nil
}

// confirmExistingBinding 评估已绑定许可证的重复激活请求
func (s *ActivationService) confirmExistingBinding(record *domain.LicenseRecord, hwid string) (*ActivationResult, error) {
	// 硬件不匹配先于过期检查：不向非持有者泄露过期状态
	if record.HWID == nil || *record.HWID != hwid {
		return nil, ErrHWIDMismatch
	}

	// 过期始终基于首次激活时写入的 expiresAt 评估，绝不重算
	if record.IsExpired(s.clock.Now()) {
		return nil, ErrLicenseExpired
	}

	return &ActivationResult{Status: StatusOK, ExpiresAt: record.ExpiresAt}, nil
}

// wrapStorageErr 将存储层故障归一为可重试的不可用错误
//
// 业务语义错误（不存在、冲突）原样透传。
func (s *ActivationService) wrapStorageErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrLicenseNotFound),
		errors.Is(err, storage.ErrDuplicateKey),
		errors.Is(err, storage.ErrBindConflict):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrStorageUnavailable
	default:
		s.log.Error("license storage failure", zap.Error(err))
		return ErrStorageUnavailable
	}
}
