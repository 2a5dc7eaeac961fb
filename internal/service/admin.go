package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"licensegate/backend/internal/domain"
	"licensegate/backend/internal/storage"
)

const (
	// DefaultMaxBatchKeys 单次批量创建的默认密钥数量上限
	DefaultMaxBatchKeys = 500
	// MaxTimedDays 限时许可证的最大天数（十年）
	MaxTimedDays = 3650

	// DefaultListLimit 管理端列表默认条数
	DefaultListLimit = 200
	// MaxListLimit 管理端列表最大条数
	MaxListLimit = 5000
)

var (
	// ErrInvalidBatchCount 批量创建数量超出允许范围
	ErrInvalidBatchCount = errors.New("batch count out of range")
)

// AdminService 管理操作服务
//
// 所有操作假定调用方已通过管理凭据校验；凭据校验在传输层中间件
// 完成，未授权的请求不会到达这里。
type AdminService struct {
	store        storage.LicenseRepository
	clock        Clock
	log          *zap.Logger
	timeout      time.Duration
	maxBatchKeys int
}

// NewAdminService 创建管理服务
func NewAdminService(store storage.LicenseRepository, clock Clock, log *zap.Logger, timeout time.Duration, maxBatchKeys int) *AdminService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxBatchKeys <= 0 {
		maxBatchKeys = DefaultMaxBatchKeys
	}
	return &AdminService{
		store:        store,
		clock:        clock,
		log:          log,
		timeout:      timeout,
		maxBatchKeys: maxBatchKeys,
	}
}

// CreateBatch 批量创建许可证密钥
//
// 整批在单个存储事务内写入，致命存储错误不产生部分批次；
// 密钥碰撞对调用方透明，整批重新生成，最多重试 MaxKeyGenAttempts 次。
// 限时许可证要求 1 <= days <= MaxTimedDays，不允许静默修正；
// 永久许可证的 days 一律归零。
func (s *AdminService) CreateBatch(ctx context.Context, kind domain.LicenseKind, count, days int) ([]string, error) {
	if count < 1 || count > s.maxBatchKeys {
		return nil, ErrInvalidBatchCount
	}

	switch kind {
	case domain.KindLifetime:
		days = 0
	case domain.KindTimed:
		if days < 1 || days > MaxTimedDays {
			return nil, domain.ErrInvalidDuration
		}
	default:
		return nil, domain.ErrInvalidKind
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	createdAt := s.clock.Now()

	for attempt := 0; attempt < MaxKeyGenAttempts; attempt++ {
		keys, records, err := s.generateBatch(kind, count, days, createdAt)
		if err != nil {
			return nil, err
		}

		err = s.store.CreateBatch(ctx, records)
		if err == nil {
			s.log.Info("license batch created",
				zap.String("kind", string(kind)),
				zap.Int("count", count),
				zap.Int("days", days),
			)
			return keys, nil
		}
		if errors.Is(err, storage.ErrDuplicateKey) {
			// 与存量密钥碰撞，整批重新生成
			continue
		}
		return nil, s.wrapStorageErr(err)
	}

	return nil, ErrKeyGenExhausted
}

// generateBatch 生成一批互不重复的记录
func (s *AdminService) generateBatch(kind domain.LicenseKind, count, days int, createdAt time.Time) ([]string, []*domain.LicenseRecord, error) {
	keys := make([]string, 0, count)
	records := make([]*domain.LicenseRecord, 0, count)
	seen := make(map[string]bool, count)

	for len(records) < count {
		key, err := GenerateKey()
		if err != nil {
			return nil, nil, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		record := &domain.LicenseRecord{
			Key:          key,
			Kind:         kind,
			DurationDays: days,
			CreatedAt:    createdAt,
		}
		if err := record.Validate(); err != nil {
			return nil, nil, err
		}

		keys = append(keys, key)
		records = append(records, record)
	}
	return keys, records, nil
}

// Revoke 吊销许可证（单向，不清除绑定）
func (s *AdminService) Revoke(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.SetRevoked(ctx, key); err != nil {
		return s.wrapStorageErr(err)
	}

	s.log.Info("license revoked", zap.String("license_key", key))
	return nil
}

// ResetHwid 清除硬件绑定
//
// 重置后密钥如同从未激活：接受新的硬件绑定，限时许可证的有效期
// 从新的首次激活时刻重新计算。吊销状态不受影响。
func (s *AdminService) ResetHwid(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.ClearBinding(ctx, key); err != nil {
		return s.wrapStorageErr(err)
	}

	s.log.Info("license binding reset", zap.String("license_key", key))
	return nil
}

// SetNote 更新备注（纯注释字段，无业务语义）
func (s *AdminService) SetNote(ctx context.Context, key, note string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.SetNote(ctx, key, note); err != nil {
		return s.wrapStorageErr(err)
	}
	return nil
}

// List 按创建时间倒序返回许可证视图
func (s *AdminService) List(ctx context.Context, limit, offset int) ([]domain.LicenseView, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	records, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, s.wrapStorageErr(err)
	}

	views := make([]domain.LicenseView, 0, len(records))
	for i := range records {
		views = append(views, domain.NewLicenseView(&records[i]))
	}
	return views, nil
}

// wrapStorageErr 将存储层故障归一为可重试的不可用错误
func (s *AdminService) wrapStorageErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrLicenseNotFound),
		errors.Is(err, storage.ErrDuplicateKey):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrStorageUnavailable
	default:
		s.log.Error("license storage failure", zap.Error(err))
		return ErrStorageUnavailable
	}
}
