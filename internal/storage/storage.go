package storage

import (
	"context"
	"errors"
	"time"

	"licensegate/backend/internal/domain"
)

var (
	// ErrLicenseNotFound 许可证不存在错误
	ErrLicenseNotFound = errors.New("license key not found")
	// ErrDuplicateKey 许可证密钥已存在错误（生成器碰撞）
	ErrDuplicateKey = errors.New("license key already exists")
	// ErrBindConflict 并发绑定冲突错误（另一个激活请求已抢先绑定）
	ErrBindConflict = errors.New("license already bound by a concurrent activation")
)

// LicenseRepository 定义许可证数据存取操作。
//
// 所有方法接受 context 以便传播请求超时；实现必须保证单个方法调用
// 的原子性，尤其是 CompareAndBind —— 它是并发首次激活竞争时
// "至多一个绑定赢家" 的唯一保障。
type LicenseRepository interface {
	// Create 插入一条新的许可证记录，密钥已存在时返回 ErrDuplicateKey。
	Create(ctx context.Context, record *domain.LicenseRecord) error

	// CreateBatch 在单个事务中插入一批记录，任意密钥冲突时整批回滚
	// 并返回 ErrDuplicateKey，不产生部分写入。
	CreateBatch(ctx context.Context, records []*domain.LicenseRecord) error

	// Get 按密钥读取记录，不存在时返回 ErrLicenseNotFound。
	Get(ctx context.Context, key string) (*domain.LicenseRecord, error)

	// CompareAndBind 仅当存储中 hwid 仍为空时原子地写入绑定字段。
	// 若其他写入者已抢先绑定，返回 ErrBindConflict；记录不存在时
	// 返回 ErrLicenseNotFound。expiresAt 对永久许可证传 nil。
	CompareAndBind(ctx context.Context, key, hwid string, activatedAt time.Time, expiresAt *time.Time) error

	// SetRevoked 将许可证置为吊销状态（单向，不清除绑定）。
	SetRevoked(ctx context.Context, key string) error

	// ClearBinding 清除 hwid/activatedAt/expiresAt 三个绑定字段，
	// 不影响吊销状态。
	ClearBinding(ctx context.Context, key string) error

	// SetNote 更新备注字段。
	SetNote(ctx context.Context, key, note string) error

	// List 按创建时间倒序返回记录快照。
	List(ctx context.Context, limit, offset int) ([]domain.LicenseRecord, error)
}

// RateLimitRepository 定义限流计数操作。
type RateLimitRepository interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
	GetRateLimit(ctx context.Context, key string) (int64, error)
}

// Store 聚合存储层的全部能力。
type Store interface {
	LicenseRepository
	RateLimitRepository

	// Health 检查底层存储连通性。
	Health() error
	// Close 释放底层连接资源。
	Close() error
}
