package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"licensegate/backend/internal/domain"
	"licensegate/backend/internal/storage"
)

// Store SQL 存储实现（支持 PostgreSQL 与 MySQL）
//
// 速率限制计数器保存在进程内存中；生产部署建议使用 hybrid 存储，
// 由 Redis 承担限流计数。
type Store struct {
	db *gorm.DB

	rlMu       sync.Mutex
	rateLimits map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// PoolConfig 数据库连接池配置
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// withDefaults 用默认值补齐未设置的连接池参数
func (p PoolConfig) withDefaults() PoolConfig {
	defaults := DefaultPoolConfig()
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = defaults.MaxOpenConns
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = defaults.MaxIdleConns
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	return p
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, pool PoolConfig) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), pool)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, pool PoolConfig) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), pool)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, pool PoolConfig) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	pool = pool.withDefaults()
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	store := &Store{
		db:         db,
		rateLimits: make(map[string]*rateLimitEntry),
	}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(&domain.LicenseRecord{})
}

// Create 插入一条新的许可证记录
func (s *Store) Create(ctx context.Context, record *domain.LicenseRecord) error {
	err := s.db.WithContext(ctx).Create(record).Error
	if err != nil && isDuplicateKeyError(err) {
		return storage.ErrDuplicateKey
	}
	return err
}

// CreateBatch 在单个事务中插入一批记录，任意冲突时整批回滚
func (s *Store) CreateBatch(ctx context.Context, records []*domain.LicenseRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, record := range records {
			if err := tx.Create(record).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && isDuplicateKeyError(err) {
		return storage.ErrDuplicateKey
	}
	return err
}

// Get 按密钥读取记录
func (s *Store) Get(ctx context.Context, key string) (*domain.LicenseRecord, error) {
	var record domain.LicenseRecord
	err := s.db.WithContext(ctx).Where("license_key = ?", key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrLicenseNotFound
		}
		return nil, err
	}
	return &record, nil
}

// CompareAndBind 仅当 hwid 仍为空时原子地写入绑定字段
//
// 单条 UPDATE 的 WHERE 条件携带 hwid IS NULL 检查，由数据库保证
// 检查与写入之间不会插入其他写入者。
func (s *Store) CompareAndBind(ctx context.Context, key, hwid string, activatedAt time.Time, expiresAt *time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&domain.LicenseRecord{}).
		Where("license_key = ? AND (hwid IS NULL OR hwid = '')", key).
		Updates(map[string]interface{}{
			"hwid":         hwid,
			"activated_at": activatedAt,
			"expires_at":   expiresAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// 没有命中行：区分记录不存在与并发绑定冲突
	if _, err := s.Get(ctx, key); err != nil {
		return err
	}
	return storage.ErrBindConflict
}

// SetRevoked 吊销许可证
func (s *Store) SetRevoked(ctx context.Context, key string) error {
	return s.updateField(ctx, key, map[string]interface{}{"revoked": true})
}

// ClearBinding 清除绑定字段，保留吊销状态
func (s *Store) ClearBinding(ctx context.Context, key string) error {
	return s.updateField(ctx, key, map[string]interface{}{
		"hwid":         nil,
		"activated_at": nil,
		"expires_at":   nil,
	})
}

// SetNote 更新备注
func (s *Store) SetNote(ctx context.Context, key, note string) error {
	return s.updateField(ctx, key, map[string]interface{}{"note": note})
}

// updateField 更新指定字段，记录不存在时返回 ErrLicenseNotFound
func (s *Store) updateField(ctx context.Context, key string, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).
		Model(&domain.LicenseRecord{}).
		Where("license_key = ?", key).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// UPDATE 未命中时可能是值未变化，需确认记录是否存在
		if _, err := s.Get(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// List 按创建时间倒序返回记录快照
func (s *Store) List(ctx context.Context, limit, offset int) ([]domain.LicenseRecord, error) {
	var records []domain.LicenseRecord
	query := s.db.WithContext(ctx).
		Order("created_at DESC, license_key DESC").
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// IncrementRateLimit 自增限流计数器（进程内存实现）
func (s *Store) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	now := time.Now()
	entry, exists := s.rateLimits[key]
	if !exists || now.After(entry.ExpiresAt) {
		s.rateLimits[key] = &rateLimitEntry{Count: 1, ExpiresAt: now.Add(window)}
		return 1, nil
	}

	entry.Count++
	return entry.Count, nil
}

// GetRateLimit 获取限流计数
func (s *Store) GetRateLimit(ctx context.Context, key string) (int64, error) {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	entry, exists := s.rateLimits[key]
	if !exists || time.Now().After(entry.ExpiresAt) {
		return 0, nil
	}
	return entry.Count, nil
}

// Health 检查数据库连通性
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接池
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isDuplicateKeyError 判断是否为唯一约束冲突
//
// gorm.ErrDuplicatedKey 依赖 translator 支持；不同驱动的原始错误
// 文本作为兜底匹配。
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "unique constraint")
}
