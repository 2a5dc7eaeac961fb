package hybrid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"licensegate/backend/internal/domain"
	"licensegate/backend/internal/storage"
	"licensegate/backend/internal/storage/postgres"
	"licensegate/backend/internal/storage/redis"
)

const (
	// licenseCacheTTL 许可证记录缓存时长
	//
	// TTL 偏短：吊销等管理操作必须尽快对激活路径可见，
	// 变更失效只在单实例内即时生效。
	licenseCacheTTL = 5 * time.Minute

	// cacheReplayDelay 延迟双删间隔
	//
	// 并发读取者可能在变更方删除缓存之后，把变更前从 SQL 读到的
	// 旧快照回填进缓存。第二次延迟删除落在回填之后，关闭这个窗口。
	cacheReplayDelay = time.Second
)

// licenseCache 混合存储对缓存层的依赖
//
// 生产环境由 redis.Cache 实现，测试中可注入假缓存复现并发时序。
type licenseCache interface {
	CacheLicense(ctx context.Context, record *domain.LicenseRecord, ttl time.Duration) error
	GetCachedLicense(ctx context.Context, key string) (*domain.LicenseRecord, error)
	DeleteCachedLicense(ctx context.Context, keys ...string) error
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
	GetRateLimit(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Store 混合存储实现，结合 SQL 与 Redis
//
// SQL 是唯一事实来源，所有写入先落库再使缓存失效；
// Redis 承担读穿缓存与限流计数。CompareAndBind 永远直达 SQL，
// 绑定竞争的原子性不依赖缓存。
//
// 缓存策略有两条防回填规则：
//  1. 只缓存已绑定的记录。未绑定快照一旦被竞争失败方回填，
//     会在 TTL 内掩盖赢家刚写入的绑定。
//  2. 每次变更失效执行延迟双删，清除变更期间并发读取者回填的旧快照。
type Store struct {
	db    storage.Store
	cache licenseCache

	replayDelay time.Duration
}

// NewStore 创建混合存储实例 (PostgreSQL)
func NewStore(dsn string, pool postgres.PoolConfig, redisAddr, redisPassword string, redisDB int) (*Store, error) {
	return NewStoreWithType("postgres", dsn, pool, redisAddr, redisPassword, redisDB)
}

// NewStoreWithType 创建混合存储实例（指定数据库类型）
func NewStoreWithType(dbType, dsn string, pool postgres.PoolConfig, redisAddr, redisPassword string, redisDB int) (*Store, error) {
	var dbStore *postgres.Store
	var err error

	switch dbType {
	case "mysql":
		dbStore, err = postgres.NewMySQLStore(dsn, pool)
	case "postgres", "postgresql":
		dbStore, err = postgres.NewStore(dsn, pool)
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", dbType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	redisCache, err := redis.NewCache(redisAddr, redisPassword, redisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	return newStoreWithBackends(dbStore, redisCache), nil
}

// newStoreWithBackends 组装指定后端的混合存储
func newStoreWithBackends(db storage.Store, cache licenseCache) *Store {
	return &Store{
		db:          db,
		cache:       cache,
		replayDelay: cacheReplayDelay,
	}
}

// Create 插入一条新的许可证记录
func (s *Store) Create(ctx context.Context, record *domain.LicenseRecord) error {
	return s.db.Create(ctx, record)
}

// CreateBatch 在单个事务中插入一批记录
func (s *Store) CreateBatch(ctx context.Context, records []*domain.LicenseRecord) error {
	return s.db.CreateBatch(ctx, records)
}

// Get 按密钥读取记录，优先命中缓存
//
// 只回填已绑定的记录：绑定建立前的快照参与缓存会给
// CompareAndBind 的竞争失败方留下污染窗口。
func (s *Store) Get(ctx context.Context, key string) (*domain.LicenseRecord, error) {
	if record, err := s.cache.GetCachedLicense(ctx, key); err == nil {
		return record, nil
	}

	record, err := s.db.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// 缓存写入失败不影响读取结果
	if record.IsBound() {
		_ = s.cache.CacheLicense(ctx, record, licenseCacheTTL)
	}
	return record, nil
}

// CompareAndBind 绑定操作直达 SQL，成功后使缓存失效
//
// 竞争失败时同样失效缓存，保证冲突方随后的重读从 SQL
// 取到赢家写入的绑定。
func (s *Store) CompareAndBind(ctx context.Context, key, hwid string, activatedAt time.Time, expiresAt *time.Time) error {
	err := s.db.CompareAndBind(ctx, key, hwid, activatedAt, expiresAt)
	if err != nil {
		if errors.Is(err, storage.ErrBindConflict) {
			s.invalidate(ctx, key)
		}
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

// SetRevoked 吊销许可证并使缓存失效
func (s *Store) SetRevoked(ctx context.Context, key string) error {
	if err := s.db.SetRevoked(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

// ClearBinding 清除绑定并使缓存失效
func (s *Store) ClearBinding(ctx context.Context, key string) error {
	if err := s.db.ClearBinding(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

// SetNote 更新备注并使缓存失效
func (s *Store) SetNote(ctx context.Context, key, note string) error {
	if err := s.db.SetNote(ctx, key, note); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

// List 列表查询不缓存，直达 SQL
func (s *Store) List(ctx context.Context, limit, offset int) ([]domain.LicenseRecord, error) {
	return s.db.List(ctx, limit, offset)
}

// IncrementRateLimit 限流计数由 Redis 承担
func (s *Store) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.cache.IncrementRateLimit(ctx, key, window)
}

// GetRateLimit 获取限流计数
func (s *Store) GetRateLimit(ctx context.Context, key string) (int64, error) {
	return s.cache.GetRateLimit(ctx, key)
}

// invalidate 使缓存记录失效（延迟双删）
//
// 第一次删除立即执行；并发读取者可能随后回填变更前的旧快照，
// replayDelay 之后的第二次删除负责清掉它。删除失败不阻塞写路径，
// 旧缓存最迟在 TTL 到期后消失。
func (s *Store) invalidate(ctx context.Context, key string) {
	_ = s.cache.DeleteCachedLicense(ctx, key)

	time.AfterFunc(s.replayDelay, func() {
		replayCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.cache.DeleteCachedLicense(replayCtx, key)
	})
}

// Health 检查 SQL 与 Redis 连通性
func (s *Store) Health() error {
	if err := s.db.Health(); err != nil {
		return fmt.Errorf("sql: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.cache.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close 释放底层连接
func (s *Store) Close() error {
	if err := s.cache.Close(); err != nil {
		return err
	}
	return s.db.Close()
}
