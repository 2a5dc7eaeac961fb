package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"licensegate/backend/internal/domain"
	"licensegate/backend/internal/storage"
)

// Store 使用内存保存许可证数据，主要用于开发验证与测试。
//
// 所有读写都在同一把读写锁下完成，因此每个方法天然是原子的，
// CompareAndBind 的检查与写入不会被其他写入者打断。
type Store struct {
	mu       sync.RWMutex
	licenses map[string]*domain.LicenseRecord // licenseKey -> record

	// 速率限制相关
	rateLimits        map[string]*rateLimitEntry
	rateLimitsCleanup time.Time // 下次清理过期速率限制的时间
}

// rateLimitEntry 速率限制条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		licenses:          make(map[string]*domain.LicenseRecord),
		rateLimits:        make(map[string]*rateLimitEntry),
		rateLimitsCleanup: time.Now().Add(time.Minute),
	}
}

// Create 插入一条新的许可证记录
func (s *Store) Create(ctx context.Context, record *domain.LicenseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.licenses[record.Key]; exists {
		return storage.ErrDuplicateKey
	}

	clone := *record
	s.licenses[record.Key] = &clone
	return nil
}

// CreateBatch 原子地插入一批记录，任意冲突则整批放弃
func (s *Store) CreateBatch(ctx context.Context, records []*domain.LicenseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 先整体检查，再整体写入，保证无部分写入
	seen := make(map[string]bool, len(records))
	for _, record := range records {
		if _, exists := s.licenses[record.Key]; exists {
			return storage.ErrDuplicateKey
		}
		if seen[record.Key] {
			return storage.ErrDuplicateKey
		}
		seen[record.Key] = true
	}

	for _, record := range records {
		clone := *record
		s.licenses[record.Key] = &clone
	}
	return nil
}

// Get 按密钥读取记录
func (s *Store) Get(ctx context.Context, key string) (*domain.LicenseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.licenses[key]
	if !exists {
		return nil, storage.ErrLicenseNotFound
	}

	clone := *record
	return &clone, nil
}

// CompareAndBind 仅当 hwid 仍为空时写入绑定字段
func (s *Store) CompareAndBind(ctx context.Context, key, hwid string, activatedAt time.Time, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.licenses[key]
	if !exists {
		return storage.ErrLicenseNotFound
	}

	if record.HWID != nil && *record.HWID != "" {
		return storage.ErrBindConflict
	}

	boundHWID := hwid
	record.HWID = &boundHWID
	record.ActivatedAt = &activatedAt
	record.ExpiresAt = expiresAt
	return nil
}

// SetRevoked 吊销许可证
func (s *Store) SetRevoked(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.licenses[key]
	if !exists {
		return storage.ErrLicenseNotFound
	}

	record.Revoked = true
	return nil
}

// ClearBinding 清除绑定字段，保留吊销状态
func (s *Store) ClearBinding(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.licenses[key]
	if !exists {
		return storage.ErrLicenseNotFound
	}

	record.HWID = nil
	record.ActivatedAt = nil
	record.ExpiresAt = nil
	return nil
}

// SetNote 更新备注
func (s *Store) SetNote(ctx context.Context, key, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.licenses[key]
	if !exists {
		return storage.ErrLicenseNotFound
	}

	record.Note = note
	return nil
}

// List 按创建时间倒序返回记录快照
func (s *Store) List(ctx context.Context, limit, offset int) ([]domain.LicenseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.LicenseRecord, 0, len(s.licenses))
	for _, record := range s.licenses {
		records = append(records, *record)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].Key > records[j].Key
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if offset >= len(records) {
		return []domain.LicenseRecord{}, nil
	}
	records = records[offset:]

	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}

// IncrementRateLimit 自增限流计数器
func (s *Store) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.cleanupRateLimitsLocked(now)

	entry, exists := s.rateLimits[key]
	if !exists || now.After(entry.ExpiresAt) {
		s.rateLimits[key] = &rateLimitEntry{
			Count:     1,
			ExpiresAt: now.Add(window),
		}
		return 1, nil
	}

	entry.Count++
	return entry.Count, nil
}

// GetRateLimit 获取限流计数
func (s *Store) GetRateLimit(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.rateLimits[key]
	if !exists || time.Now().After(entry.ExpiresAt) {
		return 0, nil
	}
	return entry.Count, nil
}

// cleanupRateLimitsLocked 清理过期的限流条目，调用方需持有写锁
func (s *Store) cleanupRateLimitsLocked(now time.Time) {
	if now.Before(s.rateLimitsCleanup) {
		return
	}
	for key, entry := range s.rateLimits {
		if now.After(entry.ExpiresAt) {
			delete(s.rateLimits, key)
		}
	}
	s.rateLimitsCleanup = now.Add(time.Minute)
}

// Health 内存存储始终健康
func (s *Store) Health() error {
	return nil
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}
