package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// LicenseConfig 定义许可证服务的核心业务配置
type LicenseConfig struct {
	MaxBatchKeys   int           // 单次批量创建的密钥数量上限
	StorageTimeout time.Duration // 存储层单次操作超时
}

// AdminConfig 定义管理接口的凭据配置
type AdminConfig struct {
	Token string // 管理令牌，必须显式配置且至少 16 字符
}

// RateLimitConfig 定义公共激活接口的限流配置
type RateLimitConfig struct {
	ActivatePerIP  int           // 单个 IP 在窗口内允许的激活请求数
	ActivateWindow time.Duration // 限流窗口
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空仅输出到控制台
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
//
// 配置在进程启动时构造一次，按引用传入各组件，不存在可变全局状态。
type Config struct {
	Server    ServerConfig
	License   LicenseConfig
	Admin     AdminConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
}

// defaultAdminToken 出厂占位令牌，启动时拒绝使用
const defaultAdminToken = "change-me-in-production"

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: LICENSEGATE_
// 例如: LICENSEGATE_SERVER_PORT, LICENSEGATE_ADMIN_TOKEN
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("licensegate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("license.max_batch_keys", 500)
	viper.SetDefault("license.storage_timeout", "5s")
	viper.SetDefault("admin.token", defaultAdminToken)
	viper.SetDefault("ratelimit.activate_per_ip", 60)
	viper.SetDefault("ratelimit.activate_window", "1m")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	adminToken := viper.GetString("admin.token")

	// 安全检查：禁止使用默认管理令牌
	if adminToken == defaultAdminToken {
		return nil, fmt.Errorf("SECURITY ERROR: admin token cannot be the default value. Please set LICENSEGATE_ADMIN_TOKEN environment variable")
	}
	if len(adminToken) < 16 {
		return nil, fmt.Errorf("SECURITY ERROR: admin token must be at least 16 characters long")
	}

	maxBatchKeys := viper.GetInt("license.max_batch_keys")
	if maxBatchKeys <= 0 {
		maxBatchKeys = 500
	}

	storageTimeout, err := time.ParseDuration(viper.GetString("license.storage_timeout"))
	if err != nil || storageTimeout <= 0 {
		storageTimeout = 5 * time.Second
	}

	activateWindow, err := time.ParseDuration(viper.GetString("ratelimit.activate_window"))
	if err != nil || activateWindow <= 0 {
		activateWindow = time.Minute
	}

	activatePerIP := viper.GetInt("ratelimit.activate_per_ip")
	if activatePerIP <= 0 {
		activatePerIP = 60
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	dbType := viper.GetString("database.type")
	dbDSN := viper.GetString("database.dsn")
	if dbType != "" && dbDSN == "" {
		return nil, fmt.Errorf("database.dsn is required when database.type is set")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		License: LicenseConfig{
			MaxBatchKeys:   maxBatchKeys,
			StorageTimeout: storageTimeout,
		},
		Admin: AdminConfig{
			Token: adminToken,
		},
		RateLimit: RateLimitConfig{
			ActivatePerIP:  activatePerIP,
			ActivateWindow: activateWindow,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             dbDSN,
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 先尝试当前目录，再尝试父目录（从 backend/ 子目录运行时）。
// 文件不存在时静默跳过；已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
