package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"licensegate/backend/internal/domain"
	"licensegate/backend/internal/service"
	"licensegate/backend/internal/storage"
	"licensegate/backend/internal/storage/postgres"
)

// main 离线批量生成许可证密钥并写入数据库。
//
// 不经过 HTTP 服务，适合在发布流程中预生成密钥批次。
func main() {
	dbType := flag.String("type", "", "数据库类型: mysql 或 postgres")
	dbDSN := flag.String("dsn", "", "数据库连接字符串")
	kindStr := flag.String("kind", "", "许可证类型: lifetime 或 timed")
	count := flag.Int("count", 1, "生成数量")
	days := flag.Int("days", 0, "限时许可证有效天数")
	flag.Parse()

	if *dbType == "" || *dbDSN == "" || *kindStr == "" {
		fmt.Println("用法:")
		fmt.Println("  go run cmd/keygen/main.go -type=postgres -dsn='postgres://...' -kind=lifetime -count=100")
		fmt.Println("  go run cmd/keygen/main.go -type=mysql -dsn='user:pass@tcp(...)/db' -kind=timed -count=50 -days=365")
		os.Exit(1)
	}

	kind, err := domain.ParseKind(*kindStr)
	if err != nil {
		fmt.Printf("错误: 不支持的许可证类型 '%s'\n", *kindStr)
		os.Exit(1)
	}

	var store storage.Store
	switch *dbType {
	case "mysql":
		store, err = postgres.NewMySQLStore(*dbDSN, postgres.DefaultPoolConfig())
	case "postgres":
		store, err = postgres.NewStore(*dbDSN, postgres.DefaultPoolConfig())
	default:
		fmt.Printf("错误: 不支持的数据库类型 '%s'\n", *dbType)
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("错误: 无法连接数据库: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	admin := service.NewAdminService(store, service.SystemClock{}, zap.NewNop(), 30*time.Second, *count)

	keys, err := admin.CreateBatch(context.Background(), kind, *count, *days)
	if err != nil {
		fmt.Printf("错误: 批量创建失败: %v\n", err)
		os.Exit(1)
	}

	// 密钥逐行输出到 stdout，方便重定向到文件
	for _, key := range keys {
		fmt.Println(key)
	}
	fmt.Fprintf(os.Stderr, "✓ 已生成 %d 个 %s 许可证密钥\n", len(keys), kind)
}
