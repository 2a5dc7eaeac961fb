package service

import "time"

// Clock 时间源抽象
//
// 过期计算与比较都经由 Clock 取当前时间，测试中可注入假时钟
// 精确验证过期边界。
type Clock interface {
	Now() time.Time
}

// SystemClock 系统墙钟实现
//
// 统一使用 UTC 并截断到秒，与存储中的时间戳精度一致。
type SystemClock struct{}

// Now 返回当前 UTC 时间（秒精度）
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
