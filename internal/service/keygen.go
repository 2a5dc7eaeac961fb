package service

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"strings"
)

const (
	// keyPrefix 许可证密钥前缀，便于人工识别
	keyPrefix = "NM-"
	// keyEntropyBytes 密钥随机字节数（160 位熵，远超暴力猜测可行范围）
	keyEntropyBytes = 20
	// keySegmentLen 密钥分段长度，仅为可读性分组
	keySegmentLen = 8

	// MaxKeyGenAttempts 密钥碰撞时的最大重试次数
	//
	// 生成器本身不保证唯一，唯一性由存储层的主键约束兜底；
	// 碰撞概率极低，重试上限仅防御随机源异常。
	MaxKeyGenAttempts = 10
)

// ErrKeyGenExhausted 密钥生成重试耗尽错误
var ErrKeyGenExhausted = errors.New("exhausted license key generation attempts")

// keyEncoding 无填充 base32，全大写字母数字，适合人工抄录
var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateKey 生成一个不可预测的许可证密钥
//
// 格式: NM-XXXXXXXX-XXXXXXXX-XXXXXXXX-XXXXXXXX（分组纯属装饰，
// 熵与唯一性契约才是关键）。绝不使用计数器或时间戳参与生成。
func GenerateKey() (string, error) {
	buf := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	encoded := keyEncoding.EncodeToString(buf)

	var b strings.Builder
	b.WriteString(keyPrefix)
	for i := 0; i < len(encoded); i += keySegmentLen {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + keySegmentLen
		if end > len(encoded) {
			end = len(encoded)
		}
		b.WriteString(encoded[i:end])
	}
	return b.String(), nil
}
