package retry

import (
	"fmt"
	"strings"
	"time"
)

// Strategy 决定两次重试之间的等待时长如何增长。
type Strategy int

const (
	// Fixed 每次等待 BaseDelay。
	Fixed Strategy = iota
	// ExponentialBackoff 等待 BaseDelay * 2^attempt。
	ExponentialBackoff
	// ExponentialBackoffWithJitter 在指数退避上叠加少量抖动。
	ExponentialBackoffWithJitter
)

var strategyNames = map[Strategy]string{
	Fixed:                        "fixed",
	ExponentialBackoff:           "exponential",
	ExponentialBackoffWithJitter: "exponential_jitter",
}

// String 返回策略名称。
func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy 解析配置文件中的策略名称。
func ParseStrategy(name string) (Strategy, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case "fixed":
		return Fixed, nil
	case "exponential", "exponential_backoff":
		return ExponentialBackoff, nil
	case "", "exponential_jitter", "exponential_backoff_with_jitter", "jitter":
		return ExponentialBackoffWithJitter, nil
	}
	return Fixed, fmt.Errorf("未知的重试策略 %q", name)
}

// UnmarshalText 支持在 YAML 配置中直接书写策略名称。
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText 实现 encoding.TextMarshaler。
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config 描述重试策略。挂载到 RetryingModel 之后不再修改。
type Config struct {
	// MaxAttempts 为失败后的最大重试次数，0 表示不做包装。
	MaxAttempts         int
	BaseDelay           time.Duration
	Strategy            Strategy
	OnlyRetryRateLimits bool
}

// DefaultConfig 返回针对限流场景的默认策略。
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         3,
		BaseDelay:           time.Second,
		Strategy:            ExponentialBackoffWithJitter,
		OnlyRetryRateLimits: true,
	}
}

// Aggressive 更多次数、更短等待。
func Aggressive() Config {
	return Config{
		MaxAttempts:         5,
		BaseDelay:           500 * time.Millisecond,
		Strategy:            ExponentialBackoffWithJitter,
		OnlyRetryRateLimits: true,
	}
}

// Conservative 更少次数、更长等待。
func Conservative() Config {
	return Config{
		MaxAttempts:         2,
		BaseDelay:           2 * time.Second,
		Strategy:            ExponentialBackoff,
		OnlyRetryRateLimits: true,
	}
}

// Disabled 显式关闭重试。
func Disabled() Config {
	return Config{
		MaxAttempts:         0,
		Strategy:            Fixed,
		OnlyRetryRateLimits: true,
	}
}

// RetryAllErrors 返回不再局限于 429 的副本。可能掩盖真实错误，谨慎使用。
func (c Config) RetryAllErrors() Config {
	c.OnlyRetryRateLimits = false
	return c
}

// Enabled 判断该配置是否需要包装模型。
func (c Config) Enabled() bool {
	return c.MaxAttempts > 0
}

// Preset 根据名称返回预置策略。
func Preset(name string) (Config, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return DefaultConfig(), nil
	case "aggressive":
		return Aggressive(), nil
	case "conservative":
		return Conservative(), nil
	case "disabled", "off", "none":
		return Disabled(), nil
	}
	return Config{}, fmt.Errorf("未知的重试预设 %q", name)
}

// Delay 计算第 attempt 次失败后的退避时长（attempt 从 0 开始）。
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	switch c.Strategy {
	case Fixed:
		return c.BaseDelay
	case ExponentialBackoff:
		return c.BaseDelay << uint(attempt)
	default:
		jitter := time.Duration((attempt*50)%200) * time.Millisecond
		return c.BaseDelay<<uint(attempt) + jitter
	}
}
