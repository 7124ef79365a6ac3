package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"forgeflow/internal/llm"
	"forgeflow/pkg/logger"
)

// SleepFunc 等待 d 或直到 ctx 结束。
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option 定义 RetryingModel 的可选配置。
type Option func(*RetryingModel)

// WithSleep 替换默认的等待实现，测试中用于记录退避时长。
func WithSleep(fn SleepFunc) Option {
	return func(m *RetryingModel) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(m *RetryingModel) {
		if l != nil {
			m.log = l
		}
	}
}

// RetryingModel 包装另一个 Model，在瞬时失败时按策略重新发起调用。
type RetryingModel struct {
	inner llm.Model
	cfg   Config
	sleep SleepFunc
	log   *slog.Logger
}

// Wrap 根据配置包装模型。MaxAttempts 为 0 时原样返回。
func Wrap(model llm.Model, cfg Config, opts ...Option) llm.Model {
	if model == nil || !cfg.Enabled() {
		return model
	}
	return New(model, cfg, opts...)
}

// New 创建 RetryingModel。
func New(model llm.Model, cfg Config, opts ...Option) *RetryingModel {
	m := &RetryingModel{
		inner: model,
		cfg:   cfg,
		sleep: sleepContext,
		log:   logger.Named("retry"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Config 返回挂载的策略。
func (m *RetryingModel) Config() Config {
	return m.cfg
}

// Unwrap 返回被包装的模型。
func (m *RetryingModel) Unwrap() llm.Model {
	return m.inner
}

// Prompt 实现 llm.Model。最多调用 1+MaxAttempts 次，失败时原样返回最后一次错误。
func (m *RetryingModel) Prompt(ctx context.Context, text string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxAttempts; attempt++ {
		out, err := m.inner.Prompt(ctx, text)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if attempt == m.cfg.MaxAttempts || !m.shouldRetry(ctx, err) {
			break
		}

		delay := m.backoff(attempt, err)
		m.log.Warn("模型调用失败，准备重试",
			"attempt", attempt+1,
			"max_attempts", m.cfg.MaxAttempts,
			"delay", delay,
			"error", err)
		if sleepErr := m.sleep(ctx, delay); sleepErr != nil {
			break
		}
	}
	return "", lastErr
}

func (m *RetryingModel) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	if !m.cfg.OnlyRetryRateLimits {
		return true
	}
	pe, ok := llm.ParseProviderError(err)
	return ok && pe.RateLimited()
}

// backoff 优先采用供应商给出的 RetryInfo 提示。
func (m *RetryingModel) backoff(attempt int, err error) time.Duration {
	if pe, ok := llm.ParseProviderError(err); ok {
		if hint, found := pe.RetryDelay(); found {
			return hint
		}
	}
	return m.cfg.Delay(attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
