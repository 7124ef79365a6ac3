package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgeflow/internal/llm"
	"forgeflow/pkg/logger"
)

// scriptedModel fails with the queued errors in order, then succeeds.
type scriptedModel struct {
	mu     sync.Mutex
	calls  int
	errs   []error
	always error
}

func (m *scriptedModel) Prompt(_ context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.always != nil {
		return "", m.always
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	return "ok: " + text, nil
}

func (m *scriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func providerErr(code int) error {
	return llm.NewPromptError("test", code, llm.NewErrorBody(code, "An error occurred.", 0), nil)
}

func newTestModel(inner llm.Model, cfg Config, rec *sleepRecorder) *RetryingModel {
	return New(inner, cfg, WithSleep(rec.sleep), WithLogger(logger.Discard()))
}

func TestAlwaysRateLimitedGivesUpAfterAllAttempts(t *testing.T) {
	inner := &scriptedModel{always: providerErr(429)}
	rec := &sleepRecorder{}
	m := newTestModel(inner, Config{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Strategy: ExponentialBackoffWithJitter, OnlyRetryRateLimits: true}, rec)

	_, err := m.Prompt(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, 4, inner.Calls())
	assert.Same(t, inner.always, err)
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20*time.Millisecond + 50*time.Millisecond,
		40*time.Millisecond + 100*time.Millisecond,
	}, rec.delays)
}

func TestSucceedsAfterTransientRateLimits(t *testing.T) {
	inner := &scriptedModel{errs: []error{providerErr(429), providerErr(429)}}
	rec := &sleepRecorder{}
	m := newTestModel(inner, DefaultConfig(), rec)

	out, err := m.Prompt(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok: hi", out)
	assert.Equal(t, 3, inner.Calls())
}

func TestNonRateLimitErrorIsNotRetried(t *testing.T) {
	inner := &scriptedModel{errs: []error{providerErr(500)}}
	rec := &sleepRecorder{}
	m := newTestModel(inner, DefaultConfig(), rec)

	_, err := m.Prompt(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, 1, inner.Calls())
	assert.Empty(t, rec.delays)
}

func TestUnstructuredErrorIsNotRetried(t *testing.T) {
	inner := &scriptedModel{errs: []error{errors.New("connection reset by peer")}}
	m := newTestModel(inner, DefaultConfig(), &sleepRecorder{})

	_, err := m.Prompt(context.Background(), "hi")
	require.EqualError(t, err, "connection reset by peer")
	assert.Equal(t, 1, inner.Calls())
}

func TestRetryAllErrors(t *testing.T) {
	inner := &scriptedModel{errs: []error{errors.New("flaky"), providerErr(503)}}
	m := newTestModel(inner, DefaultConfig().RetryAllErrors(), &sleepRecorder{})

	out, err := m.Prompt(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ok: x", out)
	assert.Equal(t, 3, inner.Calls())
}

func TestProviderRetryHintWins(t *testing.T) {
	hinted := llm.NewPromptError("gemini", 429, `{"error":{"code":429,"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"100ms"}]}}`, nil)
	inner := &scriptedModel{errs: []error{hinted}}
	rec := &sleepRecorder{}
	m := newTestModel(inner, DefaultConfig(), rec)

	_, err := m.Prompt(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, rec.delays)
}

func TestCancelledSleepReturnsLastError(t *testing.T) {
	inner := &scriptedModel{always: providerErr(429)}
	ctx, cancel := context.WithCancel(context.Background())
	m := New(inner, DefaultConfig(), WithLogger(logger.Discard()), WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))

	_, err := m.Prompt(ctx, "x")
	require.Error(t, err)
	assert.Equal(t, 1, inner.Calls())
	assert.Same(t, inner.always, err)
}

func TestWrapWithZeroAttemptsReturnsInner(t *testing.T) {
	inner := &scriptedModel{}
	assert.Same(t, llm.Model(inner), Wrap(inner, Disabled()))

	wrapped := Wrap(inner, DefaultConfig())
	_, ok := wrapped.(*RetryingModel)
	assert.True(t, ok)
}

func TestRealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := sleepContext(ctx, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
