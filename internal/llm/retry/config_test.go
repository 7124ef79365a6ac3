package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.BaseDelay)
	assert.Equal(t, ExponentialBackoffWithJitter, cfg.Strategy)
	assert.True(t, cfg.OnlyRetryRateLimits)
}

func TestPresets(t *testing.T) {
	assert.Equal(t, Config{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, Strategy: ExponentialBackoffWithJitter, OnlyRetryRateLimits: true}, Aggressive())
	assert.Equal(t, Config{MaxAttempts: 2, BaseDelay: 2 * time.Second, Strategy: ExponentialBackoff, OnlyRetryRateLimits: true}, Conservative())
	assert.False(t, Disabled().Enabled())
	assert.False(t, DefaultConfig().RetryAllErrors().OnlyRetryRateLimits)

	cfg, err := Preset("conservative")
	require.NoError(t, err)
	assert.Equal(t, Conservative(), cfg)
	_, err = Preset("reckless")
	assert.Error(t, err)
}

func TestDelayByStrategy(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, base, Config{BaseDelay: base, Strategy: Fixed}.Delay(3))
	assert.Equal(t, 800*time.Millisecond, Config{BaseDelay: base, Strategy: ExponentialBackoff}.Delay(3))
	assert.Equal(t, 800*time.Millisecond+150*time.Millisecond, Config{BaseDelay: base, Strategy: ExponentialBackoffWithJitter}.Delay(3))
	assert.Equal(t, 1600*time.Millisecond, Config{BaseDelay: base, Strategy: ExponentialBackoffWithJitter}.Delay(4))
}

func TestStrategyFromYAML(t *testing.T) {
	var doc struct {
		Strategy Strategy `yaml:"strategy"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("strategy: exponential\n"), &doc))
	assert.Equal(t, ExponentialBackoff, doc.Strategy)

	assert.Error(t, yaml.Unmarshal([]byte("strategy: linear\n"), &doc))
}
