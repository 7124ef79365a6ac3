// Package factory builds the configured model provider.
package factory

import (
	"context"
	"strings"
	"time"

	xerrors "forgeflow/internal/errors"
	"forgeflow/internal/llm"
	"forgeflow/internal/llm/anthropic"
	"forgeflow/internal/llm/command"
	"forgeflow/internal/llm/gemini"
	"forgeflow/internal/llm/openai"
	"forgeflow/internal/tools"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderCommand   = "command"
	ProviderEcho      = "echo"
)

// Config 描述模型供应商。
type Config struct {
	Provider       string   `yaml:"provider"`
	Model          string   `yaml:"model"`
	APIKey         string   `yaml:"api_key"`
	BaseURL        string   `yaml:"base_url"`
	SystemPrompt   string   `yaml:"system_prompt"`
	Temperature    float64  `yaml:"temperature"`
	MaxTokens      int64    `yaml:"max_tokens"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxToolRounds  int      `yaml:"max_tool_rounds"`
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args"`
	Dir            string   `yaml:"dir"`
}

// Timeout 返回请求超时时间。
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// New 根据配置创建模型。registry 仅对支持工具调用的供应商生效，可以为空。
func New(cfg Config, registry *tools.Registry) (llm.Model, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGemini:
		return checked(gemini.NewClient(gemini.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			Temperature:  cfg.Temperature,
			Timeout:      cfg.Timeout(),
		}))
	case ProviderOpenAI:
		return checked(openai.NewClient(openai.Config{
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			Model:         cfg.Model,
			SystemPrompt:  cfg.SystemPrompt,
			Temperature:   cfg.Temperature,
			Timeout:       cfg.Timeout(),
			MaxToolRounds: cfg.MaxToolRounds,
		}, registry))
	case ProviderAnthropic:
		return checked(anthropic.NewClient(anthropic.Config{
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			Model:         cfg.Model,
			SystemPrompt:  cfg.SystemPrompt,
			Temperature:   cfg.Temperature,
			MaxTokens:     cfg.MaxTokens,
			Timeout:       cfg.Timeout(),
			MaxToolRounds: cfg.MaxToolRounds,
		}, registry))
	case ProviderCommand:
		return checked(command.NewClient(command.Config{
			Command: cfg.Command,
			Args:    cfg.Args,
			Dir:     cfg.Dir,
		}))
	case ProviderEcho:
		return Echo(), nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的模型供应商: "+cfg.Provider)
	}
}

// checked 避免把带类型的 nil 指针包装成非 nil 接口。
func checked[T llm.Model](model T, err error) (llm.Model, error) {
	if err != nil {
		return nil, err
	}
	return model, nil
}

// Echo 返回把提示词原样作为回复的模型，用于本地演练。
func Echo() llm.Model {
	return llm.ModelFunc(func(_ context.Context, text string) (string, error) {
		return text, nil
	})
}
