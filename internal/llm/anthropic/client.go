// Package anthropic adapts the Anthropic Messages API to llm.Model, running
// the tool-use loop against a tools.Registry when one is configured.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	xerrors "forgeflow/internal/errors"
	"forgeflow/internal/llm"
	"forgeflow/internal/tools"
	"forgeflow/pkg/logger"
)

const (
	defaultModelName = anthropicsdk.ModelClaude3_5Sonnet20241022
	defaultMaxTokens = 4096
	defaultTimeout   = 60 * time.Second
	defaultMaxRounds = 8

	providerName = "anthropic"
)

// Config 描述调用 Anthropic 所需的信息。
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	SystemPrompt  string
	Temperature   float64
	MaxTokens     int64
	Timeout       time.Duration
	MaxToolRounds int
}

// Client 通过官方 SDK 调用 Anthropic。
type Client struct {
	client    anthropicsdk.Client
	model     anthropicsdk.Model
	system    string
	temp      float64
	maxTokens int64
	maxRounds int
	tools     *tools.Registry
}

// NewClient 创建客户端，SDK 自带的重试被关闭。
func NewClient(cfg Config, registry *tools.Registry) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供 Anthropic API Key")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	model := anthropicsdk.Model(strings.TrimSpace(cfg.Model))
	if model == "" {
		model = defaultModelName
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = defaultMaxRounds
	}

	return &Client{
		client:    anthropicsdk.NewClient(opts...),
		model:     model,
		system:    strings.TrimSpace(cfg.SystemPrompt),
		temp:      cfg.Temperature,
		maxTokens: maxTokens,
		maxRounds: rounds,
		tools:     registry,
	}, nil
}

// Prompt 实现 llm.Model。
func (c *Client) Prompt(ctx context.Context, text string) (string, error) {
	messages := []anthropicsdk.MessageParam{
		anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(text)),
	}
	log := logger.Named("llm").With("provider", providerName)

	for round := 0; round < c.maxRounds; round++ {
		resp, err := c.client.Messages.New(ctx, c.params(messages))
		if err != nil {
			return "", toPromptError(err)
		}

		var (
			reply   strings.Builder
			results []anthropicsdk.ContentBlockParamUnion
		)
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				reply.WriteString(block.AsText().Text)
			case "tool_use":
				if c.tools == nil {
					continue
				}
				use := block.AsToolUse()
				args, _ := json.Marshal(use.Input)
				out, callErr := c.tools.Call(ctx, use.Name, args)
				if callErr != nil {
					log.Warn("工具调用失败", "tool", use.Name, "error", callErr)
					results = append(results, anthropicsdk.NewToolResultBlock(use.ID, callErr.Error(), true))
					continue
				}
				log.Info("工具调用完成", "tool", use.Name)
				results = append(results, anthropicsdk.NewToolResultBlock(use.ID, out, false))
			}
		}
		if len(results) == 0 {
			return strings.TrimSpace(reply.String()), nil
		}
		messages = append(messages, resp.ToParam(), anthropicsdk.NewUserMessage(results...))
	}
	return "", llm.NewPromptError(providerName, 0, "工具调用轮数超过上限", nil)
}

func (c *Client) params(messages []anthropicsdk.MessageParam) anthropicsdk.MessageNewParams {
	params := anthropicsdk.MessageNewParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
	}
	if c.temp > 0 {
		params.Temperature = anthropicsdk.Float(c.temp)
	}
	if c.system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: c.system}}
	}
	if c.tools.Len() == 0 {
		return params
	}
	for _, def := range c.tools.Definitions() {
		schema := anthropicsdk.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := def.Parameters["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := def.Parameters["required"].([]string); ok {
			schema.Required = required
		}
		tool := anthropicsdk.ToolUnionParamOfTool(schema, def.Name)
		tool.OfTool.Description = anthropicsdk.String(def.Description)
		params.Tools = append(params.Tools, tool)
	}
	return params
}

func toPromptError(err error) error {
	var apiErr *anthropicsdk.Error
	if !errors.As(err, &apiErr) {
		return llm.NewPromptError(providerName, 0, "", err)
	}
	var retryAfter time.Duration
	if apiErr.Response != nil {
		retryAfter = llm.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	body := llm.NewErrorBody(apiErr.StatusCode, http.StatusText(apiErr.StatusCode), retryAfter)
	return llm.NewPromptError(providerName, apiErr.StatusCode, body, err)
}
