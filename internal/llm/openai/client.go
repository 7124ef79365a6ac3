// Package openai adapts the OpenAI Chat Completions API to llm.Model. When a
// tool registry is supplied the client runs the function-calling loop itself
// and returns the final assistant text.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	xerrors "forgeflow/internal/errors"
	"forgeflow/internal/llm"
	"forgeflow/internal/tools"
	"forgeflow/pkg/logger"
)

const (
	defaultModelName = openaisdk.ChatModelGPT4oMini
	defaultTimeout   = 60 * time.Second
	defaultMaxRounds = 8

	providerName = "openai"
)

// Config 描述调用 OpenAI 所需的信息。
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Temperature  float64
	Timeout      time.Duration
	// MaxToolRounds 限制单次 Prompt 中工具调用的轮数。
	MaxToolRounds int
}

// Client 通过官方 SDK 调用 OpenAI。
type Client struct {
	client    openaisdk.Client
	model     string
	system    string
	temp      float64
	maxRounds int
	tools     *tools.Registry
}

// NewClient 创建客户端。SDK 自带的重试被关闭，重试统一由 retry 包处理。
func NewClient(cfg Config, registry *tools.Registry) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供 OpenAI API Key")
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

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = defaultMaxRounds
	}

	return &Client{
		client:    openaisdk.NewClient(opts...),
		model:     model,
		system:    strings.TrimSpace(cfg.SystemPrompt),
		temp:      cfg.Temperature,
		maxRounds: rounds,
		tools:     registry,
	}, nil
}

// Prompt 实现 llm.Model。
func (c *Client) Prompt(ctx context.Context, text string) (string, error) {
	var messages []openaisdk.ChatCompletionMessageParamUnion
	if c.system != "" {
		messages = append(messages, openaisdk.SystemMessage(c.system))
	}
	messages = append(messages, openaisdk.UserMessage(text))

	log := logger.Named("llm").With("provider", providerName)
	for round := 0; round < c.maxRounds; round++ {
		resp, err := c.client.Chat.Completions.New(ctx, c.params(messages))
		if err != nil {
			return "", toPromptError(err)
		}
		if len(resp.Choices) == 0 {
			return "", llm.NewPromptError(providerName, 0, "OpenAI 响应中没有有效的 choices", nil)
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 || c.tools == nil {
			return strings.TrimSpace(msg.Content), nil
		}

		messages = append(messages, msg.ToParam())
		for _, call := range msg.ToolCalls {
			out, err := c.tools.Call(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			if err != nil {
				log.Warn("工具调用失败", "tool", call.Function.Name, "error", err)
				out = "error: " + err.Error()
			} else {
				log.Info("工具调用完成", "tool", call.Function.Name)
			}
			messages = append(messages, openaisdk.ToolMessage(out, call.ID))
		}
	}
	return "", llm.NewPromptError(providerName, 0, "工具调用轮数超过上限", nil)
}

func (c *Client) params(messages []openaisdk.ChatCompletionMessageParamUnion) openaisdk.ChatCompletionNewParams {
	params := openaisdk.ChatCompletionNewParams{
		Messages: messages,
		Model:    c.model,
	}
	if c.temp > 0 {
		params.Temperature = openaisdk.Float(c.temp)
	}
	if c.tools.Len() == 0 {
		return params
	}
	defs := c.tools.Definitions()
	params.Tools = make([]openaisdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		params.Tools = append(params.Tools, openaisdk.ChatCompletionToolParam{
			Function: openaisdk.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openaisdk.String(def.Description),
				Parameters:  def.Parameters,
			},
		})
	}
	return params
}

// toPromptError 把 SDK 错误转换为带结构化错误体的 PromptError，
// HTTP 429 与 Retry-After 因此可以被重试装饰器识别。
func toPromptError(err error) error {
	var apiErr *openaisdk.Error
	if !errors.As(err, &apiErr) {
		return llm.NewPromptError(providerName, 0, "", err)
	}
	var retryAfter time.Duration
	if apiErr.Response != nil {
		retryAfter = llm.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	message := apiErr.Message
	if message == "" {
		message = http.StatusText(apiErr.StatusCode)
	}
	body := llm.NewErrorBody(apiErr.StatusCode, message, retryAfter)
	return llm.NewPromptError(providerName, apiErr.StatusCode, body, err)
}
