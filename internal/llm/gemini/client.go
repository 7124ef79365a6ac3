// Package gemini calls the Gemini generateContent REST endpoint. Error
// responses are returned verbatim inside llm.PromptError so the retry
// decorator can read the structured error code and RetryInfo hints.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	xerrors "forgeflow/internal/errors"
	"forgeflow/internal/llm"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultModelName = "gemini-2.0-flash"
	defaultTimeout   = 60 * time.Second

	providerName = "gemini"
	maxErrorBody = 64 << 10
)

// Config 描述调用 Gemini API 所需的信息。
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Temperature  float64
	Timeout      time.Duration
}

// Client 通过 HTTP 调用 Gemini。
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	system      string
	temperature float64
	httpClient  *http.Client
}

// NewClient 根据配置创建 Gemini 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供 Gemini API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		system:      strings.TrimSpace(cfg.SystemPrompt),
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// Prompt 实现 llm.Model。
func (c *Client) Prompt(ctx context.Context, text string) (string, error) {
	payload, err := c.buildPayload(text)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/models/" + url.PathEscape(c.model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", llm.NewPromptError(providerName, 0, "", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", llm.NewPromptError(providerName, 0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody*16))
	if err != nil {
		return "", llm.NewPromptError(providerName, resp.StatusCode, "", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return "", llm.NewPromptError(providerName, resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}

	if !gjson.ValidBytes(body) {
		return "", llm.NewPromptError(providerName, resp.StatusCode, "Gemini 响应不是合法的 JSON", nil)
	}
	var builder strings.Builder
	for _, part := range gjson.GetBytes(body, "candidates.0.content.parts").Array() {
		builder.WriteString(part.Get("text").String())
	}
	content := strings.TrimSpace(builder.String())
	if content == "" {
		reason := gjson.GetBytes(body, "candidates.0.finishReason").String()
		if reason == "" {
			reason = gjson.GetBytes(body, "promptFeedback.blockReason").String()
		}
		return "", llm.NewPromptError(providerName, resp.StatusCode, "Gemini 响应内容为空: "+reason, nil)
	}
	return content, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

func (c *Client) buildPayload(text string) ([]byte, error) {
	body := map[string]any{
		"contents": []content{{Role: "user", Parts: []part{{Text: text}}}},
	}
	if c.system != "" {
		body["systemInstruction"] = content{Parts: []part{{Text: c.system}}}
	}
	if c.temperature > 0 {
		body["generationConfig"] = map[string]any{"temperature": c.temperature}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewPromptError(providerName, 0, "", err)
	}
	return encoded, nil
}
