package llm

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// PromptErrorPrefix 是 PromptError 文本的固定前缀。
const PromptErrorPrefix = "Failed to prompt the model: "

// RetryInfoType 是 Google RPC 重试提示在 details 中的类型标识。
const RetryInfoType = "type.googleapis.com/google.rpc.RetryInfo"

// PromptError 表示一次模型调用失败，Body 可能是结构化的供应商错误 JSON。
type PromptError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

// NewPromptError 创建 PromptError。
func NewPromptError(provider string, status int, body string, cause error) *PromptError {
	return &PromptError{Provider: provider, Status: status, Body: body, Err: cause}
}

// Error 实现 error 接口。
func (e *PromptError) Error() string {
	if e == nil {
		return ""
	}
	body := e.Body
	if body == "" && e.Err != nil {
		body = e.Err.Error()
	}
	return PromptErrorPrefix + body
}

// Unwrap 返回底层错误。
func (e *PromptError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ProviderError 是从错误文本中解析出的供应商错误结构。
type ProviderError struct {
	Code    int64
	Message string
	Status  string
	details gjson.Result
}

// ParseProviderError 从任意错误中解析 {"error":{"code":...}} 结构。
// 不可解析或缺少数值 code 时返回 false。
func ParseProviderError(err error) (*ProviderError, bool) {
	if err == nil {
		return nil, false
	}
	raw := err.Error()
	var pe *PromptError
	if errors.As(err, &pe) && pe.Body != "" {
		raw = pe.Body
	}
	raw = strings.TrimPrefix(raw, PromptErrorPrefix)
	if !gjson.Valid(raw) {
		return nil, false
	}
	code := gjson.Get(raw, "error.code")
	if code.Type != gjson.Number {
		return nil, false
	}
	return &ProviderError{
		Code:    code.Int(),
		Message: gjson.Get(raw, "error.message").String(),
		Status:  gjson.Get(raw, "error.status").String(),
		details: gjson.Get(raw, "error.details"),
	}, true
}

// RateLimited 判断错误是否为 429。
func (p *ProviderError) RateLimited() bool {
	return p != nil && p.Code == 429
}

// RetryDelay 返回供应商在 RetryInfo 中建议的等待时长。
func (p *ProviderError) RetryDelay() (time.Duration, bool) {
	if p == nil || !p.details.IsArray() {
		return 0, false
	}
	var (
		delay time.Duration
		found bool
	)
	p.details.ForEach(func(_, detail gjson.Result) bool {
		var typ, hint string
		detail.ForEach(func(key, value gjson.Result) bool {
			switch key.String() {
			case "@type":
				typ = value.String()
			case "retryDelay":
				hint = value.String()
			}
			return true
		})
		if typ != RetryInfoType || hint == "" {
			return true
		}
		d, err := time.ParseDuration(hint)
		if err != nil || d < 0 {
			return true
		}
		delay, found = d, true
		return false
	})
	return delay, found
}

// NewErrorBody 构造与 Google API 相同形状的错误体。retryAfter 大于 0 时附带
// RetryInfo，供只能拿到 HTTP 状态码的适配器参与重试。
func NewErrorBody(code int, message string, retryAfter time.Duration) string {
	type detail struct {
		Type       string `json:"@type"`
		RetryDelay string `json:"retryDelay"`
	}
	inner := map[string]any{
		"code":    code,
		"message": message,
	}
	if retryAfter > 0 {
		inner["details"] = []detail{{Type: RetryInfoType, RetryDelay: retryAfter.String()}}
	}
	encoded, err := json.Marshal(map[string]any{"error": inner})
	if err != nil {
		return `{"error":{"code":` + strconv.Itoa(code) + `}}`
	}
	return string(encoded)
}

// ParseRetryAfter 解析 HTTP Retry-After 头中的秒数。
func ParseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(header, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
