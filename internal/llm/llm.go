package llm

import "context"

// Model 是 Agent 驱动的文本补全能力。
type Model interface {
	Prompt(ctx context.Context, text string) (string, error)
}

// ModelFunc 允许直接使用函数实现 Model。
type ModelFunc func(ctx context.Context, text string) (string, error)

// Prompt 实现 Model 接口。
func (f ModelFunc) Prompt(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}
