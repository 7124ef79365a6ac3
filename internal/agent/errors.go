package agent

import (
	"strings"

	xerrors "forgeflow/internal/errors"
)

// BuildError 表示 Agent 缺少必填配置。
type BuildError struct {
	Missing []string
}

// Error 实现 error。
func (e *BuildError) Error() string {
	return "构建 Agent 失败，缺少必填项: " + strings.Join(e.Missing, ", ")
}

// Unwrap 使 BuildError 可以按 BUILD_FAILURE 错误码匹配。
func (e *BuildError) Unwrap() error {
	return xerrors.New(xerrors.CodeBuild, e.Error(),
		xerrors.WithMetadata("missing", strings.Join(e.Missing, ",")))
}
