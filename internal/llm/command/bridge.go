// Package command runs an external program as a model. The prompt is written
// to the program's stdin as JSON and the reply is read back from stdout.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	xerrors "forgeflow/internal/errors"
	"forgeflow/internal/llm"
)

const providerName = "command"

// Config 描述外部程序。
type Config struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Client 通过调用外部程序完成推理。
type Client struct {
	command string
	args    []string
	dir     string
	env     []string
}

type request struct {
	Prompt    string `json:"prompt"`
	Timestamp int64  `json:"timestamp"`
}

// NewClient 创建外部程序客户端。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未指定外部模型程序")
	}
	return &Client{
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		dir:     cfg.Dir,
		env:     append([]string(nil), cfg.Env...),
	}, nil
}

// Prompt 实现 llm.Model。程序输出 {"response": "..."} 表示成功，
// 输出 {"error": {...}} 时原样作为结构化错误返回。
func (c *Client) Prompt(ctx context.Context, text string) (string, error) {
	encoded, err := json.Marshal(request{Prompt: text, Timestamp: time.Now().Unix()})
	if err != nil {
		return "", llm.NewPromptError(providerName, 0, "", err)
	}

	cmd := exec.CommandContext(ctx, c.command, c.args...)
	if c.dir != "" {
		cmd.Dir = c.dir
	}
	if len(c.env) > 0 {
		cmd.Env = append(cmd.Environ(), c.env...)
	}
	cmd.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out := bytes.TrimSpace(stdout.Bytes())
	if gjson.ValidBytes(out) && gjson.GetBytes(out, "error").Exists() {
		return "", llm.NewPromptError(providerName, 0, string(out), runErr)
	}
	if runErr != nil {
		return "", llm.NewPromptError(providerName, 0,
			"执行外部模型程序失败: "+strings.TrimSpace(stderr.String()), runErr)
	}
	if !gjson.ValidBytes(out) {
		return "", llm.NewPromptError(providerName, 0, "外部模型程序输出不是合法的 JSON", nil)
	}
	return gjson.GetBytes(out, "response").String(), nil
}

// ResolvePath 根据工作目录推导程序路径，仅处理相对路径中包含目录的情况。
func ResolvePath(baseDir, command string) string {
	if command == "" || filepath.IsAbs(command) || baseDir == "" {
		return command
	}
	if !strings.ContainsRune(command, filepath.Separator) {
		return command
	}
	return filepath.Join(baseDir, command)
}
