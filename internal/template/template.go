// Package template renders handlebars prompt templates against JSON data.
// Values are inserted without HTML escaping and the verbatim helper dumps any
// value as compact JSON.
package template

import (
	"encoding/json"
	"os"

	"github.com/aymerick/raymond"

	xerrors "forgeflow/internal/errors"
)

// Template 是解析后的提示词模板，可并发渲染。
type Template struct {
	source string
	tpl    *raymond.Template
}

// Parse 立即解析模板，语法错误以 TEMPLATE_FAILURE 返回。
func Parse(source string) (*Template, error) {
	tpl, err := raymond.Parse(source)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTemplate, err, "解析模板失败", xerrors.WithMetadata("stage", "parse"))
	}
	tpl.RegisterHelper("verbatim", verbatim)
	return &Template{source: source, tpl: tpl}, nil
}

// ParseFile 读取并解析模板文件。
func ParseFile(path string) (*Template, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeIO, err, "读取模板文件失败", xerrors.WithMetadata("path", path))
	}
	return Parse(string(content))
}

// Source 返回模板原文。
func (t *Template) Source() string {
	return t.source
}

// Render 以 data 的 JSON 投影作为上下文渲染模板。
func (t *Template) Render(data any) (string, error) {
	ctx, err := project(data)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTemplate, err, "模板上下文无法序列化", xerrors.WithMetadata("stage", "render"))
	}
	out, err := t.tpl.Exec(ctx)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTemplate, err, "渲染模板失败", xerrors.WithMetadata("stage", "render"))
	}
	return out, nil
}

// project 把任意值转换为 JSON 投影，并把字符串叶子标记为安全字符串以跳过转义。
func project(data any) (any, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, err
	}
	return unescaped(decoded), nil
}

func unescaped(v any) any {
	switch val := v.(type) {
	case string:
		return raymond.SafeString(val)
	case map[string]any:
		for k, item := range val {
			val[k] = unescaped(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = unescaped(item)
		}
		return val
	default:
		return v
	}
}

func verbatim(value any) raymond.SafeString {
	encoded, err := json.Marshal(value)
	if err != nil {
		return raymond.SafeString("null")
	}
	return raymond.SafeString(encoded)
}
