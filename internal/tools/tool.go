package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	xerrors "forgeflow/internal/errors"
)

// Capability 描述工具需要访问的外部资源。
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
)

// Definition 是暴露给模型的工具描述，Parameters 为 JSON Schema。
type Definition struct {
	Name         string
	Description  string
	Parameters   map[string]any
	Capabilities []Capability
}

// Tool 是可被模型调用的动作。
type Tool interface {
	Definition() Definition
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Policy 限制可注册工具的能力。Allowed 为空表示不限制。
type Policy struct {
	Allowed []Capability `yaml:"allowed"`
	Denied  []Capability `yaml:"denied"`
}

// Permits 校验工具声明的能力是否被允许。
func (p Policy) Permits(def Definition) error {
	for _, c := range def.Capabilities {
		if slices.Contains(p.Denied, c) {
			return fmt.Errorf("工具 %s 的能力 %s 被禁止", def.Name, c)
		}
		if len(p.Allowed) > 0 && !slices.Contains(p.Allowed, c) {
			return fmt.Errorf("工具 %s 的能力 %s 未被允许", def.Name, c)
		}
	}
	return nil
}

// Registry 按注册顺序保存工具。
type Registry struct {
	mu     sync.RWMutex
	policy Policy
	tools  map[string]Tool
	order  []string
}

// NewRegistry 创建工具注册表。
func NewRegistry(policy Policy) *Registry {
	return &Registry{policy: policy, tools: make(map[string]Tool)}
}

// Register 注册工具，名称重复或能力不被允许时返回 INVALID_ARGUMENT。
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具不能为空")
	}
	def := tool.Definition()
	if def.Name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
	}
	if err := r.policy.Permits(def); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "工具能力校验失败", xerrors.WithMetadata("tool", def.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具已注册", xerrors.WithMetadata("tool", def.Name))
	}
	r.tools[def.Name] = tool
	r.order = append(r.order, def.Name)
	return nil
}

// Get 按名称查找工具。
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Len 返回已注册工具数量。
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Definitions 按注册顺序返回工具描述。
func (r *Registry) Definitions() []Definition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Call 调用指定工具。
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", xerrors.New(xerrors.CodeNotFound, "未知的工具: "+name, xerrors.WithMetadata("tool", name))
	}
	return tool.Call(ctx, args)
}

func decodeArgs(tool string, raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "工具参数格式错误", xerrors.WithMetadata("tool", tool))
	}
	return nil
}

func stringSchema(field, description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			field: map[string]any{
				"type":        "string",
				"description": description,
			},
		},
		"required": []string{field},
	}
}
