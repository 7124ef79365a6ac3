package tools

import (
	"context"
	"encoding/json"
	"strings"

	xerrors "forgeflow/internal/errors"
)

// MarkReadName 是标记已读工具的名称。
const MarkReadName = "gmail_mark_read"

const (
	unreadLabel = "UNREAD"
	// MailboxModifyScope 是修改邮件标签需要的授权范围。
	MailboxModifyScope = "https://www.googleapis.com/auth/gmail.modify"
)

// LabelModifier 移除邮件上的标签。
type LabelModifier interface {
	RemoveLabels(ctx context.Context, id string, labels ...string) error
}

// MarkRead 通过移除 UNREAD 标签把邮件标记为已读。
type MarkRead struct {
	Labels LabelModifier
}

// NewMarkRead 创建 MarkRead。
func NewMarkRead(labels LabelModifier) *MarkRead {
	return &MarkRead{Labels: labels}
}

// RequiredScopes 返回构建前需要向 ContextHub 注册的范围。
func (m *MarkRead) RequiredScopes() []string {
	return []string{MailboxModifyScope}
}

// Definition 实现 Tool。
func (m *MarkRead) Definition() Definition {
	return Definition{
		Name:         MarkReadName,
		Description:  "Mark a specific message as read in Gmail by removing the UNREAD label.",
		Parameters:   stringSchema("message_id", "The ID of the message to mark as read."),
		Capabilities: []Capability{CapabilityNetwork},
	}
}

// Call 实现 Tool。
func (m *MarkRead) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		MessageID string `json:"message_id"`
	}
	if err := decodeArgs(MarkReadName, raw, &args); err != nil {
		return "", err
	}
	id := strings.TrimSpace(args.MessageID)
	if id == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "message_id 不能为空")
	}
	if m.Labels == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置邮箱客户端")
	}
	if err := m.Labels.RemoveLabels(ctx, id, unreadLabel); err != nil {
		return "", xerrors.Wrap(xerrors.CodeIO, err, "标记邮件已读失败", xerrors.WithMetadata("message_id", id))
	}
	return "Message " + id + " marked as read", nil
}
