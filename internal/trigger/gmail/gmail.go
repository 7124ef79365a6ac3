// Package gmail adapts the Gmail REST API to the trigger.Mailbox contract and
// exposes the label mutation used by the mark-read tool.
package gmail

import (
	"context"
	"net/http"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	xerrors "forgeflow/internal/errors"
)

// Scopes used by forgeflow components.
const (
	ReadonlyScope = gmailapi.GmailReadonlyScope
	ModifyScope   = gmailapi.GmailModifyScope
	UnreadLabel   = "UNREAD"
)

// Client 通过 Gmail API 访问某个用户的邮箱。
type Client struct {
	svc  *gmailapi.Service
	user string
}

// New 使用已授权的 HTTP 客户端创建 Gmail 客户端。opts 可覆盖 endpoint 等参数。
func New(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	if httpClient == nil {
		return nil, xerrors.New(xerrors.CodeAuth, "Gmail 客户端需要已授权的 HTTP 客户端")
	}
	all := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := gmailapi.NewService(ctx, all...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 Gmail 服务失败")
	}
	return &Client{svc: svc, user: "me"}, nil
}

// List 实现 trigger.Mailbox，返回第一页匹配消息的 ID。
func (c *Client) List(ctx context.Context, query string) ([]string, error) {
	resp, err := c.svc.Users.Messages.List(c.user).Q(query).Context(ctx).Do()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeIO, err, "查询邮件列表失败")
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		if msg != nil && msg.Id != "" {
			ids = append(ids, msg.Id)
		}
	}
	return ids, nil
}

// Get 实现 trigger.Mailbox，返回完整的 *gmail.Message。
func (c *Client) Get(ctx context.Context, id string) (any, error) {
	msg, err := c.svc.Users.Messages.Get(c.user, id).Context(ctx).Do()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeIO, err, "读取邮件失败", xerrors.WithMetadata("message_id", id))
	}
	return msg, nil
}

// RemoveLabels 从邮件上移除标签。
func (c *Client) RemoveLabels(ctx context.Context, id string, labels ...string) error {
	req := &gmailapi.ModifyMessageRequest{RemoveLabelIds: labels}
	if _, err := c.svc.Users.Messages.Modify(c.user, id, req).Context(ctx).Do(); err != nil {
		return xerrors.Wrap(xerrors.CodeIO, err, "修改邮件标签失败", xerrors.WithMetadata("message_id", id))
	}
	return nil
}
