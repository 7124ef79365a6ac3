package trigger

import (
	"context"
	"time"

	"forgeflow/pkg/logger"
)

const (
	// NewEmailEvent 是邮箱监听触发器产生的事件名。
	NewEmailEvent = "NewEmail"
	// DefaultMailboxInterval 是两次检查未读邮件的间隔。
	DefaultMailboxInterval = 120 * time.Second
	// DefaultMailboxQuery 是检查未读邮件使用的查询。
	DefaultMailboxQuery = "is:unread"
	// MailboxReadonlyScope 是读取邮箱需要的授权范围。
	MailboxReadonlyScope = "https://www.googleapis.com/auth/gmail.readonly"
)

// Mailbox 抽象邮箱 API。
type Mailbox interface {
	// List 返回匹配 query 的消息 ID。
	List(ctx context.Context, query string) ([]string, error)
	// Get 返回完整消息，作为事件负载。
	Get(ctx context.Context, id string) (any, error)
}

// MailboxWatch 定期检查未读邮件，每封邮件产生一个 NewEmail 事件。
type MailboxWatch struct {
	Mailbox  Mailbox
	Interval time.Duration
	Query    string
}

// NewMailboxWatch 使用默认间隔与查询创建触发器。
func NewMailboxWatch(mailbox Mailbox) *MailboxWatch {
	return &MailboxWatch{Mailbox: mailbox, Interval: DefaultMailboxInterval, Query: DefaultMailboxQuery}
}

// RequiredScopes 返回构建前需要向 ContextHub 注册的范围。
func (w *MailboxWatch) RequiredScopes() []string {
	return []string{MailboxReadonlyScope}
}

// Name 实现 Trigger。
func (w *MailboxWatch) Name() string {
	return "mailbox"
}

// Launch 实现 Trigger。首次检查立即进行。
func (w *MailboxWatch) Launch(ctx context.Context, sink chan<- Event, shutdown <-chan struct{}) (*Handle, error) {
	if w.Mailbox == nil {
		return nil, activationError(w.Name(), nil, "未配置邮箱客户端")
	}
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultMailboxInterval
	}
	query := w.Query
	if query == "" {
		query = DefaultMailboxQuery
	}
	log := logger.Named("trigger").With("trigger", w.Name())

	return Go(w.Name(), func() error {
		callCtx, cancel := StopContext(ctx, shutdown)
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if !w.poll(callCtx, sink, shutdown, query) {
				log.Info("邮箱监听触发器停止")
				return nil
			}
			select {
			case <-shutdown:
				log.Info("邮箱监听触发器收到停止信号")
				return nil
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}), nil
}

// poll 检查一次邮箱。返回 false 表示应停止。
func (w *MailboxWatch) poll(ctx context.Context, sink chan<- Event, shutdown <-chan struct{}, query string) bool {
	log := logger.Named("trigger").With("trigger", w.Name())
	ids, err := w.Mailbox.List(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Warn("查询未读邮件失败", "error", err)
		return true
	}
	for _, id := range ids {
		msg, err := w.Mailbox.Get(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			log.Warn("读取邮件失败", "message_id", id, "error", err)
			continue
		}
		if !Emit(ctx, sink, shutdown, NewEvent(NewEmailEvent, msg)) {
			return false
		}
	}
	return true
}
