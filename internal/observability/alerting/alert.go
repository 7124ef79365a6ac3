// Package alerting fans prompt failures that carry the alert attribute out to
// notification channels.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	xerrors "forgeflow/internal/errors"
)

// Channel 表示通知渠道。
type Channel string

const (
	ChannelLog      Channel = "log"
	ChannelTelegram Channel = "telegram"
)

// Event 描述一次需要告警的模型调用失败。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Trigger    string
	Metadata   map[string]string
	OccurredAt time.Time
}

// FromError 从错误构造告警事件，不需要告警时返回 false。
func FromError(trigger string, err error, at time.Time) (Event, bool) {
	if err == nil || !xerrors.ShouldAlert(err) {
		return Event{}, false
	}
	return Event{
		Code:       xerrors.CodeOf(err),
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		Trigger:    trigger,
		Metadata:   xerrors.MetadataOf(err),
		OccurredAt: at,
	}, true
}

// Text 渲染为纯文本消息。
func (e Event) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n事件: %s\n时间: %s\n%s", e.Severity, e.Code, e.Trigger, e.OccurredAt.Format(time.RFC3339), e.Message)
	for _, k := range slices.Sorted(maps.Keys(e.Metadata)) {
		fmt.Fprintf(&b, "\n- %s: %s", k, e.Metadata[k])
	}
	return b.String()
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 把事件投递到每个渠道，同一渠道只保留最后注册的通知器。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建 FanoutDispatcher，忽略 nil 通知器。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Len 返回渠道数量。
func (d *FanoutDispatcher) Len() int {
	if d == nil {
		return 0
	}
	return len(d.notifiers)
}

// Notify 将事件广播至所有渠道，汇总各渠道错误。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 把告警写入日志，通常指向审计流。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 实现 Notifier。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 实现 Notifier。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Logger == nil {
		return nil
	}
	n.Logger.ErrorContext(ctx, "alert",
		"code", string(event.Code),
		"severity", string(event.Severity),
		"trigger", event.Trigger,
		"message", event.Message,
	)
	return nil
}

// ChatSender 向聊天会话发送文本。
type ChatSender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// TelegramNotifier 通过机器人把告警发送到指定会话。
type TelegramNotifier struct {
	Sender ChatSender
	ChatID int64
}

// Channel 实现 Notifier。
func (n *TelegramNotifier) Channel() Channel { return ChannelTelegram }

// Notify 实现 Notifier，未配置时跳过。
func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChatID == 0 {
		return nil
	}
	return n.Sender.Send(ctx, n.ChatID, event.Text())
}
