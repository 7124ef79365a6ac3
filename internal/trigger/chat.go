package trigger

import (
	"context"

	"forgeflow/pkg/logger"
)

// ChatMessageEvent 是聊天监听触发器产生的事件名。
const ChatMessageEvent = "TelegramMessage"

// ChatMessage 是聊天消息事件的负载。
type ChatMessage struct {
	MessageID int    `json:"message_id"`
	ChatID    int64  `json:"chat_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	Text      string `json:"text"`
	Date      int64  `json:"date"`
}

// UpdateSource 抽象聊天机器人的长轮询更新流。
type UpdateSource interface {
	// Updates 开始接收消息。通道关闭表示来源结束。
	Updates(ctx context.Context) (<-chan ChatMessage, error)
	// Stop 停止接收。
	Stop()
}

// ChatListener 把收到的文本消息转换为事件。
type ChatListener struct {
	Source UpdateSource
	Event  string
}

// NewChatListener 创建聊天监听触发器。
func NewChatListener(source UpdateSource) *ChatListener {
	return &ChatListener{Source: source, Event: ChatMessageEvent}
}

// Name 实现 Trigger。
func (c *ChatListener) Name() string {
	return "chat"
}

// Launch 实现 Trigger。
func (c *ChatListener) Launch(ctx context.Context, sink chan<- Event, shutdown <-chan struct{}) (*Handle, error) {
	if c.Source == nil {
		return nil, activationError(c.Name(), nil, "未配置聊天消息来源")
	}
	updates, err := c.Source.Updates(ctx)
	if err != nil {
		return nil, activationError(c.Name(), err, "启动聊天消息监听失败")
	}
	name := c.Event
	if name == "" {
		name = ChatMessageEvent
	}
	log := logger.Named("trigger").With("trigger", c.Name())

	return Go(c.Name(), func() error {
		defer c.Source.Stop()
		log.Info("聊天监听触发器已启动")
		for {
			select {
			case <-shutdown:
				log.Info("聊天监听触发器收到停止信号")
				return nil
			case <-ctx.Done():
				return nil
			case msg, ok := <-updates:
				if !ok {
					log.Info("聊天消息来源已关闭")
					return nil
				}
				if msg.Text == "" {
					continue
				}
				if !Emit(ctx, sink, shutdown, NewEvent(name, msg)) {
					return nil
				}
			}
		}
	}), nil
}
