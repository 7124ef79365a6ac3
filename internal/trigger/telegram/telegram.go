// Package telegram adapts the Telegram Bot API long poll to the
// trigger.UpdateSource contract. The bot token is supplied by the caller.
package telegram

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	xerrors "forgeflow/internal/errors"
	"forgeflow/internal/trigger"
)

// Config 描述机器人连接参数。
type Config struct {
	Token string
	// Endpoint 形如 https://api.telegram.org/bot%s/%s，为空时使用官方地址。
	Endpoint string
	// Timeout 为长轮询秒数。
	Timeout int
}

// Source 通过长轮询接收机器人消息。
type Source struct {
	bot     *tgbotapi.BotAPI
	timeout int
	stop    chan struct{}
	once    sync.Once
}

// New 创建机器人并校验 token。
func New(cfg Config) (*Source, error) {
	if cfg.Token == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Telegram bot token 不能为空")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAuth, err, "Telegram 机器人认证失败")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30
	}
	return &Source{bot: bot, timeout: timeout, stop: make(chan struct{})}, nil
}

// Updates 实现 trigger.UpdateSource。
func (s *Source) Updates(ctx context.Context) (<-chan trigger.ChatMessage, error) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.timeout
	updates := s.bot.GetUpdatesChan(u)

	out := make(chan trigger.ChatMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				msg, ok := Convert(upd)
				if !ok {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				case <-s.stop:
					return
				}
			}
		}
	}()
	return out, nil
}

// Stop 实现 trigger.UpdateSource。
func (s *Source) Stop() {
	s.once.Do(func() {
		close(s.stop)
		s.bot.StopReceivingUpdates()
	})
}

// Send 向指定会话发送文本消息，供告警使用。
func (s *Source) Send(_ context.Context, chatID int64, text string) error {
	if _, err := s.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return xerrors.Wrap(xerrors.CodeIO, err, "发送 Telegram 消息失败")
	}
	return nil
}

// Convert 把 Telegram 更新转换为事件负载，非消息更新返回 false。
func Convert(upd tgbotapi.Update) (trigger.ChatMessage, bool) {
	m := upd.Message
	if m == nil {
		return trigger.ChatMessage{}, false
	}
	msg := trigger.ChatMessage{
		MessageID: m.MessageID,
		Text:      m.Text,
		Date:      int64(m.Date),
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if m.From != nil {
		msg.Username = m.From.UserName
		msg.FirstName = m.From.FirstName
	}
	return msg, true
}
