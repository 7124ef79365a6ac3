package trigger

import (
	"context"
	"time"

	"forgeflow/pkg/logger"
)

// Poll 按固定间隔产生同名事件。
type Poll struct {
	Event    string
	Interval time.Duration
	// HotStart 为 true 时启动后立即产生第一个事件，否则等待一个间隔。
	HotStart bool
}

// NewPoll 创建轮询触发器，默认冷启动。
func NewPoll(event string, interval time.Duration) *Poll {
	return &Poll{Event: event, Interval: interval}
}

// WithHotStart 设置是否热启动。
func (p *Poll) WithHotStart(hot bool) *Poll {
	p.HotStart = hot
	return p
}

// Name 实现 Trigger。
func (p *Poll) Name() string {
	return "poll:" + p.Event
}

// Launch 实现 Trigger。
func (p *Poll) Launch(ctx context.Context, sink chan<- Event, shutdown <-chan struct{}) (*Handle, error) {
	if p.Event == "" {
		return nil, activationError(p.Name(), nil, "轮询事件名称为空")
	}
	if p.Interval <= 0 {
		return nil, activationError(p.Name(), nil, "轮询间隔必须大于 0")
	}
	log := logger.Named("trigger").With("trigger", p.Name())

	return Go(p.Name(), func() error {
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		log.Info("轮询触发器已启动", "interval", p.Interval, "hot_start", p.HotStart)

		if p.HotStart && !Emit(ctx, sink, shutdown, NewEvent(p.Event, nil)) {
			log.Info("轮询触发器已停止")
			return nil
		}
		for {
			select {
			case <-shutdown:
				log.Info("轮询触发器收到停止信号")
				return nil
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				log.Debug("轮询触发器产生事件")
				if !Emit(ctx, sink, shutdown, NewEvent(p.Event, nil)) {
					log.Info("事件通道已关闭，轮询触发器停止")
					return nil
				}
			}
		}
	}), nil
}
