package trigger

import (
	"context"
	"encoding/json"
	"errors"

	"forgeflow/internal/queue"
	"forgeflow/pkg/logger"
)

// QueueEvent 是队列消息缺少名称时使用的事件名。
const QueueEvent = "QueueMessage"

var errStopped = errors.New("trigger stopped")

// QueueListener 把消息队列中的消息转换为事件，单协程消费以保持顺序。
type QueueListener struct {
	Consumer queue.Consumer
	// Event 是消息未携带 name 字段时的默认事件名。
	Event string
}

// NewQueueListener 创建队列触发器。
func NewQueueListener(consumer queue.Consumer, event string) *QueueListener {
	if event == "" {
		event = QueueEvent
	}
	return &QueueListener{Consumer: consumer, Event: event}
}

// Name 实现 Trigger。
func (l *QueueListener) Name() string {
	return "queue:" + l.Event
}

// Launch 实现 Trigger。
func (l *QueueListener) Launch(ctx context.Context, sink chan<- Event, shutdown <-chan struct{}) (*Handle, error) {
	if l.Consumer == nil {
		return nil, activationError(l.Name(), nil, "未配置队列消费者")
	}
	log := logger.Named("trigger").With("trigger", l.Name())

	return Go(l.Name(), func() error {
		consumeCtx, cancel := StopContext(ctx, shutdown)
		defer cancel()
		log.Info("队列触发器已启动")

		err := l.Consumer.Consume(consumeCtx, 1, func(hctx context.Context, body []byte) error {
			if !Emit(hctx, sink, shutdown, l.decode(body)) {
				cancel()
				return errStopped
			}
			return nil
		})
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
			log.Info("队列触发器停止")
			return nil
		}
		return err
	}), nil
}

// decode 支持 {"name":..,"payload":..} 形式，其它内容整体作为负载。
func (l *QueueListener) decode(body []byte) Event {
	var envelope struct {
		Name    string          `json:"name"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Name != "" {
		var payload any
		if len(envelope.Payload) > 0 {
			_ = json.Unmarshal(envelope.Payload, &payload)
		}
		return NewEvent(envelope.Name, payload)
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		payload = string(body)
	}
	return NewEvent(l.Event, payload)
}
