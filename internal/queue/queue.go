package queue

import (
	"context"
	"errors"
)

// ErrClosed 表示队列已关闭。
var ErrClosed = errors.New("队列已关闭")

// Handler 处理一条消息。返回错误时消息会重新入队。
type Handler func(ctx context.Context, body []byte) error

// Producer 负责向队列投递消息。
type Producer interface {
	Publish(ctx context.Context, body []byte) error
	Close() error
}

// Consumer 负责从队列中消费消息，阻塞直到 ctx 结束或发生不可恢复的错误。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
