package queue

import (
	"context"
	"sync"
)

// MemoryQueue 使用 channel 模拟消息队列，适用于单进程部署和测试。
type MemoryQueue struct {
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan []byte, size), done: make(chan struct{})}
}

// Publish 将消息投递到队列，队列满时阻塞。
func (q *MemoryQueue) Publish(ctx context.Context, body []byte) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	msg := append([]byte(nil), body...)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	case q.ch <- msg:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的消息。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case body := <-q.ch:
					if err := handler(ctx, body); err != nil {
						q.requeue(body)
					}
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		wg.Wait()
		return ctx.Err()
	case <-q.done:
		wg.Wait()
		return ErrClosed
	}
}

// requeue 尽力把消息放回队列，队列已满时丢弃。
func (q *MemoryQueue) requeue(body []byte) {
	select {
	case q.ch <- body:
	default:
	}
}

// Len 返回队列中待消费的消息数。
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close 关闭内存队列，未消费的消息被丢弃。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
