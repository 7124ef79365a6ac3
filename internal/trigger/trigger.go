package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	xerrors "forgeflow/internal/errors"
)

// Trigger 拥有一个产生事件的后台任务。
type Trigger interface {
	Name() string
	// Launch 启动后台任务。sink 为共享的有界通道，shutdown 关闭即表示停止。
	Launch(ctx context.Context, sink chan<- Event, shutdown <-chan struct{}) (*Handle, error)
}

// Handle 表示已启动的后台任务。
type Handle struct {
	name string
	done chan struct{}
	err  error
}

// Go 在新的 goroutine 中运行 fn，并把返回值或 panic 记录到 Handle。
func Go(name string, fn func() error) *Handle {
	h := &Handle{name: name, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("触发器 %s 任务 panic: %v", name, r)
			}
		}()
		h.err = fn()
	}()
	return h
}

// Name 返回触发器名称。
func (h *Handle) Name() string {
	return h.name
}

// Done 在任务结束后关闭。
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait 阻塞直到任务结束，返回任务错误。
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// WaitTimeout 最多等待 d，超时返回 TIMEOUT 错误。
func (h *Handle) WaitTimeout(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.err
	case <-timer.C:
		return xerrors.New(xerrors.CodeTimeout, fmt.Sprintf("等待触发器 %s 结束超时", h.name))
	}
}

// Broadcast 是只关闭一次的停止信号，不需要确认。
type Broadcast struct {
	once sync.Once
	ch   chan struct{}
}

// NewBroadcast 创建停止广播。
func NewBroadcast() *Broadcast {
	return &Broadcast{ch: make(chan struct{})}
}

// Subscribe 返回一个在广播时关闭的通道。
func (b *Broadcast) Subscribe() <-chan struct{} {
	return b.ch
}

// Close 发送广播，可重复调用。
func (b *Broadcast) Close() {
	b.once.Do(func() { close(b.ch) })
}

// Closed 判断是否已经广播。
func (b *Broadcast) Closed() bool {
	select {
	case <-b.ch:
		return true
	default:
		return false
	}
}

// Emit 阻塞地把事件写入 sink。收到停止信号或 ctx 结束时返回 false，
// 调用方应视为停止。
func Emit(ctx context.Context, sink chan<- Event, shutdown <-chan struct{}, ev Event) bool {
	select {
	case <-shutdown:
		return false
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case sink <- ev:
		return true
	case <-shutdown:
		return false
	case <-ctx.Done():
		return false
	}
}

// StopContext 返回一个在 shutdown 关闭时取消的 ctx，用于中止进行中的外部调用。
func StopContext(parent context.Context, shutdown <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func activationError(name string, cause error, message string) error {
	if cause == nil {
		return xerrors.New(xerrors.CodeActivation, message, xerrors.WithMetadata("trigger", name))
	}
	return xerrors.Wrap(xerrors.CodeActivation, cause, message, xerrors.WithMetadata("trigger", name))
}
