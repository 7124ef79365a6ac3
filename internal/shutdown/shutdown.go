// Package shutdown provides the handlers an agent races its event loop
// against: interrupt signals, a fixed timer, or plain context cancellation.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forgeflow/pkg/logger"
)

// Handler 阻塞直到应当停止。返回 nil 表示收到了停止信号，
// 返回 ctx 错误表示等待被取消。
type Handler interface {
	Wait(ctx context.Context) error
}

// HandlerFunc 允许直接使用函数实现 Handler。
type HandlerFunc func(ctx context.Context) error

// Wait 实现 Handler。
func (f HandlerFunc) Wait(ctx context.Context) error {
	return f(ctx)
}

// SignalHandler 等待 SIGINT 或 SIGTERM。
type SignalHandler struct {
	signals []os.Signal
}

// Signal 返回监听中断信号的处理器。
func Signal(signals ...os.Signal) *SignalHandler {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	return &SignalHandler{signals: signals}
}

// Wait 实现 Handler。
func (s *SignalHandler) Wait(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, s.signals...)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		logger.Named("shutdown").Info("收到中断信号，开始优雅停机", "signal", sig.String())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TimerHandler 在固定时长后触发停机。
type TimerHandler struct {
	after time.Duration
}

// Timer 返回定时停机处理器。
func Timer(after time.Duration) *TimerHandler {
	return &TimerHandler{after: after}
}

// Wait 实现 Handler。
func (t *TimerHandler) Wait(ctx context.Context) error {
	log := logger.Named("shutdown")
	log.Info("已计划定时停机", "after", t.after)
	timer := time.NewTimer(t.after)
	defer timer.Stop()
	select {
	case <-timer.C:
		log.Info("定时停机触发", "after", t.after)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Context 返回只在 ctx 结束时返回的处理器，适合由调用方统一管理信号。
func Context() Handler {
	return HandlerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
}
