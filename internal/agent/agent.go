package agent

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	xerrors "forgeflow/internal/errors"
	"forgeflow/internal/journal"
	"forgeflow/internal/llm"
	"forgeflow/internal/llm/retry"
	"forgeflow/internal/observability/alerting"
	"forgeflow/internal/observability/metrics"
	"forgeflow/internal/shutdown"
	"forgeflow/internal/template"
	"forgeflow/internal/trigger"
	"forgeflow/pkg/logger"
)

const (
	// EventBuffer 是事件通道容量，写满后触发器阻塞等待。
	EventBuffer = 100
	// DefaultGracePeriod 是停机时等待进行中调用的时长。
	DefaultGracePeriod = 10 * time.Second
)

// Recorder 保存每次模型调用的结果。
type Recorder interface {
	Save(ctx context.Context, record journal.Record) error
}

// Config 描述构建 Agent 所需的组件。Model 与 Template 为必填项。
type Config struct {
	Model    llm.Model
	Template string
	Triggers []trigger.Trigger
	// Shutdown 为空时监听 SIGINT/SIGTERM。
	Shutdown shutdown.Handler
	// Retry 为空时使用默认重试策略。
	Retry        *retry.Config
	DisableRetry bool
	Recorder     Recorder
	// Alerts 接收带告警属性的调用失败，可为空。
	Alerts      alerting.Dispatcher
	GracePeriod time.Duration
	Logger      *slog.Logger
}

// Agent 消费触发器事件并串行调用模型。
type Agent struct {
	model    llm.Model
	tmpl     *template.Template
	triggers []trigger.Trigger
	shutdown shutdown.Handler
	recorder Recorder
	alerts   alerting.Dispatcher
	grace    time.Duration
	log      *slog.Logger

	running  atomic.Bool
	inFlight atomic.Int64

	pendingMu sync.Mutex
	pending   chan struct{}
}

// New 校验配置并创建 Agent。缺少必填项时返回 *BuildError，模板语法错误返回 TEMPLATE_FAILURE。
func New(cfg Config) (*Agent, error) {
	var missing []string
	if cfg.Model == nil {
		missing = append(missing, "model")
	}
	if cfg.Template == "" {
		missing = append(missing, "template")
	}
	if len(missing) > 0 {
		return nil, &BuildError{Missing: missing}
	}

	tmpl, err := template.Parse(cfg.Template)
	if err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Named("agent")
	}

	model := cfg.Model
	if !cfg.DisableRetry {
		policy := retry.DefaultConfig()
		if cfg.Retry != nil {
			policy = *cfg.Retry
		}
		model = retry.Wrap(model, policy, retry.WithLogger(log.With("decorator", "retry")))
	}

	handler := cfg.Shutdown
	if handler == nil {
		handler = shutdown.Signal()
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	return &Agent{
		model:    model,
		tmpl:     tmpl,
		triggers: append([]trigger.Trigger(nil), cfg.Triggers...),
		shutdown: handler,
		recorder: cfg.Recorder,
		alerts:   cfg.Alerts,
		grace:    grace,
		log:      log,
	}, nil
}

// Model 返回 Agent 实际调用的模型（可能已被重试包装）。
func (a *Agent) Model() llm.Model {
	return a.model
}

// Triggers 返回已注册的触发器名称。
func (a *Agent) Triggers() []string {
	names := make([]string, 0, len(a.triggers))
	for _, t := range a.triggers {
		names = append(names, t.Name())
	}
	return names
}

// InFlight 返回当前尚未完成的模型调用数量。
func (a *Agent) InFlight() int64 {
	return a.inFlight.Load()
}

// Run 启动全部触发器并处理事件，直到停机信号到达或所有触发器结束。
// 单个事件的渲染或调用失败只记录日志，不会让 Run 返回错误。
func (a *Agent) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return xerrors.New(xerrors.CodeInvalidArgument, "Agent 已在运行")
	}
	defer a.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan trigger.Event, EventBuffer)
	stop := trigger.NewBroadcast()
	handles := a.launchTriggers(runCtx, events, stop)

	go func() {
		for _, h := range handles {
			<-h.Done()
		}
		close(events)
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		a.eventLoop(ctx, runCtx, events, stop.Subscribe())
	}()

	waitCtx, stopWaiting := context.WithCancel(runCtx)
	defer stopWaiting()
	signalled := make(chan error, 1)
	go func() {
		signalled <- a.shutdown.Wait(waitCtx)
	}()

	select {
	case <-loopDone:
		a.log.Info("所有触发器均已结束，事件循环退出")
	case err := <-signalled:
		if err != nil {
			a.log.Info("停机等待被取消", "error", err)
		} else {
			a.log.Info("收到停机信号")
		}
	}
	stopWaiting()

	a.log.Info("广播停止信号", "triggers", len(handles))
	stop.Close()
	for _, h := range handles {
		if err := h.Wait(); err != nil {
			a.log.Warn("触发器任务异常结束", "trigger", h.Name(), "error", err)
			continue
		}
		a.log.Debug("触发器任务已结束", "trigger", h.Name())
	}

	a.drain()
	a.log.Info("Agent 已停止")
	return nil
}

func (a *Agent) launchTriggers(ctx context.Context, events chan<- trigger.Event, stop *trigger.Broadcast) []*trigger.Handle {
	handles := make([]*trigger.Handle, 0, len(a.triggers))
	for _, t := range a.triggers {
		h, err := t.Launch(ctx, events, stop.Subscribe())
		if err != nil {
			a.log.Warn("触发器启动失败，已跳过", "trigger", t.Name(), "error", err)
			continue
		}
		a.log.Info("触发器已启动", "trigger", t.Name())
		handles = append(handles, h)
	}
	return handles
}

// eventLoop 是唯一的事件消费者。promptCtx 不随停机取消，进行中的调用可以自然完成。
func (a *Agent) eventLoop(promptCtx, runCtx context.Context, events <-chan trigger.Event, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		select {
		case <-stop:
			return
		case <-runCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handle(promptCtx, ev)
		}
	}
}

func (a *Agent) handle(ctx context.Context, ev trigger.Event) {
	log := a.log.With("event", ev.Name)
	log.Info("收到事件")

	prompt, err := a.tmpl.Render(ev)
	if err != nil {
		log.Warn("渲染提示词失败", "error", err)
		metrics.ObserveRenderFailure(ev.Name)
		return
	}

	started := time.Now()
	response, err := a.prompt(ctx, prompt)
	elapsed := time.Since(started)

	audit := logger.Audit()
	if err != nil {
		metrics.ObservePrompt(ev.Name, string(xerrors.CodeOf(err)), elapsed)
		log.Warn("模型调用失败", "error", err, "duration", elapsed)
		audit.Warn("prompt", "event", ev.Name, "success", false,
			"error_code", string(xerrors.CodeOf(err)), "duration_ms", elapsed.Milliseconds())
	} else {
		metrics.ObservePrompt(ev.Name, metrics.OutcomeOK, elapsed)
		log.Info("模型调用完成", "duration", elapsed, "response", response)
		audit.Info("prompt", "event", ev.Name, "success", true, "duration_ms", elapsed.Milliseconds())
	}

	if a.alerts != nil {
		if alert, ok := alerting.FromError(ev.Name, err, time.Now()); ok {
			if alertErr := a.alerts.Notify(context.WithoutCancel(ctx), alert); alertErr != nil {
				log.Warn("发送告警失败", "error", alertErr)
			}
		}
	}

	if a.recorder != nil {
		record := journal.NewRecord(ev.Name, prompt, started).Finish(response, err, elapsed)
		if saveErr := a.recorder.Save(context.WithoutCancel(ctx), record); saveErr != nil {
			log.Warn("保存调用记录失败", "error", saveErr)
		}
	}
}

func (a *Agent) prompt(ctx context.Context, text string) (string, error) {
	done := make(chan struct{})
	a.pendingMu.Lock()
	a.pending = done
	a.pendingMu.Unlock()

	a.inFlight.Add(1)
	defer func() {
		a.inFlight.Add(-1)
		close(done)
	}()
	return a.model.Prompt(ctx, text)
}

// drain 在仍有进行中的调用时最多等待一个宽限期，并记录剩余数量。调用不会被取消。
func (a *Agent) drain() {
	if a.inFlight.Load() == 0 {
		return
	}
	a.pendingMu.Lock()
	pending := a.pending
	a.pendingMu.Unlock()

	a.log.Info("等待进行中的模型调用", "in_flight", a.inFlight.Load(), "grace", a.grace)
	timer := time.NewTimer(a.grace)
	defer timer.Stop()
	select {
	case <-pending:
	case <-timer.C:
	}

	if residual := a.inFlight.Load(); residual > 0 {
		a.log.Warn("宽限期结束，仍有未完成的模型调用", "in_flight", residual)
		return
	}
	a.log.Info("进行中的模型调用已完成")
}
