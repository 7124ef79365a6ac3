package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"forgeflow/internal/agent"
	"forgeflow/internal/api"
	"forgeflow/internal/config"
	xerrors "forgeflow/internal/errors"
	"forgeflow/internal/hub"
	"forgeflow/internal/journal"
	"forgeflow/internal/llm/factory"
	"forgeflow/internal/observability/alerting"
	"forgeflow/internal/queue"
	"forgeflow/internal/shutdown"
	"forgeflow/internal/tools"
	"forgeflow/internal/trigger"
	"forgeflow/internal/trigger/gmail"
	"forgeflow/internal/trigger/telegram"
	"forgeflow/pkg/logger"
)

// main 是 forgeflow 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.L().Error("forgeflowd 运行失败", "error", err, "code", string(xerrors.CodeOf(err)))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// scoped 由需要 Google 授权的组件实现。
type scoped interface {
	RequiredScopes() []string
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Locate(os.LookupEnv))
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv)

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("forgeflowd")

	source, err := cfg.Prompt.TemplateSource()
	if err != nil {
		return err
	}
	retryCfg, err := cfg.Retry.Resolve()
	if err != nil {
		return err
	}

	var (
		triggers []trigger.Trigger
		google   []scoped
		mailbox  *trigger.MailboxWatch
		markRead *tools.MarkRead
	)

	for _, p := range cfg.Triggers.Poll {
		triggers = append(triggers, trigger.NewPoll(p.Event, p.Interval).WithHotStart(p.HotStart))
	}
	if cfg.Triggers.Gmail.Enabled {
		mailbox = &trigger.MailboxWatch{Interval: cfg.Triggers.Gmail.Interval, Query: cfg.Triggers.Gmail.Query}
		triggers = append(triggers, mailbox)
		google = append(google, mailbox)
	}
	if cfg.Tools.MarkRead {
		markRead = tools.NewMarkRead(nil)
		google = append(google, markRead)
	}

	// 所有消费者的范围注册完毕后才建立会话。
	if len(google) > 0 {
		auth := hub.New(hub.GConf{
			CredentialsPath: cfg.Auth.CredentialsFile,
			TokenPath:       cfg.Auth.TokenFile,
		}, hub.GoogleAuthenticator{Prompt: hub.StdinPrompter(os.Stdin, os.Stdout)})
		for _, consumer := range google {
			auth.AddScopes(consumer.RequiredScopes()...)
		}
		session, err := auth.Session(ctx)
		if err != nil {
			return err
		}
		client, err := gmail.New(ctx, session.Client)
		if err != nil {
			return err
		}
		if mailbox != nil {
			mailbox.Mailbox = client
		}
		if markRead != nil {
			markRead.Labels = client
		}
		log.Info("Google 授权完成", "scopes", auth.Scopes())
	}

	var chat *telegram.Source
	if cfg.Triggers.Telegram.Enabled {
		chat, err = telegram.New(telegram.Config{
			Token:    cfg.Triggers.Telegram.Token,
			Endpoint: cfg.Triggers.Telegram.Endpoint,
			Timeout:  int(cfg.Triggers.Telegram.Timeout / time.Second),
		})
		if err != nil {
			return err
		}
		triggers = append(triggers, trigger.NewChatListener(chat))
	}

	var producer queue.Producer
	if cfg.Triggers.Queue.Enabled {
		q, err := queue.New(ctx, cfg.Triggers.Queue.Backend)
		if err != nil {
			return err
		}
		defer func() {
			if err := q.Close(); err != nil {
				log.Warn("关闭事件队列失败", "error", err)
			}
		}()
		producer = q
		triggers = append(triggers, trigger.NewQueueListener(q, cfg.Triggers.Queue.Event))
	}

	registry := tools.NewRegistry(cfg.Tools.Policy)
	for _, tool := range []tools.Tool{tools.NewFileWriter(cfg.Tools.OutputDir), tools.NewDailySummary(cfg.Tools.SummaryDir)} {
		if err := registry.Register(tool); err != nil {
			log.Warn("工具未注册", "error", err)
		}
	}
	if markRead != nil {
		if err := registry.Register(markRead); err != nil {
			log.Warn("工具未注册", "error", err)
		}
	}

	model, err := factory.New(cfg.Model, registry)
	if err != nil {
		return err
	}

	repo, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Warn("关闭调用日志失败", "error", err)
		}
	}()

	handler, agentCtx := shutdownHandler(ctx, cfg.Shutdown)
	ag, err := agent.New(agent.Config{
		Model:       model,
		Template:    source,
		Triggers:    triggers,
		Shutdown:    handler,
		Retry:       &retryCfg,
		Recorder:    repo,
		Alerts:      alertDispatcher(cfg.Alerts, chat),
		GracePeriod: cfg.Shutdown.Grace,
		Logger:      logger.Named("agent"),
	})
	if err != nil {
		return err
	}
	log.Info("forgeflow 已启动", "provider", cfg.Model.Provider, "triggers", ag.Triggers(), "tools", registry.Len())

	g, gctx := errgroup.WithContext(agentCtx)
	apiCtx, stopAPI := context.WithCancel(gctx)
	defer stopAPI()
	if cfg.API.Enabled {
		srv := api.NewServer(cfg.API.Address, api.Options{
			Status:   ag,
			Journal:  repo,
			Producer: producer,
			Token:    cfg.API.Token,
		})
		g.Go(func() error { return srv.Start(apiCtx) })
	}
	g.Go(func() error {
		defer stopAPI()
		return ag.Run(gctx)
	})
	return g.Wait()
}

// shutdownHandler 选择停机方式。signal 模式下由处理器自行监听信号，
// Agent 使用不随信号取消的上下文，进行中的模型调用得以在宽限期内完成。
func shutdownHandler(ctx context.Context, cfg config.ShutdownConfig) (shutdown.Handler, context.Context) {
	switch cfg.Mode {
	case "timer":
		return shutdown.Timer(cfg.After), ctx
	case "context":
		return shutdown.Context(), ctx
	default:
		return shutdown.Signal(), context.WithoutCancel(ctx)
	}
}

func alertDispatcher(cfg config.AlertsConfig, chat *telegram.Source) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Log {
		notifiers = append(notifiers, &alerting.LogNotifier{Logger: logger.Audit()})
	}
	if cfg.TelegramChatID != 0 && chat != nil {
		notifiers = append(notifiers, &alerting.TelegramNotifier{Sender: chat, ChatID: cfg.TelegramChatID})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
