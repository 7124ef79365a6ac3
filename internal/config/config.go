package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "forgeflow/internal/errors"
	"forgeflow/internal/journal"
	"forgeflow/internal/llm/factory"
	"forgeflow/internal/llm/retry"
	"forgeflow/internal/queue"
	"forgeflow/internal/tools"
	"forgeflow/pkg/logger"
)

const (
	// EnvConfigPath 指定配置文件路径。
	EnvConfigPath = "FORGEFLOW_CONFIG"
	// DefaultPath 是未设置环境变量时的配置文件路径。
	DefaultPath = "configs/forgeflow.yaml"

	EnvModelAPIKey   = "FORGEFLOW_MODEL_API_KEY"
	EnvTelegramToken = "FORGEFLOW_TELEGRAM_TOKEN"
	EnvMySQLDSN      = "FORGEFLOW_MYSQL_DSN"
	EnvAPIToken      = "FORGEFLOW_API_TOKEN"
)

// Config 描述 forgeflow 启动所需的全部配置。
type Config struct {
	Logging  logger.Config  `yaml:"logging"`
	Model    factory.Config `yaml:"model"`
	Retry    RetryConfig    `yaml:"retry"`
	Prompt   PromptConfig   `yaml:"prompt"`
	Triggers TriggersConfig `yaml:"triggers"`
	Auth     AuthConfig     `yaml:"auth"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
	Journal  journal.Config `yaml:"journal"`
	API      APIConfig      `yaml:"api"`
	Tools    ToolsConfig    `yaml:"tools"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

// RetryConfig 选择重试预设，并允许逐项覆盖。
type RetryConfig struct {
	Preset         string        `yaml:"preset"`
	MaxAttempts    *int          `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	Strategy       string        `yaml:"strategy"`
	RetryAllErrors bool          `yaml:"retry_all_errors"`
	Disabled       bool          `yaml:"disabled"`
}

// PromptConfig 提供内联模板或模板文件，二者必须有一个。
type PromptConfig struct {
	Template     string `yaml:"template"`
	TemplateFile string `yaml:"template_file"`
}

// TriggersConfig 列出要启动的触发器。
type TriggersConfig struct {
	Poll     []PollConfig   `yaml:"poll"`
	Gmail    GmailConfig    `yaml:"gmail"`
	Telegram TelegramConfig `yaml:"telegram"`
	Queue    QueueConfig    `yaml:"queue"`
}

// PollConfig 描述一个轮询触发器。
type PollConfig struct {
	Event    string        `yaml:"event"`
	Interval time.Duration `yaml:"interval"`
	HotStart bool          `yaml:"hot_start"`
}

// GmailConfig 描述邮箱监听触发器。
type GmailConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Query    string        `yaml:"query"`
}

// TelegramConfig 描述聊天机器人触发器。
type TelegramConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Token    string        `yaml:"token"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// QueueConfig 描述外部事件队列，既供触发器消费，也供 API 写入。
type QueueConfig struct {
	Enabled bool         `yaml:"enabled"`
	Event   string       `yaml:"event"`
	Backend queue.Config `yaml:",inline"`
}

// AuthConfig 指定 Google OAuth 凭据与令牌缓存文件。
type AuthConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
}

// ShutdownConfig 选择停机方式。
type ShutdownConfig struct {
	Mode  string        `yaml:"mode"`
	After time.Duration `yaml:"after"`
	Grace time.Duration `yaml:"grace"`
}

// APIConfig 控制状态接口。
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
}

// ToolsConfig 控制模型可用的工具。
type ToolsConfig struct {
	OutputDir  string       `yaml:"output_dir"`
	SummaryDir string       `yaml:"summary_dir"`
	MarkRead   bool         `yaml:"mark_read"`
	Policy     tools.Policy `yaml:"policy"`
}

// AlertsConfig 控制告警渠道。TelegramChatID 需要同时启用 Telegram 触发器。
type AlertsConfig struct {
	Log            bool  `yaml:"log"`
	TelegramChatID int64 `yaml:"telegram_chat_id"`
}

// Locate 返回配置文件路径。
func Locate(lookup func(string) (string, bool)) string {
	if lookup != nil {
		if path, ok := lookup(EnvConfigPath); ok && strings.TrimSpace(path) != "" {
			return path
		}
	}
	return DefaultPath
}

// Load 解析指定路径的 YAML 配置文件并填充默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeIO, err, "读取配置文件失败", xerrors.WithMetadata("path", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析配置失败", xerrors.WithMetadata("path", path))
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv 用环境变量覆盖敏感配置。
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	if v, ok := lookup(EnvModelAPIKey); ok && v != "" {
		c.Model.APIKey = v
	}
	if v, ok := lookup(EnvTelegramToken); ok && v != "" {
		c.Triggers.Telegram.Token = v
	}
	if v, ok := lookup(EnvMySQLDSN); ok && v != "" {
		c.Journal.MySQL.DSN = v
	}
	if v, ok := lookup(EnvAPIToken); ok && v != "" {
		c.API.Token = v
	}
}

// Validate 检查配置的一致性。
func (c *Config) Validate() error {
	if c.Prompt.Template == "" && c.Prompt.TemplateFile == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "必须提供 prompt.template 或 prompt.template_file")
	}
	for i, p := range c.Triggers.Poll {
		if p.Event == "" || p.Interval <= 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("triggers.poll[%d] 需要 event 与正数 interval", i))
		}
	}
	switch c.Shutdown.Mode {
	case "signal", "context":
	case "timer":
		if c.Shutdown.After <= 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, "timer 停机方式需要 shutdown.after")
		}
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的停机方式: "+c.Shutdown.Mode)
	}
	if _, err := c.Retry.Resolve(); err != nil {
		return err
	}
	return nil
}

// Resolve 把重试配置转换为 retry.Config。
func (r RetryConfig) Resolve() (retry.Config, error) {
	if r.Disabled {
		return retry.Disabled(), nil
	}
	cfg, err := retry.Preset(r.Preset)
	if err != nil {
		return retry.Config{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "重试配置无效")
	}
	if r.MaxAttempts != nil {
		cfg.MaxAttempts = *r.MaxAttempts
	}
	if r.BaseDelay > 0 {
		cfg.BaseDelay = r.BaseDelay
	}
	if r.Strategy != "" {
		strategy, err := retry.ParseStrategy(r.Strategy)
		if err != nil {
			return retry.Config{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "重试策略无效")
		}
		cfg.Strategy = strategy
	}
	if r.RetryAllErrors {
		cfg = cfg.RetryAllErrors()
	}
	return cfg, nil
}

// TemplateSource 返回模板原文，优先使用内联模板。
func (p PromptConfig) TemplateSource() (string, error) {
	if p.Template != "" {
		return p.Template, nil
	}
	content, err := os.ReadFile(p.TemplateFile)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeIO, err, "读取模板文件失败", xerrors.WithMetadata("path", p.TemplateFile))
	}
	return string(content), nil
}

// applyDefaults 在用户未填写部分字段时设置默认值，相对路径以配置文件目录为基准。
func (c *Config) applyDefaults(baseDir string) {
	if c.Model.Provider == "" {
		c.Model.Provider = factory.ProviderGemini
	}
	c.Model.Dir = resolve(baseDir, c.Model.Dir, "")
	c.Prompt.TemplateFile = resolve(baseDir, c.Prompt.TemplateFile, "")

	if c.Triggers.Gmail.Interval <= 0 {
		c.Triggers.Gmail.Interval = 120 * time.Second
	}
	if c.Triggers.Gmail.Query == "" {
		c.Triggers.Gmail.Query = "is:unread"
	}
	if c.Triggers.Queue.Event == "" {
		c.Triggers.Queue.Event = "QueueMessage"
	}
	if c.Triggers.Queue.Backend.Driver == "" {
		c.Triggers.Queue.Backend.Driver = "memory"
	}

	c.Auth.CredentialsFile = resolve(baseDir, c.Auth.CredentialsFile, "credentials.json")
	c.Auth.TokenFile = resolve(baseDir, c.Auth.TokenFile, "token.json")

	if c.Shutdown.Mode == "" {
		c.Shutdown.Mode = "signal"
	}
	if c.Shutdown.Grace <= 0 {
		c.Shutdown.Grace = 10 * time.Second
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = "file"
	}
	c.Journal.DataDir = resolve(baseDir, c.Journal.DataDir, "data")

	if c.API.Address == "" {
		c.API.Address = ":8080"
	}

	c.Tools.OutputDir = resolve(baseDir, c.Tools.OutputDir, "output")
	c.Tools.SummaryDir = resolve(baseDir, c.Tools.SummaryDir, "summaries")
	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path, "")
	}
}

func resolve(baseDir, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
