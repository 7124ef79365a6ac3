package journal

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "forgeflow/internal/errors"
)

// Record 是一次模型调用的结果。
type Record struct {
	ID         string `json:"id"`
	Event      string `json:"event"`
	Prompt     string `json:"prompt"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	StartedAt  int64  `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
}

// NewRecord 为一次调用创建记录，started 为调用开始时间。
func NewRecord(event, prompt string, started time.Time) Record {
	return Record{
		ID:        uuid.NewString(),
		Event:     event,
		Prompt:    prompt,
		StartedAt: started.UnixMilli(),
	}
}

// Finish 填充调用结果。
func (r Record) Finish(response string, err error, elapsed time.Duration) Record {
	r.DurationMS = elapsed.Milliseconds()
	if err != nil {
		r.Error = err.Error()
		r.ErrorCode = string(xerrors.CodeOf(err))
		return r
	}
	r.Response = response
	return r
}

// Succeeded 判断调用是否成功。
func (r Record) Succeeded() bool {
	return r.Error == ""
}

// Repository 抽象记录的持久化。
type Repository interface {
	Save(ctx context.Context, record Record) error
	ListLatest(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Config 选择记录后端。
type Config struct {
	Driver     string      `yaml:"driver"`
	DataDir    string      `yaml:"data_dir"`
	MaxRecords int         `yaml:"max_records"`
	MySQL      MySQLConfig `yaml:"mysql"`
}

// Open 根据配置创建记录仓库。
func Open(ctx context.Context, cfg Config) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "memory":
		return NewMemoryRepository("", cfg.MaxRecords)
	case "", "file":
		return NewMemoryRepository(cfg.DataDir, cfg.MaxRecords)
	case "mysql":
		return NewSQLRepository(ctx, cfg.MySQL)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的记录存储驱动: "+cfg.Driver)
	}
}
