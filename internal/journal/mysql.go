package journal

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "forgeflow/internal/errors"
)

// MySQLConfig 描述 MySQL 记录仓库的连接参数。
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

const (
	insertRecordSQL = `INSERT INTO prompt_journal
    (id, event, prompt, response, error, error_code, started_at, duration_ms)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	listRecordsSQL = `SELECT id, event, prompt, response, error, error_code, started_at, duration_ms
    FROM prompt_journal ORDER BY started_at DESC, id DESC LIMIT ?`

	mysqlDuplicateEntry = 1062
)

// SQLRepository 将记录保存在 MySQL 中。
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository 连接数据库并执行内嵌的迁移脚本。
func NewSQLRepository(ctx context.Context, cfg MySQLConfig) (*SQLRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := &SQLRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	parsed, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "MySQL DSN 格式错误")
	}
	parsed.ParseTime = true

	connector, err := mysql.NewConnector(parsed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 MySQL 连接器失败")
	}
	db := sql.OpenDB(connector)

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	return db, nil
}

// Save 写入一条记录。
func (s *SQLRepository) Save(ctx context.Context, record Record) error {
	_, err := s.db.ExecContext(ctx, insertRecordSQL,
		record.ID, record.Event, record.Prompt, record.Response,
		record.Error, record.ErrorCode, record.StartedAt, record.DurationMS)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "记录已存在",
				xerrors.WithMetadata("id", record.ID))
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入记录失败")
	}
	return nil
}

// ListLatest 按时间倒序返回最近的记录。
func (s *SQLRepository) ListLatest(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, listRecordsSQL, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询记录失败")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var record Record
		if err := rows.Scan(&record.ID, &record.Event, &record.Prompt, &record.Response,
			&record.Error, &record.ErrorCode, &record.StartedAt, &record.DurationMS); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历记录失败")
	}
	return records, nil
}

// Close 关闭连接池。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
