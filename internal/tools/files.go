package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "forgeflow/internal/errors"
	"forgeflow/pkg/logger"
)

const (
	FileWriterName   = "simple_file_writer"
	DailySummaryName = "daily_summary_writer"

	summarySeparator = "============"
)

// FileWriter 把内容写入输出目录下一个以 UUID 命名的新文件。
type FileWriter struct {
	Dir string
}

// NewFileWriter 创建 FileWriter。
func NewFileWriter(dir string) *FileWriter {
	return &FileWriter{Dir: dir}
}

// Definition 实现 Tool。
func (w *FileWriter) Definition() Definition {
	return Definition{
		Name:         FileWriterName,
		Description:  "Writes a given content to a new file with a unique name in a secure directory.",
		Parameters:   stringSchema("content", "The content you want to write to the file."),
		Capabilities: []Capability{CapabilityFilesystem},
	}
}

// Call 实现 Tool，返回写入的文件路径。
func (w *FileWriter) Call(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Content string `json:"content"`
	}
	if err := decodeArgs(FileWriterName, raw, &args); err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.CodeIO, err, "创建输出目录失败", xerrors.WithMetadata("dir", w.Dir))
	}
	path := filepath.Join(w.Dir, uuid.NewString()+".txt")
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return "", xerrors.Wrap(xerrors.CodeIO, err, "写入文件失败", xerrors.WithMetadata("path", path))
	}
	logger.Named("tools").Info("内容已写入文件", "tool", FileWriterName, "path", path)
	return fmt.Sprintf("Successfully wrote content to '%s'", path), nil
}

// DailySummary 把内容追加到当天的 YYYY-MM-DD.txt，条目之间用分隔线隔开。
type DailySummary struct {
	Dir string
	Now func() time.Time
}

// NewDailySummary 创建 DailySummary。
func NewDailySummary(dir string) *DailySummary {
	return &DailySummary{Dir: dir, Now: time.Now}
}

// Definition 实现 Tool。
func (d *DailySummary) Definition() Definition {
	return Definition{
		Name:         DailySummaryName,
		Description:  "Adds entries to a daily summary journal.",
		Parameters:   stringSchema("content", "The content to write to the summary journal."),
		Capabilities: []Capability{CapabilityFilesystem},
	}
}

// Path 返回 t 所在日期的汇总文件路径。
func (d *DailySummary) Path(t time.Time) string {
	return filepath.Join(d.Dir, t.Format("2006-01-02")+".txt")
}

// Call 实现 Tool。
func (d *DailySummary) Call(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Content string `json:"content"`
	}
	if err := decodeArgs(DailySummaryName, raw, &args); err != nil {
		return "", err
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.CodeIO, err, "创建汇总目录失败", xerrors.WithMetadata("dir", d.Dir))
	}
	path := d.Path(now())
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeIO, err, "打开汇总文件失败", xerrors.WithMetadata("path", path))
	}
	defer file.Close()

	var entry strings.Builder
	entry.WriteString("\n" + summarySeparator + "\n")
	entry.WriteString(args.Content)
	if _, err := file.WriteString(entry.String()); err != nil {
		return "", xerrors.Wrap(xerrors.CodeIO, err, "写入汇总文件失败", xerrors.WithMetadata("path", path))
	}
	return "Summary entry appended to " + path, nil
}
