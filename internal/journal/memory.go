package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	xerrors "forgeflow/internal/errors"
)

const (
	defaultMaxRecords = 512
	journalFile       = "journal.log"
)

// MemoryRepository 在内存中保留最近的记录，可选地追加写入 JSONL 文件，
// 重启后从文件恢复。
type MemoryRepository struct {
	mu       sync.RWMutex
	dataFile string
	max      int
	records  []Record
}

// NewMemoryRepository 创建仓库。dataDir 为空时只保存在内存中。
func NewMemoryRepository(dataDir string, maxRecords int) (*MemoryRepository, error) {
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}
	repo := &MemoryRepository{max: maxRecords}
	if dataDir == "" {
		return repo, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeIO, err, "创建数据目录失败")
	}
	repo.dataFile = filepath.Join(dataDir, journalFile)
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 记录一次调用结果，最新的排在最前。
func (m *MemoryRepository) Save(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dataFile != "" {
		if err := m.appendToDisk(record); err != nil {
			return err
		}
	}
	m.records = append([]Record{record}, m.records...)
	if len(m.records) > m.max {
		m.records = m.records[:m.max]
	}
	return nil
}

func (m *MemoryRepository) appendToDisk(record Record) error {
	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeIO, err, "打开记录文件失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeIO, err, "写入记录文件失败")
	}
	return nil
}

// ListLatest 返回最近的记录，按时间倒序排列。
func (m *MemoryRepository) ListLatest(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]Record, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 实现 Repository。
func (m *MemoryRepository) Close() error {
	return nil
}

func (m *MemoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeIO, err, "读取记录文件失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var restored []Record
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]Record{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeIO, err, "解析记录文件失败")
	}
	if len(restored) > m.max {
		restored = restored[:m.max]
	}
	m.records = restored
	return nil
}
