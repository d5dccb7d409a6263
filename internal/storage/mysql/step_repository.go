package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// StepRecord 表示一次步骤模拟执行的落库结构。
type StepRecord struct {
	Step      string `json:"step"`
	Succeeded bool   `json:"succeeded"`
	CreatedAt int64  `json:"created_at"`
}

// StepRepository 抽象步骤执行历史的持久化接口。
type StepRepository interface {
	Append(ctx context.Context, records []StepRecord) error
	ListLatest(ctx context.Context, limit int) ([]StepRecord, error)
}

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// memoryCacheLimit 限制内存中保留的最近记录条数。
const memoryCacheLimit = 512

// MemoryStepRepository 使用本地 JSONL 文件保存步骤记录，方便迭代开发。
type MemoryStepRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []StepRecord
}

// NewMemoryStepRepository 创建一个基于文件的步骤仓库。
func NewMemoryStepRepository(dataDir string) (*MemoryStepRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "steps.log")
	repo := &MemoryStepRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Append 以追加写的方式记录步骤结果。
func (m *MemoryStepRepository) Append(_ context.Context, records []StepRecord) error {
	if len(records) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开步骤日志失败: %w", err)
	}
	defer file.Close()

	for _, record := range records {
		encoded, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("序列化步骤记录失败: %w", err)
		}
		if _, err := file.Write(append(encoded, '\n')); err != nil {
			return fmt.Errorf("写入步骤日志失败: %w", err)
		}
		m.records = append([]StepRecord{record}, m.records...)
	}
	if len(m.records) > memoryCacheLimit {
		m.records = m.records[:memoryCacheLimit]
	}
	return nil
}

// ListLatest 返回最近的步骤记录，按时间倒序排列。
func (m *MemoryStepRepository) ListLatest(_ context.Context, limit int) ([]StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}

	results := make([]StepRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *MemoryStepRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取步骤日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []StepRecord
	for scanner.Scan() {
		var record StepRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]StepRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析步骤日志失败: %w", err)
	}
	if len(restored) > memoryCacheLimit {
		restored = restored[:memoryCacheLimit]
	}
	m.records = restored
	return nil
}

// SQLStepRepository 使用 MySQL 持久化步骤记录。
type SQLStepRepository struct {
	db *sql.DB
}

// NewSQLStepRepository 连接 MySQL 并执行内嵌迁移。
func NewSQLStepRepository(ctx context.Context, cfg Config) (*SQLStepRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLStepRepository{db: db}, nil
}

// Append 将一批步骤记录写入同一个事务。
func (s *SQLStepRepository) Append(ctx context.Context, records []StepRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启写入事务失败: %w", err)
	}

	const stmt = `INSERT INTO step_records (step, succeeded, created_at) VALUES (?, ?, ?)`
	for _, record := range records {
		createdAt := record.CreatedAt
		if createdAt == 0 {
			createdAt = time.Now().Unix()
		}
		if _, err := tx.ExecContext(ctx, stmt, record.Step, record.Succeeded, createdAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入步骤记录失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交步骤记录失败: %w", err)
	}
	return nil
}

// ListLatest 返回最近的步骤记录，按时间倒序排列。
func (s *SQLStepRepository) ListLatest(ctx context.Context, limit int) ([]StepRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	const stmt = `SELECT step, succeeded, created_at FROM step_records ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, fmt.Errorf("查询步骤记录失败: %w", err)
	}
	defer rows.Close()

	records := make([]StepRecord, 0, limit)
	for rows.Next() {
		var record StepRecord
		if err := rows.Scan(&record.Step, &record.Succeeded, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析步骤记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历步骤记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLStepRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ StepRepository = (*MemoryStepRepository)(nil)
	_ StepRepository = (*SQLStepRepository)(nil)
)
