package db

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/types"
)

// SQLiteService owns the embedded single-file store shared by jobs, nodes,
// logs and tokens.
type SQLiteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSQLiteService(path string, log *logger.Logger) (*SQLiteService, error) {
	serviceLog := log.With("service", "SQLiteService")

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	serviceLog.Info("Opening SQLite store", "path", path)
	// busy_timeout keeps concurrent writers (dispatcher vs. ws router) from
	// surfacing SQLITE_BUSY as hard errors.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sqlite handle: %w", err)
	}
	// Single-writer model: one connection serialises all mutations.
	sqlDB.SetMaxOpenConns(1)

	return &SQLiteService{db: gdb, log: serviceLog}, nil
}

func (s *SQLiteService) DB() *gorm.DB { return s.db }

// AutoMigrateAll is the schema strategy: additive column changes apply on
// startup, nothing is ever dropped.
func (s *SQLiteService) AutoMigrateAll() error {
	s.log.Info("Auto migrating sqlite tables...")
	return s.db.AutoMigrate(
		&types.Job{},
		&types.NodeMetadata{},
		&types.JobLogEntry{},
		&types.UserToken{},
	)
}

func (s *SQLiteService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
