package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-query-cache/types"
	"github.com/saiset-co/sai-query-cache/utils"
)

type SQLiteConfig struct {
	Path  string `json:"path"`
	Table string `json:"table"`
}

type SQLiteStorage struct {
	logger types.Logger
	config *SQLiteConfig
	db     *sql.DB
}

func NewSQLiteStorage(logger types.Logger, config interface{}) (*SQLiteStorage, error) {
	sqliteConfig := &SQLiteConfig{
		Path:  "./data/query_cache.db",
		Table: "slots",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, sqliteConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal sqlite storage config")
		}
	}

	return &SQLiteStorage{
		logger: logger,
		config: sqliteConfig,
	}, nil
}

func (s *SQLiteStorage) Start() error {
	if dir := filepath.Dir(s.config.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return types.WrapError(err, "failed to create sqlite directory")
		}
	}

	db, err := sql.Open("sqlite3", s.config.Path)
	if err != nil {
		return types.WrapError(err, "failed to open sqlite database")
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS ` + s.config.Table + ` (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		_ = db.Close()
		return types.WrapError(err, "failed to create slots table")
	}

	s.db = db
	s.logger.Info("SQLite storage opened",
		zap.String("path", s.config.Path),
		zap.String("table", s.config.Table))

	return nil
}

func (s *SQLiteStorage) Stop() error {
	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil
	if err != nil {
		return types.WrapError(err, "failed to close sqlite database")
	}

	return nil
}

func (s *SQLiteStorage) IsRunning() bool {
	return s.db != nil
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM `+s.config.Table+` WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, types.WrapError(err, "failed to read slot")
	}

	return value, true, nil
}

func (s *SQLiteStorage) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+s.config.Table+` (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
			return types.Errorf(types.ErrStorageQuotaExceeded, "sqlite: %v", err)
		}
		return types.WrapError(err, "failed to write slot")
	}

	return nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.config.Table+` WHERE key = ?`, key); err != nil {
		return types.WrapError(err, "failed to delete slot")
	}
	return nil
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
