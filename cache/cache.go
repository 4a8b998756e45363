package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"auto_content_pipeline/depth"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Store is a draft cache that can also drop the entries of one stage or unit.
type Store interface {
	depth.Cache
	Purge(stage, unit string) (int, error)
}

// Open returns the cache backend named by backend.
func Open(backend, dir, dsn string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileCache(dir)
	case BackendSQLite:
		if dsn == "" {
			dsn = filepath.Join(dir, "drafts.db")
		}
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, err
			}
		}
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		// SQLite 只允许一个写者，并发生成草稿时串行化写入
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return NewDBCache(db)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
