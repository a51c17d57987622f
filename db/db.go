package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/exp/slices"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "pgx"
)

type DB struct {
	db     *sql.DB
	driver string
	cfg    *Config
}

type Config struct {
	Driver  string `yaml:"driver" env:"DRIVER"`
	Path    string `yaml:"path" env:"PATH"`
	ConnStr string `yaml:"conn_str" env:"CONN_STR"`
	MaxRuns int    `yaml:"max_runs" env:"MAX_RUNS"`
}

func New(ctx context.Context, cfg *Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSqlite
	}

	var dsn string
	switch driver {
	case DriverSqlite:
		path := cfg.Path
		if path == "" {
			path = "voicestudio.db"
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	case DriverPostgres:
		dsn = cfg.ConnStr
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if driver == DriverSqlite {
		sqlDB.SetMaxOpenConns(1)
	}

	if err = sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	db := &DB{
		db:     sqlDB,
		driver: driver,
		cfg:    cfg,
	}

	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	files := []string{}
	for _, e := range entries {
		files = append(files, e.Name())
	}

	slices.Sort(files)

	for _, file := range files {
		data, err := migrations.ReadFile("migrations/" + file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		// one statement per Exec, postgres prepared statements refuse batches
		for _, stmt := range strings.Split(string(data), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
	}

	return nil
}
