// Package fixlite gives each test its own sqlite database file, optionally
// migrated with goose.
package fixlite

import (
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Driver is the database/sql driver name sandboxes are opened with.
const Driver = "sqlite"

type config struct {
	gooseFS     fs.FS
	busyTimeout int
	maxConns    int
}

type Option func(*config)

// WithGooseUp runs the migrations in migFS against every new sandbox.
func WithGooseUp(migFS fs.FS) Option { return func(c *config) { c.gooseFS = migFS } }

// WithBusyTimeout sets how long, in milliseconds, a writer waits on a lock.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithMaxConns caps the pool. The default of one connection serializes all
// access, which keeps sqlite from reporting SQLITE_BUSY under concurrency.
func WithMaxConns(n int) Option { return func(c *config) { c.maxConns = n } }

type Sandbox struct {
	DB   *sql.DB
	Path string
	DSN  string
}

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// NewSandbox creates a fresh database under t.TempDir. It is closed when the
// test ends.
func NewSandbox(t *testing.T, opts ...Option) *Sandbox {
	t.Helper()
	cfg := &config{busyTimeout: 5000, maxConns: 1}
	for _, o := range opts {
		o(cfg)
	}

	path := filepath.Join(t.TempDir(), "sandbox.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, cfg.busyTimeout)

	db, err := sql.Open(Driver, dsn)
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}
	db.SetMaxOpenConns(cfg.maxConns)
	t.Cleanup(func() { _ = db.Close() })

	if cfg.gooseFS != nil {
		if err := migrate(db, cfg.gooseFS); err != nil {
			t.Fatalf("fixlite migrate: %v", err)
		}
	}

	return &Sandbox{DB: db, Path: path, DSN: dsn}
}

func migrate(db *sql.DB, migFS fs.FS) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}
