package fixgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
)

type Sandbox struct {
	DB     *sql.DB
	Schema string
	// DSN opens further connections confined to Schema.
	DSN   string
	Close func()
}

var (
	bootOnce sync.Once
	booted   bool
	bootErr  error

	// goose keeps its base FS and dialect in package state.
	gooseMu sync.Mutex
)

// BootOnce starts the shared container. Call it from TestMain or at the
// top of every test that needs a sandbox.
func BootOnce(t testing.TB, opts ...Option) {
	t.Helper()
	bootOnce.Do(func() {
		booted = true
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		cfg := &config{}
		for _, o := range opts {
			o(cfg)
		}
		bootErr = boot(ctx, cfg)
	})
	if bootErr != nil {
		t.Fatalf("fixgres boot failed: %v", bootErr)
	}
}

// NewSandbox creates a schema private to t. Every pooled connection of the
// sandbox uses it as its only search_path entry. It is dropped when the test
// ends.
func NewSandbox(t *testing.T, opts ...SandboxOption) *Sandbox {
	t.Helper()
	if !booted {
		t.Fatalf("fixgres not booted. Call fixgres.BootOnce(...) first.")
	}
	cfg := &sandboxConfig{}
	for _, o := range opts {
		o(cfg)
	}

	admin, err := sql.Open(Driver, connString)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := fmt.Sprintf("t_%x", time.Now().UnixNano())
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA "`+schema+`"`); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}

	dsn := withSearchPath(connString, schema)
	db, err := sql.Open(Driver, dsn)
	if err != nil {
		admin.Close()
		t.Fatalf("open sandbox: %v", err)
	}

	sbx := &Sandbox{DB: db, Schema: schema, DSN: dsn}
	sbx.Close = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Close()
		_, _ = admin.ExecContext(ctx, `DROP SCHEMA IF EXISTS "`+schema+`" CASCADE`)
		_ = admin.Close()
	}
	t.Cleanup(sbx.Close)

	if cfg.gooseFS != nil {
		gooseMu.Lock()
		defer gooseMu.Unlock()
		goose.SetBaseFS(cfg.gooseFS)
		if err := goose.SetDialect("postgres"); err != nil {
			t.Fatalf("goose dialect: %v", err)
		}
		if err := goose.Up(db, "."); err != nil {
			t.Fatalf("goose up: %v", err)
		}
	}
	return sbx
}

func withSearchPath(base, schema string) string {
	u, _ := url.Parse(base)
	q := u.Query()
	q.Set("options", fmt.Sprintf("-csearch_path=%s", schema))
	u.RawQuery = q.Encode()
	return u.String()
}
