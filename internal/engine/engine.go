// Package engine runs rendered statements against the underlying SQL
// database. It supports sqlite (modernc.org/sqlite), postgres (pgx or
// lib/pq) and mysql through database/sql.
package engine

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/query"
)

// Config selects and tunes the database connection.
type Config struct {
	// Driver is a database/sql driver name: sqlite, pgx, postgres or mysql.
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// LogQueries logs every statement at debug level.
	LogQueries bool
}

type Engine struct {
	db         *sql.DB
	driver     string
	dialect    query.Dialect
	logger     *zap.Logger
	logQueries bool
}

// Open connects using cfg and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Engine, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.Driver)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping %s", cfg.Driver)
	}

	e, err := New(db, cfg.Driver, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	e.logQueries = cfg.LogQueries
	return e, nil
}

// New wraps an open handle. driver picks the SQL dialect.
func New(db *sql.DB, driver string, logger *zap.Logger) (*Engine, error) {
	d, ok := query.DialectFor(driver)
	if !ok {
		return nil, errors.Newf(errors.ErrUncoded, "unsupported driver %q", driver)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, driver: driver, dialect: d, logger: logger}, nil
}

// WithQueryLogging toggles statement logging.
func (e *Engine) WithQueryLogging(on bool) *Engine {
	e.logQueries = on
	return e
}

func (e *Engine) DB() *sql.DB                    { return e.db }
func (e *Engine) Driver() string                 { return e.driver }
func (e *Engine) Dialect() query.Dialect         { return e.dialect }
func (e *Engine) Close() error                   { return e.db.Close() }
func (e *Engine) Ping(ctx context.Context) error { return e.db.PingContext(ctx) }

// Query runs b. The read is aborted when ctx is cancelled.
func (e *Engine) Query(ctx context.Context, b query.Bound) (*Rows, error) {
	stmt := query.Select(e.dialect, b)
	e.trace("query", stmt)
	rows, err := e.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", b.Table)
	}
	return newRows(rows)
}

// BeginTx starts a write transaction. The transaction ignores cancellation
// of ctx: once started it ends only by Commit or Rollback.
func (e *Engine) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := e.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, classify(err, "begin")
	}
	return &Tx{tx: tx, e: e}, nil
}

func (e *Engine) trace(op string, stmt query.Statement) {
	if !e.logQueries {
		return
	}
	e.logger.Debug(op, zap.String("sql", stmt.SQL), zap.Any("args", stmt.Args))
}
