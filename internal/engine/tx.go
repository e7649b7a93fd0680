package engine

import (
	"context"
	"database/sql"
	"runtime"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/query"
)

// Tx is one write transaction. It is not safe for concurrent use.
type Tx struct {
	tx   *sql.Tx
	e    *Engine
	done bool
}

// Insert adds one row and returns the engine-generated row id. A row id of
// zero means the engine reported none for a non auto-increment key.
func (t *Tx) Insert(ctx context.Context, table string, pk catalog.PrimaryKey, cols []string, vals []any) (int64, error) {
	ctx = context.WithoutCancel(ctx)
	d := t.e.dialect

	if pk.AutoIncrement && d.Returning(pk.Column) != "" {
		stmt := query.Insert(d, table, cols, vals, pk.Column)
		t.e.trace("insert", stmt)
		var id int64
		if err := t.tx.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&id); err != nil {
			return 0, insertError(err, table)
		}
		return id, nil
	}

	stmt := query.Insert(d, table, cols, vals, "")
	t.e.trace("insert", stmt)
	res, err := t.tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, insertError(err, table)
	}
	if d.Returning(pk.Column) != "" {
		// postgres: no LastInsertId, a non auto-increment key needs one row.
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return 0, errors.Newf(errors.ErrInsertFailed, "insert into %s: no row inserted", table)
		}
		return 0, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Coded(err, errors.ErrInsertFailed, "insert into "+table+": no row id")
	}
	return id, nil
}

// Exec runs an update or delete and returns the affected row count.
func (t *Tx) Exec(ctx context.Context, stmt query.Statement) (int64, error) {
	t.e.trace("exec", stmt)
	res, err := t.tx.ExecContext(context.WithoutCancel(ctx), stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, classify(err, "exec")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}

// Query reads inside the transaction, seeing its uncommitted writes.
func (t *Tx) Query(ctx context.Context, b query.Bound) (*Rows, error) {
	stmt := query.Select(t.e.dialect, b)
	t.e.trace("query", stmt)
	rows, err := t.tx.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", b.Table)
	}
	return newRows(rows)
}

// Dialect returns the dialect statements for this transaction must use.
func (t *Tx) Dialect() query.Dialect { return t.e.dialect }

// Yield hands the processor to other goroutines between bulk rows. It is a
// scheduler yield only: locks the transaction already holds in the engine
// stay held until Commit or Rollback.
func (t *Tx) Yield() { runtime.Gosched() }

func (t *Tx) Commit() error {
	if t.done {
		return errors.New(errors.ErrUncoded, "transaction already finished")
	}
	t.done = true
	return classify(t.tx.Commit(), "commit")
}

// Rollback aborts the transaction. It is a no-op after Commit, so it can be
// deferred.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return errors.Wrap(err, "rollback")
	}
	return nil
}

func insertError(err error, table string) error {
	if isConflict(err) {
		return errors.Coded(err, errors.ErrWriteConflict, "insert into "+table)
	}
	return errors.Coded(err, errors.ErrInsertFailed, "insert into "+table)
}
