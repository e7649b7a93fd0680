// Package write executes inserts, updates and deletes inside transactions
// and reports which change events they produce.
package write

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/engine"
	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/logutil"
	"github.com/zoravur/tablegate/internal/metrics"
	"github.com/zoravur/tablegate/internal/notify"
	"github.com/zoravur/tablegate/internal/query"
	"github.com/zoravur/tablegate/internal/resource"
	"github.com/zoravur/tablegate/internal/txn"
)

// DefaultYieldEvery is how many bulk rows are inserted between yields.
const DefaultYieldEvery = 100

// Values maps column names to values for one row.
type Values map[string]any

// Columns returns the column names sorted, with values in the same order.
func (v Values) Columns() ([]string, []any) {
	cols := make([]string, 0, len(v))
	for c := range v {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = v[c]
	}
	return cols, vals
}

// Result is the outcome of one write.
type Result struct {
	// URI and Key identify the inserted row. Unset for other writes.
	URI resource.Identifier
	Key string
	// Count is the number of rows written.
	Count int64
	// Event is the notification the write calls for, nil if none.
	Event *notify.ChangeEvent
}

// Executor runs writes. A write made with a context carrying an open
// txn.Scope joins the scope's transaction; otherwise it commits its own.
type Executor struct {
	engine     *engine.Engine
	yieldEvery int
	logger     *zap.Logger
}

func NewExecutor(e *engine.Engine, yieldEvery int, logger *zap.Logger) *Executor {
	if yieldEvery <= 0 {
		yieldEvery = DefaultYieldEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{engine: e, yieldEvery: yieldEvery, logger: logger}
}

// Insert adds one row. The key is the engine row id for auto-increment
// keys, otherwise the primary key value supplied in vals. The returned URI
// addresses the new row and keeps the caller's NOTIFY_CHANGES and IS_SYNC.
// Inserts go to collection identifiers only.
func (x *Executor) Insert(ctx context.Context, routed resource.Routed, vals Values) (Result, error) {
	if err := collectionOnly(routed, "insert"); err != nil {
		return Result{}, err
	}
	td := routed.Table
	var res Result
	err := x.withTx(ctx, func(tx *engine.Tx) error {
		key, err := x.insertRow(ctx, tx, td, vals)
		if err != nil {
			return err
		}
		uri := resource.Identifier{Authority: routed.ID.Authority, Table: td.Name, Key: key}
		for _, p := range []string{resource.ParamNotifyChanges, resource.ParamSync} {
			if v, ok := routed.ID.Params[p]; ok && len(v) > 0 {
				uri = uri.With(p, v[0])
			}
		}
		ev := notify.NewEvent(uri, notify.Insert, td)
		res = Result{URI: ev.URI, Key: key, Count: 1, Event: &ev}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	metrics.CounterRowsWritten.WithLabelValues(string(notify.Insert)).Inc()
	return res, nil
}

func (x *Executor) insertRow(ctx context.Context, tx *engine.Tx, td *catalog.TableDetails, vals Values) (string, error) {
	cols, args := vals.Columns()
	rowID, err := tx.Insert(ctx, td.Name, td.PrimaryKey, cols, args)
	if err != nil {
		return "", err
	}
	if td.PrimaryKey.AutoIncrement {
		if rowID <= 0 {
			return "", errors.Newf(errors.ErrInsertFailed, "insert into %s: engine reported no row id", td.Name)
		}
		return strconv.FormatInt(rowID, 10), nil
	}
	v, ok := vals[td.PrimaryKey.Column]
	if !ok || v == nil {
		return "", errors.Newf(errors.ErrInsertFailed, "insert into %s: no value for primary key %s", td.Name, td.PrimaryKey.Column)
	}
	return fmt.Sprint(v), nil
}

// Update writes vals to the rows matched by selection, or to the addressed
// row for single-item identifiers. An event is produced only when rows
// changed and at least one written column notifies.
func (x *Executor) Update(ctx context.Context, routed resource.Routed, vals Values, selection string, args []any) (Result, error) {
	if len(vals) == 0 {
		return Result{}, errors.New(errors.ErrInvalidQuery, "update without values")
	}
	td := routed.Table
	selection, args = target(x.engine.Dialect(), routed, selection, args)
	cols, colVals := vals.Columns()

	var n int64
	err := x.withTx(ctx, func(tx *engine.Tx) error {
		var err error
		n, err = tx.Exec(ctx, query.Update(tx.Dialect(), td.Name, cols, colVals, selection, args))
		return err
	})
	if err != nil {
		return Result{}, err
	}

	metrics.CounterRowsWritten.WithLabelValues(string(notify.Update)).Add(float64(n))
	res := Result{Count: n}
	if n > 0 && td.NotifiesOn(cols) {
		ev := notify.NewEvent(routed.ID, notify.Update, td)
		res.Event = &ev
	}
	return res, nil
}

// Delete removes the rows matched by selection, or the addressed row for
// single-item identifiers. An event is produced when rows were removed.
func (x *Executor) Delete(ctx context.Context, routed resource.Routed, selection string, args []any) (Result, error) {
	td := routed.Table
	selection, args = target(x.engine.Dialect(), routed, selection, args)

	var n int64
	err := x.withTx(ctx, func(tx *engine.Tx) error {
		var err error
		n, err = tx.Exec(ctx, query.Delete(tx.Dialect(), td.Name, selection, args))
		return err
	})
	if err != nil {
		return Result{}, err
	}

	metrics.CounterRowsWritten.WithLabelValues(string(notify.Delete)).Add(float64(n))
	res := Result{Count: n}
	if n > 0 {
		ev := notify.NewEvent(routed.ID, notify.Delete, td)
		res.Event = &ev
	}
	return res, nil
}

// BulkInsert inserts rows in one transaction, yielding every yieldEvery
// rows. Any failing row rolls back all of them. A successful call produces
// a single event for the whole set.
func (x *Executor) BulkInsert(ctx context.Context, routed resource.Routed, rows []Values) (Result, error) {
	if err := collectionOnly(routed, "bulk insert"); err != nil {
		return Result{}, err
	}
	td := routed.Table
	err := x.withTx(ctx, func(tx *engine.Tx) error {
		for i, vals := range rows {
			if _, err := x.insertRow(ctx, tx, td, vals); err != nil {
				cols, args := vals.Columns()
				x.logger.Debug("bulk insert row failed",
					zap.String("table", td.Name),
					zap.Int("index", i),
					logutil.Row(cols, args),
					zap.Error(err))
				if errors.Is(err, errors.ErrInsertFailed) || errors.Is(err, errors.ErrWriteConflict) {
					return errors.Wrapf(err, "row %d", i)
				}
				return errors.Coded(err, errors.ErrInsertFailed, fmt.Sprintf("row %d", i))
			}
			if (i+1)%x.yieldEvery == 0 {
				tx.Yield()
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	n := int64(len(rows))
	metrics.CounterRowsWritten.WithLabelValues(string(notify.Insert)).Add(float64(n))
	res := Result{Count: n}
	if n > 0 {
		ev := notify.NewEvent(routed.ID, notify.Insert, td)
		res.Event = &ev
	}
	return res, nil
}

// target applies single-item addressing to a caller selection.
func collectionOnly(routed resource.Routed, op string) error {
	if routed.Mode == resource.SingleItem {
		return errors.Newf(errors.ErrInvalidQuery, "%s into %s: identifier addresses a single item", op, routed.ID)
	}
	return nil
}

func target(d query.Dialect, routed resource.Routed, selection string, args []any) (string, []any) {
	if routed.Mode == resource.SingleItem {
		return query.KeySelection(d, routed.Table), []any{routed.Key}
	}
	return selection, args
}

func (x *Executor) withTx(ctx context.Context, fn func(*engine.Tx) error) error {
	if s, ok := txn.FromContext(ctx); ok {
		return fn(s.Tx())
	}

	tx, err := x.engine.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
