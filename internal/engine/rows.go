package engine

import (
	"database/sql"

	"github.com/zoravur/tablegate/internal/errors"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Rows iterates a query result. Callers must Close it.
type Rows struct {
	rows *sql.Rows
	cols []string
	cur  Row
	err  error
}

func newRows(rows *sql.Rows) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "columns")
	}
	return &Rows{rows: rows, cols: cols}, nil
}

func (r *Rows) Columns() []string { return r.cols }

// Next advances to the next row and scans it.
func (r *Rows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	values := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		r.err = errors.Wrap(err, "scan")
		return false
	}
	row := make(Row, len(r.cols))
	for i, c := range r.cols {
		row[c] = deref(values[i])
	}
	r.cur = row
	return true
}

// Row returns the row Next scanned.
func (r *Rows) Row() Row { return r.cur }

func (r *Rows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *Rows) Close() error { return r.rows.Close() }

// All drains and closes r.
func (r *Rows) All() ([]Row, error) {
	defer r.Close()
	out := []Row{}
	for r.Next() {
		out = append(out, r.cur)
	}
	return out, r.Err()
}

// deref turns driver byte slices into strings so rows marshal as text.
func deref(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
