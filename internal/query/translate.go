// Package query turns routed identifiers and caller arguments into bounded,
// parameterized SQL.
package query

import (
	"strconv"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/resource"
)

// Spec is what a caller asks for. Selection uses ? placeholders.
type Spec struct {
	Projection    []string
	Selection     string
	SelectionArgs []any
	SortOrder     string
	GroupBy       string
	Having        string
	Distinct      bool
	Limit         *int
	Offset        *int
}

// Bound is a Spec resolved against a table, ready to render.
type Bound struct {
	Table         string
	Projection    []string
	Selection     string
	SelectionArgs []any
	SortOrder     string
	GroupBy       string
	Having        string
	Distinct      bool
	Limit         *int
	Offset        *int
}

// FromParams reads LIMIT, OFFSET, DISTINCT, GROUP_BY and HAVING from id.
// LIMIT and OFFSET values that are not all digits are ignored.
func FromParams(id resource.Identifier) Spec {
	return Spec{
		Limit:    digits(id.Param(resource.ParamLimit)),
		Offset:   digits(id.Param(resource.ParamOffset)),
		Distinct: id.Bool(resource.ParamDistinct, false),
		GroupBy:  id.Param(resource.ParamGroupBy),
		Having:   id.Param(resource.ParamHaving),
	}
}

func digits(s string) *int {
	if s == "" {
		return nil
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// LimitClause renders the limit policy: "<offset>,<limit>" when both are
// set, "<limit>" for a limit alone and "" for neither. An offset without a
// limit is an InvalidQuery.
func LimitClause(limit, offset *int) (string, error) {
	switch {
	case limit != nil && offset != nil:
		return strconv.Itoa(*offset) + "," + strconv.Itoa(*limit), nil
	case limit != nil:
		return strconv.Itoa(*limit), nil
	case offset != nil:
		return "", errors.New(errors.ErrInvalidQuery, "limit required when offset is set")
	}
	return "", nil
}

// LimitClause renders b's limit policy. Translate has already rejected an
// offset without a limit.
func (b Bound) LimitClause() string {
	s, _ := LimitClause(b.Limit, b.Offset)
	return s
}

// KeySelection targets exactly the row with the table's primary key. The
// key column is quoted for d.
func KeySelection(d Dialect, td *catalog.TableDetails) string {
	return d.Quote(td.PrimaryKey.Column) + " = ?"
}

// Translate binds s to routed for dialect d. Single-item identifiers ignore
// the caller's selection, arguments, sort order and grouping and read at
// most one row by key.
func Translate(d Dialect, routed resource.Routed, s Spec) (Bound, error) {
	if _, err := LimitClause(s.Limit, s.Offset); err != nil {
		return Bound{}, err
	}
	if s.Having != "" && s.GroupBy == "" {
		return Bound{}, errors.New(errors.ErrInvalidQuery, "HAVING requires GROUP_BY")
	}

	b := Bound{
		Table:         routed.Table.Name,
		Projection:    s.Projection,
		Selection:     s.Selection,
		SelectionArgs: s.SelectionArgs,
		SortOrder:     s.SortOrder,
		GroupBy:       s.GroupBy,
		Having:        s.Having,
		Distinct:      s.Distinct,
		Limit:         s.Limit,
		Offset:        s.Offset,
	}

	if routed.Mode == resource.SingleItem {
		one := 1
		b.Selection = KeySelection(d, routed.Table)
		b.SelectionArgs = []any{routed.Key}
		b.SortOrder = ""
		b.GroupBy = ""
		b.Having = ""
		b.Limit = &one
		b.Offset = nil
		b.Distinct = true
	}
	return b, nil
}
