package query

import (
	"strings"
)

// Statement is rendered SQL plus its arguments, in bind order.
type Statement struct {
	SQL  string
	Args []any
}

// Select renders b as a SELECT.
func Select(d Dialect, b Bound) Statement {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if b.Distinct {
		sb.WriteString("DISTINCT ")
	}
	if len(b.Projection) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.Projection, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(d.Quote(b.Table))
	if b.Selection != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(b.Selection)
	}
	if b.GroupBy != "" {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(b.GroupBy)
	}
	if b.Having != "" {
		sb.WriteString(" HAVING ")
		sb.WriteString(b.Having)
	}
	if b.SortOrder != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(b.SortOrder)
	}
	sb.WriteString(d.Limit(b.Limit, b.Offset))
	return Statement{SQL: Rebind(d, sb.String()), Args: b.SelectionArgs}
}

// Insert renders an INSERT of cols. When returning is set and the dialect
// supports it, the statement yields that column of the new row.
func Insert(d Dialect, table string, cols []string, vals []any, returning string) Statement {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(d.Quote(table))
	if len(cols) == 0 {
		sb.WriteString(" ")
		sb.WriteString(d.EmptyInsert())
	} else {
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = d.Quote(c)
			marks[i] = "?"
		}
		sb.WriteString(" (")
		sb.WriteString(strings.Join(quoted, ", "))
		sb.WriteString(") VALUES (")
		sb.WriteString(strings.Join(marks, ", "))
		sb.WriteString(")")
	}
	if returning != "" {
		sb.WriteString(d.Returning(returning))
	}
	return Statement{SQL: Rebind(d, sb.String()), Args: vals}
}

// Update renders an UPDATE setting cols, restricted by selection.
func Update(d Dialect, table string, cols []string, vals []any, selection string, args []any) Statement {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(d.Quote(table))
	sb.WriteString(" SET ")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.Quote(c))
		sb.WriteString(" = ?")
	}
	if selection != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(selection)
	}
	all := make([]any, 0, len(vals)+len(args))
	all = append(all, vals...)
	all = append(all, args...)
	return Statement{SQL: Rebind(d, sb.String()), Args: all}
}

// Delete renders a DELETE restricted by selection.
func Delete(d Dialect, table string, selection string, args []any) Statement {
	sql := "DELETE FROM " + d.Quote(table)
	if selection != "" {
		sql += " WHERE " + selection
	}
	return Statement{SQL: Rebind(d, sql), Args: args}
}
