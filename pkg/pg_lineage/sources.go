package pg_lineage

import (
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// BaseTables returns the relations a view definition reads from. The input is
// either a bare SELECT or a CREATE VIEW statement. CTE names are not reported.
// Schema-qualified references keep their schema ("audit.events"), others are
// returned bare ("books"). The result is sorted and deduplicated.
func BaseTables(sql string) ([]string, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if len(tree.GetStmts()) != 1 {
		return nil, fmt.Errorf("expected exactly one statement, got %d", len(tree.GetStmts()))
	}

	stmt := tree.GetStmts()[0].GetStmt()
	if vs := stmt.GetViewStmt(); vs != nil {
		stmt = vs.GetQuery()
	}
	sel := stmt.GetSelectStmt()
	if sel == nil {
		return nil, fmt.Errorf("not a SELECT or CREATE VIEW statement")
	}

	w := &sourceWalker{found: map[string]struct{}{}}
	w.walkSelect(sel, nil)

	out := make([]string, 0, len(w.found))
	for t := range w.found {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// TableName strips an optional schema from a name returned by BaseTables.
func TableName(qualified string) string {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}

type sourceWalker struct {
	found map[string]struct{}
}

// walkSelect records base relations of sel. ctes holds the CTE names visible
// at this scope.
func (w *sourceWalker) walkSelect(sel *pg_query.SelectStmt, ctes map[string]bool) {
	if sel == nil {
		return
	}

	if wc := sel.GetWithClause(); wc != nil {
		scope := make(map[string]bool, len(ctes)+len(wc.GetCtes()))
		for k := range ctes {
			scope[k] = true
		}
		for _, n := range wc.GetCtes() {
			if cte := n.GetCommonTableExpr(); cte != nil {
				scope[cte.GetCtename()] = true
			}
		}
		for _, n := range wc.GetCtes() {
			if cte := n.GetCommonTableExpr(); cte != nil {
				w.walkSelect(cte.GetCtequery().GetSelectStmt(), scope)
			}
		}
		ctes = scope
	}

	// UNION / INTERSECT / EXCEPT
	if sel.GetLarg() != nil || sel.GetRarg() != nil {
		w.walkSelect(sel.GetLarg(), ctes)
		w.walkSelect(sel.GetRarg(), ctes)
		return
	}

	for _, n := range sel.GetFromClause() {
		w.walkFrom(n, ctes)
	}
	for _, n := range sel.GetTargetList() {
		if rt := n.GetResTarget(); rt != nil {
			w.walkExpr(rt.GetVal(), ctes)
		}
	}
	w.walkExpr(sel.GetWhereClause(), ctes)
	w.walkExpr(sel.GetHavingClause(), ctes)
}

func (w *sourceWalker) walkFrom(n *pg_query.Node, ctes map[string]bool) {
	switch {
	case n.GetRangeVar() != nil:
		rv := n.GetRangeVar()
		if sch := rv.GetSchemaname(); sch != "" {
			w.found[sch+"."+rv.GetRelname()] = struct{}{}
			return
		}
		if !ctes[rv.GetRelname()] {
			w.found[rv.GetRelname()] = struct{}{}
		}

	case n.GetJoinExpr() != nil:
		je := n.GetJoinExpr()
		if je.GetLarg() != nil {
			w.walkFrom(je.GetLarg(), ctes)
		}
		if je.GetRarg() != nil {
			w.walkFrom(je.GetRarg(), ctes)
		}
		w.walkExpr(je.GetQuals(), ctes)

	case n.GetRangeSubselect() != nil:
		if sub := n.GetRangeSubselect().GetSubquery(); sub != nil {
			w.walkSelect(sub.GetSelectStmt(), ctes)
		}
	}
}

// walkExpr descends into the expression containers that can hold a SubLink.
func (w *sourceWalker) walkExpr(expr *pg_query.Node, ctes map[string]bool) {
	if expr == nil {
		return
	}
	if sl := expr.GetSubLink(); sl != nil {
		w.walkExpr(sl.GetTestexpr(), ctes)
		if sub := sl.GetSubselect(); sub != nil {
			w.walkSelect(sub.GetSelectStmt(), ctes)
		}
		return
	}

	switch {
	case expr.GetAExpr() != nil:
		w.walkExpr(expr.GetAExpr().GetLexpr(), ctes)
		w.walkExpr(expr.GetAExpr().GetRexpr(), ctes)
	case expr.GetBoolExpr() != nil:
		for _, a := range expr.GetBoolExpr().GetArgs() {
			w.walkExpr(a, ctes)
		}
	case expr.GetFuncCall() != nil:
		for _, a := range expr.GetFuncCall().GetArgs() {
			w.walkExpr(a, ctes)
		}
	case expr.GetCaseExpr() != nil:
		ce := expr.GetCaseExpr()
		for _, a := range ce.GetArgs() {
			if cw := a.GetCaseWhen(); cw != nil {
				w.walkExpr(cw.GetExpr(), ctes)
				w.walkExpr(cw.GetResult(), ctes)
			}
		}
		w.walkExpr(ce.GetDefresult(), ctes)
	case expr.GetCoalesceExpr() != nil:
		for _, a := range expr.GetCoalesceExpr().GetArgs() {
			w.walkExpr(a, ctes)
		}
	case expr.GetTypeCast() != nil:
		w.walkExpr(expr.GetTypeCast().GetArg(), ctes)
	case expr.GetNullTest() != nil:
		w.walkExpr(expr.GetNullTest().GetArg(), ctes)
	case expr.GetList() != nil:
		for _, a := range expr.GetList().GetItems() {
			w.walkExpr(a, ctes)
		}
	}
}
