package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/errors"
)

// Describe lists the tables and views of the connected database. Only
// single-column primary keys are reported.
func (e *Engine) Describe(ctx context.Context) ([]catalog.Relation, error) {
	switch e.dialect.Name() {
	case "sqlite":
		return e.describeSQLite(ctx)
	case "postgres":
		return e.describeColumns(ctx, postgresColumnsSQL, postgresViewsSQL)
	case "mysql":
		return e.describeColumns(ctx, mysqlColumnsSQL, mysqlViewsSQL)
	}
	return nil, errors.Newf(errors.ErrUncoded, "describe: unsupported dialect %s", e.dialect.Name())
}

func (e *Engine) describeSQLite(ctx context.Context) ([]catalog.Relation, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT name, type, COALESCE(sql, '')
		FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' AND name NOT LIKE 'goose_%'
		ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "list relations")
	}
	var rels []catalog.Relation
	for rows.Next() {
		var name, typ, ddl string
		if err := rows.Scan(&name, &typ, &ddl); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan relation")
		}
		rel := catalog.Relation{Name: name}
		if typ == "view" {
			rel.View = ddl
		}
		rels = append(rels, rel)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range rels {
		if err := e.sqliteColumns(ctx, &rels[i]); err != nil {
			return nil, err
		}
	}
	return rels, nil
}

func (e *Engine) sqliteColumns(ctx context.Context, rel *catalog.Relation) error {
	rows, err := e.db.QueryContext(ctx, "PRAGMA table_info("+e.dialect.Quote(rel.Name)+")")
	if err != nil {
		return errors.Wrapf(err, "table_info %s", rel.Name)
	}
	defer rows.Close()

	var pks []string
	var pkType string
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return errors.Wrapf(err, "scan table_info %s", rel.Name)
		}
		rel.Columns = append(rel.Columns, catalog.Column{Name: name, Type: strings.ToLower(typ)})
		if pk > 0 {
			pks = append(pks, name)
			pkType = typ
		}
	}
	if len(pks) == 1 {
		rel.PrimaryKey = pks[0]
		// an INTEGER PRIMARY KEY aliases the rowid
		rel.AutoIncrement = strings.EqualFold(pkType, "integer")
	}
	return rows.Err()
}

const postgresColumnsSQL = `
SELECT c.table_name,
       c.column_name,
       c.data_type,
       EXISTS (
         SELECT 1
         FROM information_schema.table_constraints tc
         JOIN information_schema.key_column_usage k
           ON k.constraint_name = tc.constraint_name
          AND k.table_schema = tc.table_schema
          AND k.table_name = tc.table_name
         WHERE tc.constraint_type = 'PRIMARY KEY'
           AND tc.table_schema = c.table_schema
           AND tc.table_name = c.table_name
           AND k.column_name = c.column_name
       ) AS is_pk,
       (COALESCE(c.column_default LIKE 'nextval(%', false) OR c.is_identity = 'YES') AS is_auto
FROM information_schema.columns c
WHERE c.table_schema = current_schema()
ORDER BY c.table_name, c.ordinal_position`

const postgresViewsSQL = `
SELECT table_name, view_definition
FROM information_schema.views
WHERE table_schema = current_schema()`

const mysqlColumnsSQL = `
SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, COLUMN_KEY = 'PRI', EXTRA LIKE '%auto_increment%'
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = DATABASE()
ORDER BY TABLE_NAME, ORDINAL_POSITION`

const mysqlViewsSQL = `
SELECT TABLE_NAME, VIEW_DEFINITION
FROM information_schema.VIEWS
WHERE TABLE_SCHEMA = DATABASE()`

func (e *Engine) describeColumns(ctx context.Context, colsSQL, viewsSQL string) ([]catalog.Relation, error) {
	rows, err := e.db.QueryContext(ctx, colsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list columns")
	}
	defer rows.Close()

	byName := map[string]*catalog.Relation{}
	var order []string
	pkCount := map[string]int{}
	for rows.Next() {
		var (
			table, col, typ string
			isPK, isAuto    sql.NullBool
		)
		if err := rows.Scan(&table, &col, &typ, &isPK, &isAuto); err != nil {
			return nil, errors.Wrap(err, "scan column")
		}
		rel, ok := byName[table]
		if !ok {
			rel = &catalog.Relation{Name: table}
			byName[table] = rel
			order = append(order, table)
		}
		rel.Columns = append(rel.Columns, catalog.Column{Name: col, Type: strings.ToLower(typ)})
		if isPK.Bool {
			pkCount[table]++
			rel.PrimaryKey = col
			rel.AutoIncrement = isAuto.Bool
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	views, err := e.db.QueryContext(ctx, viewsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list views")
	}
	defer views.Close()
	for views.Next() {
		var name string
		var def sql.NullString
		if err := views.Scan(&name, &def); err != nil {
			return nil, errors.Wrap(err, "scan view")
		}
		if rel, ok := byName[name]; ok {
			rel.View = def.String
		}
	}
	if err := views.Err(); err != nil {
		return nil, err
	}

	out := make([]catalog.Relation, 0, len(order))
	for _, name := range order {
		rel := byName[name]
		if pkCount[name] > 1 {
			rel.PrimaryKey, rel.AutoIncrement = "", false
		}
		out = append(out, *rel)
	}
	return out, nil
}
