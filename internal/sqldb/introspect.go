package sqldb

import (
	"context"
	"fmt"
	"sort"
)

// Column describes one column of a table.
type Column struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
}

// Table is a table with its columns in declaration order.
type Table struct {
	Name    string
	Columns []Column
}

// ListTables returns user table names in lexical order.
func (d *DB) ListTables(ctx context.Context) ([]string, error) {
	var q string
	switch d.dialect {
	case Postgres:
		q = `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
ORDER BY table_name`
	default:
		q = `SELECT name FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`
	}

	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// DescribeTables returns the columns of each named table. Unknown tables are
// reported as an error naming them so the caller can correct itself.
func (d *DB) DescribeTables(ctx context.Context, tables []string) ([]Table, error) {
	out := make([]Table, 0, len(tables))
	var missing []string
	for _, name := range tables {
		cols, err := d.describe(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			missing = append(missing, name)
			continue
		}
		out = append(out, Table{Name: name, Columns: cols})
	}
	if len(missing) > 0 {
		return out, fmt.Errorf("unknown tables: %v", missing)
	}
	return out, nil
}

func (d *DB) describe(ctx context.Context, table string) ([]Column, error) {
	if d.dialect == Postgres {
		return d.describePostgres(ctx, table)
	}
	return d.describeSQLite(ctx, table)
}

func (d *DB) describeSQLite(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			c       Column
			notNull int
			pk      int
		)
		if err := rows.Scan(&c.Name, &c.Type, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("scanning column of %s: %w", table, err)
		}
		c.NotNull = notNull != 0
		c.PrimaryKey = pk != 0
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (d *DB) describePostgres(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT c.column_name, c.data_type, c.is_nullable = 'NO',
  EXISTS (
    SELECT 1 FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage k
      ON k.constraint_name = tc.constraint_name AND k.table_name = tc.table_name
    WHERE tc.table_name = c.table_name AND tc.constraint_type = 'PRIMARY KEY'
      AND k.column_name = c.column_name
  )
FROM information_schema.columns c
WHERE c.table_schema = current_schema() AND c.table_name = $1
ORDER BY c.ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type, &c.NotNull, &c.PrimaryKey); err != nil {
			return nil, fmt.Errorf("scanning column of %s: %w", table, err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
