package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/cvagent/internal/sqldb"
)

const queryFailed = "Error: Query failed. Please rewrite your query and try again."

func (t *Toolset) listTables(ctx context.Context) (string, error) {
	names, err := t.DB.ListTables(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return fmt.Sprintf("Error: %v", err), nil
	}
	if len(names) == 0 {
		return "The database has no tables.", nil
	}
	return strings.Join(names, "\n"), nil
}

func (t *Toolset) getSchema(ctx context.Context, tables []string) (string, error) {
	described, err := t.DB.DescribeTables(ctx, tables)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	var sb strings.Builder
	for _, tbl := range described {
		fmt.Fprintf(&sb, "Table %s:\n", tbl.Name)
		for _, c := range tbl.Columns {
			fmt.Fprintf(&sb, "  %s %s", c.Name, c.Type)
			if c.PrimaryKey {
				sb.WriteString(" PRIMARY KEY")
			}
			if c.NotNull {
				sb.WriteString(" NOT NULL")
			}
			sb.WriteByte('\n')
		}
	}
	if err != nil {
		fmt.Fprintf(&sb, "Error: %v. Call list_tables to see valid names.", err)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// runQuery hands the statement to the backend as is. Backend errors go back
// into history verbatim.
func (t *Toolset) runQuery(ctx context.Context, query string) (string, error) {
	rows, err := t.DB.Query(ctx, query, t.maxRows())
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "Error: " + err.Error(), nil
	}
	if len(rows.Values) == 0 {
		return queryFailed, nil
	}
	return t.formatRows(rows), nil
}

// formatRows renders rows as a pipe-separated table, stopping once the
// token budget is spent.
func (t *Toolset) formatRows(rows *sqldb.Rows) string {
	tk, budget := t.tokenBudget()

	var sb strings.Builder
	header := strings.Join(rows.Columns, " | ")
	sb.WriteString(header)
	used, _ := tk.CountTokens(header, "")

	shown := 0
	for _, r := range rows.Values {
		cells := make([]string, len(r))
		for i, v := range r {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		line := strings.Join(cells, " | ")
		n, _ := tk.CountTokens(line, "")
		if shown > 0 && used+n > budget {
			break
		}
		used += n
		sb.WriteByte('\n')
		sb.WriteString(line)
		shown++
	}

	if shown < len(rows.Values) || rows.Truncated {
		fmt.Fprintf(&sb, "\n(showing %d rows; more exist, narrow the query or aggregate)", shown)
	}
	return sb.String()
}
