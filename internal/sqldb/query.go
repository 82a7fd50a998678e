package sqldb

import (
	"context"
	"fmt"
	"time"
)

// Rows is a materialized query result.
type Rows struct {
	Columns []string
	Values  [][]any
	// Truncated is set when more rows existed than were read.
	Truncated bool
}

// Query runs a raw statement and reads at most maxRows rows. Backend
// rejections are returned as errors, never panics.
func (d *DB) Query(ctx context.Context, query string, maxRows int) (*Rows, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &Rows{Columns: cols}

	for rows.Next() {
		if maxRows > 0 && len(out.Values) >= maxRows {
			out.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		out.Values = append(out.Values, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	}
	return v
}
