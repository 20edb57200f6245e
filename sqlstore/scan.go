package sqlstore

import (
	"database/sql"
	"encoding/json"
)

// scanAll consumes every row of rows into maps keyed by column name.
func scanAll(rows *sql.Rows) ([]map[string]any, error) {
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, rowToMap(cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// rowToMap converts a single row (columns + values) to a map.
func rowToMap(cols []string, vals []any) map[string]any {
	m := make(map[string]any, len(cols))
	for i, c := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			// Try JSON decoding; if it fails, keep as string
			var js any
			if json.Unmarshal(b, &js) == nil {
				m[c] = js
				continue
			}
			m[c] = string(b)
			continue
		}
		m[c] = v
	}
	return m
}
