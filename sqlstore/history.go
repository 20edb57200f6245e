package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/mickamy/gotrack"
	"github.com/mickamy/gotrack/internal/ident"
	"github.com/mickamy/gotrack/internal/query"
)

// entry represents a captured change for a single row.
type entry struct {
	table  string
	op     string
	id     any
	before map[string]any // UPDATE/DELETE
	after  map[string]any // INSERT/UPDATE
	meta   meta
}

// meta carries operational context for audit trails.
type meta struct {
	operator string
	traceID  string
	reason   string
}

// HistoryRecord is one row read back from a history table.
type HistoryRecord struct {
	ID         any
	Operation  string
	OperatedAt any
	OperatedBy string
	TraceID    string
	Reason     string
	Before     map[string]any
	After      map[string]any
}

var historyColumns = []string{"id", "operation", "operated_at", "operated_by", "trace_id", "reason", "before", "after"}

// capture buffers the history entry of an applied change.
func (t *tx) capture(c *gotrack.Change) {
	if !t.record {
		return
	}
	table := c.EntityType().Table()
	if t.present != nil && !t.present[table] {
		return
	}
	before, after := c.Before(), c.After()
	t.buf.Add(entry{
		table:  table,
		op:     c.Operation().String(),
		id:     changeID(c, table, before, after),
		before: before,
		after:  after,
		meta:   extractMeta(t.ctx),
	})
}

// flush writes buffered entries into their corresponding history tables within the same transaction.
func (t *tx) flush() error {
	rows := t.buf.Drain()
	if len(rows) == 0 {
		return nil
	}

	operatedAt := time.Now().UTC()
	for _, e := range rows {
		beforeJSON, err := marshalDoc(t.x.applyRedact(e.before))
		if err != nil {
			return fmt.Errorf("sqlstore: failed to marshal before: %w", err)
		}
		afterJSON, err := marshalDoc(t.x.applyRedact(e.after))
		if err != nil {
			return fmt.Errorf("sqlstore: failed to marshal after: %w", err)
		}

		historyTable := t.x.cfg.HistoryTableName(e.table)
		st, err := query.Insert(t.x.cfg.Placeholder, historyTable, []query.Column{
			{Name: "id", Value: e.id},
			{Name: "operation", Value: e.op},
			{Name: "operated_at", Value: operatedAt},
			{Name: "operated_by", Value: e.meta.operator},
			{Name: "trace_id", Value: e.meta.traceID},
			{Name: "reason", Value: e.meta.reason},
			{Name: "before", Value: beforeJSON},
			{Name: "after", Value: afterJSON},
		}, nil)
		if err != nil {
			return fmt.Errorf("sqlstore: invalid history table identifier for %q: %w", e.table, err)
		}
		if _, err := t.Tx.ExecContext(t.ctx, st.SQL, st.Args...); err != nil {
			return fmt.Errorf("sqlstore: failed to insert history table: %w", err)
		}
	}
	t.x.logger.Debug("history flushed", zap.Int("records", len(rows)))
	return nil
}

// probeHistoryTables reports which tables touched by changes have a
// history table. Probing runs outside the save transaction so a missing
// table cannot abort it.
func (x *Executor) probeHistoryTables(ctx context.Context, changes []*gotrack.Change) map[string]bool {
	present := map[string]bool{}
	for _, c := range changes {
		table := c.EntityType().Table()
		if _, seen := present[table]; seen {
			continue
		}
		q := fmt.Sprintf("SELECT 1 FROM %s WHERE 1 = 0", ident.QuoteTable(x.cfg.HistoryTableName(table)))
		rows, err := x.db.QueryContext(ctx, q)
		if err != nil {
			x.logger.Debug("history table not found", zap.String("table", table), zap.Error(err))
			present[table] = false
			continue
		}
		_ = rows.Close()
		present[table] = true
	}
	return present
}

// History reads the history rows recorded for base table in table order.
func (x *Executor) History(ctx context.Context, base string) ([]HistoryRecord, error) {
	historyIdent := ident.QuoteTable(x.cfg.HistoryTableName(base))
	if historyIdent == "" {
		return nil, fmt.Errorf("sqlstore: invalid history table identifier for %q", base)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(ident.QuoteAll(historyColumns), ", "), historyIdent)
	rows, err := x.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: failed to query history: %w", err)
	}
	ms, err := scanAll(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: failed to scan history: %w", err)
	}
	out := make([]HistoryRecord, len(ms))
	for i, m := range ms {
		out[i] = HistoryRecord{
			ID:         m["id"],
			Operation:  asString(m["operation"]),
			OperatedAt: m["operated_at"],
			OperatedBy: asString(m["operated_by"]),
			TraceID:    asString(m["trace_id"]),
			Reason:     asString(m["reason"]),
			Before:     asDoc(m["before"]),
			After:      asDoc(m["after"]),
		}
	}
	return out, nil
}

// applyRedact returns a redacted copy of the given map using cfg.Redact.
func (x *Executor) applyRedact(m map[string]any) map[string]any {
	if m == nil || len(x.cfg.Redact) == 0 {
		return m
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if fn, ok := x.cfg.Redact[k]; ok && fn != nil {
			out[k] = fn(k, v)
		} else {
			out[k] = v
		}
	}
	return out
}

// changeID uses the single-column key of the change, falling back to
// column name heuristics for composite keys.
func changeID(c *gotrack.Change, table string, before, after map[string]any) any {
	if key := c.KeyProperties(); len(key) == 1 {
		return c.Value(key[0])
	}
	return pickID(table, before, after)
}

// pickID attempts to choose a sensible primary key from before/after maps.
func pickID(table string, before, after map[string]any) any {
	// Heuristics: "id" first; then "<singular>_id", else nil.
	if v, ok := before["id"]; ok {
		return v
	}
	if v, ok := after["id"]; ok {
		return v
	}
	base := ident.BaseTableName(table)
	singular := inflection.Singular(base)
	singularID := fmt.Sprintf("%s_id", singular)
	if v, ok := before[singularID]; ok {
		return v
	}
	if v, ok := after[singularID]; ok {
		return v
	}
	return nil
}

func marshalDoc(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func asDoc(v any) map[string]any {
	switch d := v.(type) {
	case map[string]any:
		return d
	case string:
		var m map[string]any
		if json.Unmarshal([]byte(d), &m) == nil {
			return m
		}
	}
	return nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
