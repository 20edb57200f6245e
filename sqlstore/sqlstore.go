// Package sqlstore writes gotrack changes to a database/sql connection,
// optionally recording a before/after history row for every change.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mickamy/gotrack"
	"github.com/mickamy/gotrack/internal/buffer"
	"github.com/mickamy/gotrack/internal/ident"
	"github.com/mickamy/gotrack/internal/query"
)

// ErrNoKey is returned when an update or delete targets a type without
// key properties.
var ErrNoKey = errors.New("sqlstore: entity type has no key")

// Placeholder selects the bind parameter syntax of the driver.
type Placeholder = query.Placeholder

const (
	Dollar   = query.Dollar   // $1, $2 (postgres, pgx)
	Question = query.Question // ?, ? (sqlite)
)

// RedactFunc defines a function used to sanitize or mask values before they are recorded.
type RedactFunc func(key string, v any) any

// RedactMap maps column names to specific redaction functions.
type RedactMap map[string]RedactFunc

// Config defines the options of an Executor.
type Config struct {
	Placeholder     Placeholder    // bind syntax, Dollar by default
	History         bool           // record a history row per change
	HistorySuffix   string         // e.g. "_history" (default)
	Redact          RedactMap      // optional column-based redaction of history rows
	SkipIfNotExists bool           // skip history rows for tables without a history table
	TxOptions       *sql.TxOptions // used for the save transaction
	Logger          *zap.Logger
}

func (c Config) HistoryTableName(base string) string {
	parts := ident.HistoryParts(base, c.HistorySuffix)
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ".")
}

// Executor implements gotrack.Executor over a *sql.DB. Each Execute call
// runs in its own transaction.
type Executor struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger
}

var _ gotrack.Executor = (*Executor)(nil)

// New creates an Executor with sensible defaults.
func New(db *sql.DB, cfg Config) *Executor {
	if cfg.HistorySuffix == "" {
		cfg.HistorySuffix = "_history"
	}
	if cfg.Redact == nil {
		cfg.Redact = RedactMap{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Executor{db: db, cfg: cfg, logger: cfg.Logger.Named("sqlstore")}
}

// Execute applies changes in order inside one transaction. An update or
// delete that matches no row rolls the transaction back and returns a
// *gotrack.ConcurrencyError.
func (x *Executor) Execute(ctx context.Context, changes []*gotrack.Change) error {
	if len(changes) == 0 {
		return nil
	}
	record := x.cfg.History && !extractSkip(ctx)
	var present map[string]bool
	if record && x.cfg.SkipIfNotExists {
		present = x.probeHistoryTables(ctx, changes)
	}

	t, err := x.begin(ctx, record, present)
	if err != nil {
		return err
	}
	for _, c := range changes {
		if err := t.apply(c); err != nil {
			if rbErr := t.Rollback(); rbErr != nil {
				x.logger.Warn("rollback failed", zap.Error(rbErr))
			}
			return err
		}
	}
	if err := t.Commit(); err != nil {
		return err
	}
	x.logger.Debug("changes executed", zap.Int("changes", len(changes)))
	return nil
}

// tx wraps a *sql.Tx and buffers history records within the transaction.
type tx struct {
	*sql.Tx
	x       *Executor
	buf     *buffer.Buffer[entry]
	ctx     context.Context
	record  bool
	present map[string]bool // nil unless history tables were probed
}

func (x *Executor) begin(ctx context.Context, record bool, present map[string]bool) (*tx, error) {
	t, err := x.db.BeginTx(ctx, x.cfg.TxOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: failed to begin transaction: %w", err)
	}
	return &tx{Tx: t, x: x, buf: buffer.NewBuffer[entry](), ctx: ctx, record: record, present: present}, nil
}

func (t *tx) apply(c *gotrack.Change) error {
	switch c.Operation() {
	case gotrack.OpInsert:
		if err := t.insert(c); err != nil {
			return err
		}
	case gotrack.OpUpdate:
		where, err := predicate(c)
		if err != nil {
			return err
		}
		st, err := query.Update(t.x.cfg.Placeholder, c.EntityType().Table(), values(c, c.UpdateProperties()), where)
		if err != nil {
			return fmt.Errorf("sqlstore: update %s: %w", c.EntityType().Table(), err)
		}
		if err := t.execAffecting(c, st); err != nil {
			return err
		}
	case gotrack.OpDelete:
		where, err := predicate(c)
		if err != nil {
			return err
		}
		st, err := query.Delete(t.x.cfg.Placeholder, c.EntityType().Table(), where)
		if err != nil {
			return fmt.Errorf("sqlstore: delete %s: %w", c.EntityType().Table(), err)
		}
		if err := t.execAffecting(c, st); err != nil {
			return err
		}
	default:
		return fmt.Errorf("sqlstore: unsupported operation %s", c.Operation())
	}
	t.capture(c)
	return nil
}

func (t *tx) insert(c *gotrack.Change) error {
	table := c.EntityType().Table()
	generated := c.StoreGeneratedProperties()
	returning := make([]string, len(generated))
	for i, p := range generated {
		returning[i] = p.Column()
	}
	st, err := query.Insert(t.x.cfg.Placeholder, table, values(c, c.InsertProperties()), returning)
	if err != nil {
		return fmt.Errorf("sqlstore: insert %s: %w", table, err)
	}

	if len(generated) == 0 {
		if _, err := t.ExecContext(t.ctx, st.SQL, st.Args...); err != nil {
			return fmt.Errorf("sqlstore: insert %s: %w", table, err)
		}
		return nil
	}

	vals := make([]any, len(generated))
	ptrs := make([]any, len(generated))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := t.QueryRowContext(t.ctx, st.SQL, st.Args...).Scan(ptrs...); err != nil {
		return fmt.Errorf("sqlstore: insert %s: %w", table, err)
	}
	for i, p := range generated {
		if err := c.SetStoreValue(p, vals[i]); err != nil {
			return fmt.Errorf("sqlstore: insert %s: %w", table, err)
		}
	}
	return nil
}

func (t *tx) execAffecting(c *gotrack.Change, st query.Statement) error {
	res, err := t.ExecContext(t.ctx, st.SQL, st.Args...)
	if err != nil {
		return fmt.Errorf("sqlstore: %s %s: %w", strings.ToLower(c.Operation().String()), c.EntityType().Table(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: %s %s: %w", strings.ToLower(c.Operation().String()), c.EntityType().Table(), err)
	}
	if n == 0 {
		return gotrack.NewConcurrencyError(c.Entry())
	}
	return nil
}

// Commit flushes buffered history records into history tables before commit.
func (t *tx) Commit() error {
	if err := t.flush(); err != nil {
		if rbErr := t.Tx.Rollback(); rbErr != nil {
			t.x.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := t.Tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: failed to commit: %w", err)
	}
	return nil
}

// Rollback clears buffered history entries and rolls back the transaction.
func (t *tx) Rollback() error {
	t.buf.Reset()
	return t.Tx.Rollback()
}

func values(c *gotrack.Change, props []*gotrack.Property) []query.Column {
	cols := make([]query.Column, len(props))
	for i, p := range props {
		cols[i] = query.Column{Name: p.Column(), Value: c.Value(p)}
	}
	return cols
}

// predicate matches the row by key and by the original value of every
// concurrency token. Types without a key cannot be matched to a row.
func predicate(c *gotrack.Change) ([]query.Column, error) {
	if len(c.KeyProperties()) == 0 {
		return nil, fmt.Errorf("sqlstore: %s %s: %w", strings.ToLower(c.Operation().String()), c.EntityType().Name(), ErrNoKey)
	}
	var cols []query.Column
	for _, p := range c.KeyProperties() {
		cols = append(cols, query.Column{Name: p.Column(), Value: c.Value(p)})
	}
	for _, p := range c.ConcurrencyTokens() {
		if p.IsKey() {
			continue
		}
		cols = append(cols, query.Column{Name: p.Column(), Value: c.OriginalValue(p)})
	}
	return cols, nil
}
