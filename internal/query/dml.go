package query

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mickamy/gotrack/internal/ident"
)

// Placeholder selects the bind parameter syntax of the target driver.
type Placeholder int

const (
	Dollar   Placeholder = iota // $1, $2 (postgres)
	Question                    // ?, ? (sqlite, mysql)
)

func (p Placeholder) Format(n int) string {
	if p == Question {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// Column pairs a column name with the value bound to it.
type Column struct {
	Name  string
	Value any
}

// Statement is a rendered statement and its bind arguments.
type Statement struct {
	SQL  string
	Args []any
}

type builder struct {
	ph   Placeholder
	b    strings.Builder
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.ph.Format(len(b.args))
}

func (b *builder) where(cols []Column) {
	if len(cols) == 0 {
		return
	}
	b.b.WriteString(" WHERE ")
	for i, c := range cols {
		if i > 0 {
			b.b.WriteString(" AND ")
		}
		b.b.WriteString(ident.Quote(c.Name))
		if isNull(c.Value) {
			b.b.WriteString(" IS NULL")
			continue
		}
		b.b.WriteString(" = ")
		b.b.WriteString(b.bind(c.Value))
	}
}

func (b *builder) statement() Statement {
	return Statement{SQL: b.b.String(), Args: b.args}
}

var (
	errNoTable = errors.New("query: empty table name")
	errNoWhere = errors.New("query: empty predicate")
)

// Insert renders INSERT INTO table (cols) VALUES (...), optionally with a
// RETURNING clause. No columns renders DEFAULT VALUES.
func Insert(ph Placeholder, table string, cols []Column, returning []string) (Statement, error) {
	t := ident.QuoteTable(table)
	if t == "" {
		return Statement{}, errNoTable
	}
	b := &builder{ph: ph}
	fmt.Fprintf(&b.b, "INSERT INTO %s", t)
	if len(cols) == 0 {
		b.b.WriteString(" DEFAULT VALUES")
	} else {
		names := make([]string, len(cols))
		binds := make([]string, len(cols))
		for i, c := range cols {
			names[i] = ident.Quote(c.Name)
			binds[i] = b.bind(c.Value)
		}
		fmt.Fprintf(&b.b, " (%s) VALUES (%s)", strings.Join(names, ", "), strings.Join(binds, ", "))
	}
	st := b.statement()
	if len(returning) > 0 {
		st.SQL, _ = AppendReturning(st.SQL, returning...)
	}
	return st, nil
}

// Update renders UPDATE table SET ... WHERE ...; nil predicate values
// compare with IS NULL and an empty predicate is rejected.
func Update(ph Placeholder, table string, set []Column, where []Column) (Statement, error) {
	t := ident.QuoteTable(table)
	if t == "" {
		return Statement{}, errNoTable
	}
	if len(set) == 0 {
		return Statement{}, fmt.Errorf("query: update %s without columns", table)
	}
	if len(where) == 0 {
		return Statement{}, fmt.Errorf("query: update %s: %w", table, errNoWhere)
	}
	b := &builder{ph: ph}
	fmt.Fprintf(&b.b, "UPDATE %s SET ", t)
	for i, c := range set {
		if i > 0 {
			b.b.WriteString(", ")
		}
		fmt.Fprintf(&b.b, "%s = %s", ident.Quote(c.Name), b.bind(c.Value))
	}
	b.where(where)
	return b.statement(), nil
}

// Delete renders DELETE FROM table WHERE ...; an empty predicate is
// rejected.
func Delete(ph Placeholder, table string, where []Column) (Statement, error) {
	t := ident.QuoteTable(table)
	if t == "" {
		return Statement{}, errNoTable
	}
	if len(where) == 0 {
		return Statement{}, fmt.Errorf("query: delete from %s: %w", table, errNoWhere)
	}
	b := &builder{ph: ph}
	fmt.Fprintf(&b.b, "DELETE FROM %s", t)
	b.where(where)
	return b.statement(), nil
}

// AppendReturning appends a RETURNING clause for cols, or "RETURNING *"
// when none are given, to the provided statement if non-empty.
// It preserves trailing semicolons by re-attaching them after the RETURNING clause.
func AppendReturning(q string, cols ...string) (string, bool) {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return q, false
	}

	hasSemicolon := false
	for strings.HasSuffix(trimmed, ";") {
		hasSemicolon = true
		trimmed = strings.TrimSpace(trimmed[:len(trimmed)-1])
	}
	if trimmed == "" {
		return q, false
	}

	var b strings.Builder
	b.WriteString(trimmed)
	b.WriteString("\nRETURNING ")
	if len(cols) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(ident.QuoteAll(cols), ", "))
	}
	if hasSemicolon {
		b.WriteString(";")
	}
	return b.String(), true
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
