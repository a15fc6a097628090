package direct

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

var tracer = otel.Tracer("expense-tracker.direct")

func startSpan(ctx context.Context, name, table string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.table", table)),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// selectList renders the columns of t in declaration order. Postgres
// values whose Go scan type would lose information (numeric, date, uuid)
// are read as text and converted by the catalog.
func (s *Store) selectList(t *catalog.Table, prefix string) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		ref := prefix + c.Name
		if s.dialect == catalog.Postgres {
			switch c.Type {
			case row.TypeUUID, row.TypeDecimal, row.TypeDate:
				ref = fmt.Sprintf("%s::text AS %s", ref, c.Name)
			}
		}
		cols[i] = ref
	}
	return strings.Join(cols, ", ")
}

// arg converts a row value into a driver argument.
func (s *Store) arg(v row.Value) any {
	switch val := v.(type) {
	case nil, row.Null:
		return nil
	case row.Text:
		return string(val)
	case row.Int:
		return int64(val)
	case row.Bool:
		return bool(val)
	case row.Decimal:
		if s.dialect == catalog.SQLite {
			return minorUnits(val.Decimal)
		}
		return val.String()
	case row.Date:
		return val.String()
	case row.Time:
		if s.dialect == catalog.SQLite {
			return val.UTC().Format(time.RFC3339Nano)
		}
		return val.Time
	default:
		return nil
	}
}

// minorUnits binds a decimal for SQLite. Stored values always fit the
// money scale; a finer filter bound is compared as a real number.
func minorUnits(d decimal.Decimal) any {
	if n, ok := catalog.MinorUnits(d); ok {
		return n
	}
	f, _ := d.Shift(catalog.MoneyScale).Float64()
	return f
}

// scanRows decodes every result row into a typed row of t. SQLite
// decimals arrive as minor units.
func (s *Store) scanRows(t *catalog.Table, rows *sql.Rows) ([]row.Row, error) {
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []row.Row
	for rows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(names))
		for i, n := range names {
			m[n] = vals[i]
			if s.dialect != catalog.SQLite {
				continue
			}
			if units, ok := vals[i].(int64); ok {
				if typ, _ := t.TypeOf(n); typ == row.TypeDecimal {
					m[n] = catalog.FromMinorUnits(units)
				}
			}
		}
		r, err := t.Decode(m)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// where accumulates ANDed conditions with their parameters.
type where struct {
	parts  []string
	params []any
}

func (w *where) add(cond string, params ...any) {
	if cond == "" {
		return
	}
	w.parts = append(w.parts, cond)
	w.params = append(w.params, params...)
}

func (w *where) String() string {
	if len(w.parts) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.parts, " AND ")
}

// conditions renders resolved filter conditions over the aliased table.
func (s *Store) conditions(w *where, f backend.Filter) {
	for _, c := range f.Conds {
		op, _ := c.Op.SQL()
		if c.Op.Unary() {
			w.add(fmt.Sprintf("t.%s %s", c.Column, op))
			continue
		}
		w.add(fmt.Sprintf("t.%s %s ?", c.Column, op), s.arg(c.Value))
	}
}

// orderBy always ends with the id tiebreak.
func orderBy(f backend.Filter) string {
	var keys []string
	for _, o := range f.Orders {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		keys = append(keys, fmt.Sprintf("t.%s %s", o.Column, dir))
	}
	keys = append(keys, "t.id ASC")
	return " ORDER BY " + strings.Join(keys, ", ")
}

func (s *Store) forUpdate() string {
	if s.dialect == catalog.Postgres {
		return " FOR UPDATE"
	}
	return ""
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
