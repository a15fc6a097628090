package catalog

import (
	"fmt"
	"strings"

	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// DDL returns the CREATE statements for the catalog in dependency order.
// Internal bookkeeping tables are included only when internal is true; the
// managed store never carries them.
//
// Every statement is idempotent (IF NOT EXISTS).
func (c *Catalog) DDL(d Dialect, internal bool) []string {
	var stmts []string
	for _, t := range c.tables {
		if t.Internal && !internal {
			continue
		}
		stmts = append(stmts, t.CreateStatement(d))
		stmts = append(stmts, t.IndexStatements()...)
	}
	return stmts
}

// CreateStatement renders CREATE TABLE for one table.
func (t *Table) CreateStatement(d Dialect) string {
	var lines []string
	for _, col := range t.Columns {
		lines = append(lines, columnDef(d, col))
	}
	for _, col := range t.Columns {
		if col.Unique {
			lines = append(lines, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", UniqueName(t.Name, col.Name), col.Name))
		}
	}
	for _, u := range t.Uniques {
		lines = append(lines, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", u.Name, strings.Join(u.Columns, ", ")))
	}
	for _, col := range t.Columns {
		if col.Ref != nil {
			action := col.Ref.OnDelete
			if action == "" {
				action = Restrict
			}
			lines = append(lines, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
				ForeignKeyName(t.Name, col.Name), col.Name, col.Ref.Table, col.Ref.Column, action))
		}
	}
	for _, col := range t.Columns {
		if len(col.Enum) > 0 {
			quoted := make([]string, len(col.Enum))
			for i, v := range col.Enum {
				quoted[i] = quote(v)
			}
			lines = append(lines, fmt.Sprintf("CONSTRAINT %s CHECK (%s IN (%s))",
				CheckName(t.Name, col.Name), col.Name, strings.Join(quoted, ", ")))
		}
	}
	for _, chk := range t.Checks {
		lines = append(lines, fmt.Sprintf("CONSTRAINT %s CHECK (%s)", chk.Name, chk.Expr))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", t.Name, strings.Join(lines, ",\n    "))
}

// IndexStatements renders the lookup indexes: scope columns and foreign keys.
func (t *Table) IndexStatements() []string {
	var stmts []string
	seen := map[string]bool{"id": true}
	add := func(col string) {
		if col == "" || seen[col] {
			return
		}
		seen[col] = true
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", t.Name, col, t.Name, col))
	}
	add(t.OwnerColumn)
	add(t.OrgColumn)
	for _, col := range t.Columns {
		if col.Ref != nil {
			add(col.Name)
		}
	}
	return stmts
}

func columnDef(d Dialect, col Column) string {
	parts := []string{col.Name, SQLType(d, col.Type)}
	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if def := defaultExpr(d, col); def != "" {
		parts = append(parts, "DEFAULT "+def)
	}
	if col.Name == "id" {
		parts = append(parts, "PRIMARY KEY")
	}
	return strings.Join(parts, " ")
}

func defaultExpr(dialect Dialect, col Column) string {
	switch col.Generated {
	case GeneratedID:
		if dialect == Postgres {
			return "gen_random_uuid()"
		}
		return ""
	case GeneratedNow:
		if dialect == Postgres {
			return "now()"
		}
		return "CURRENT_TIMESTAMP"
	}
	if col.Default == nil {
		return ""
	}
	if d, ok := col.Default.(row.Decimal); ok && dialect == SQLite {
		n, _ := MinorUnits(d.Decimal)
		return fmt.Sprintf("%d", n)
	}
	return Literal(col.Default)
}

// SQLType maps a column type to the dialect's storage type.
// SQLite keeps decimals as INTEGER minor units (see MoneyScale), so sums
// and comparisons in procedures and checks are exact.
func SQLType(d Dialect, t row.Type) string {
	if d == Postgres {
		switch t {
		case row.TypeUUID:
			return "uuid"
		case row.TypeInt:
			return "bigint"
		case row.TypeBool:
			return "boolean"
		case row.TypeDecimal:
			return "numeric"
		case row.TypeDate:
			return "date"
		case row.TypeTime:
			return "timestamptz"
		default:
			return "text"
		}
	}
	switch t {
	case row.TypeInt, row.TypeBool, row.TypeDecimal:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// Literal renders a static value as a SQL literal for DDL.
// Never used for caller-supplied data.
func Literal(v row.Value) string {
	switch val := v.(type) {
	case row.Text:
		return quote(string(val))
	case row.Int:
		return fmt.Sprintf("%d", int64(val))
	case row.Bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case row.Decimal:
		return val.String()
	case row.Date:
		return quote(val.String())
	default:
		return "NULL"
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
