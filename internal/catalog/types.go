package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/parthhkdigiverse/expense-tracker/internal/policy"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Dialect selects the SQL flavor for generated DDL and statements.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect accepts "postgres" or "sqlite".
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case Postgres, SQLite:
		return Dialect(s), nil
	}
	return "", fmt.Errorf("unknown dialect %q: must be postgres or sqlite", s)
}

// OnDelete is the referential action of a foreign key.
type OnDelete string

const (
	Restrict OnDelete = "RESTRICT"
	Cascade  OnDelete = "CASCADE"
	SetNull  OnDelete = "SET NULL"
)

// Ref is a foreign key from one column to another table's column.
type Ref struct {
	Table    string
	Column   string
	OnDelete OnDelete
}

// Column declares one physical column.
type Column struct {
	Name     string
	Type     row.Type
	Nullable bool
	Default  row.Value // static default applied by the store, nil for none
	Enum     []string  // allowed values, enforced with a CHECK
	Ref      *Ref
	Unique   bool

	// Generated columns are filled by the adapter when a create omits them.
	Generated Generated
}

// Generated names a value the adapter supplies on create.
type Generated int

const (
	NotGenerated Generated = iota
	GeneratedID            // UUIDv7
	GeneratedNow           // current UTC time
)

// Unique is a named multi-column uniqueness constraint.
type Unique struct {
	Name    string
	Columns []string
}

// Check is a named table-level CHECK constraint in portable SQL.
// Columns lists the columns a violation is reported against.
type Check struct {
	Name    string
	Expr    string
	Columns []string
}

// Table declares one entity (or internal bookkeeping relation).
type Table struct {
	Name    string
	Entity  string // domain name, e.g. "Transaction"
	Columns []Column
	Uniques []Unique
	Checks  []Check
	Policy  policy.Policy

	// OwnerColumn is set for personal entities (shape a).
	OwnerColumn string
	// OrgColumn is set for enterprise entities (shape b).
	OrgColumn string

	// Internal tables exist only on the direct store and are not reachable
	// through an adapter.
	Internal bool
}

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table declares name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// TypeOf reports the declared type of a column. It satisfies row.TypeOf.
func (t *Table) TypeOf(name string) (row.Type, bool) {
	c, ok := t.Column(name)
	return c.Type, ok
}

// ColumnNames returns column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Decode converts a loosely typed record into a typed row.
func (t *Table) Decode(m map[string]any) (row.Row, error) {
	r, err := row.FromMap(m, t.TypeOf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name, err)
	}
	return r, nil
}

// Coerce checks every value in r against the declared column types,
// converting where the kinds are compatible. Unknown columns are an error.
func (t *Table) Coerce(r row.Row) (row.Row, error) {
	out := make(row.Row, len(r))
	for col, v := range r {
		c, ok := t.Column(col)
		if !ok {
			return nil, &ColumnError{Table: t.Name, Column: col}
		}
		cv, err := row.Coerce(c.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, col, err)
		}
		if d, ok := cv.(row.Decimal); ok && !FitsMoneyScale(d.Decimal) {
			return nil, fmt.Errorf("%s.%s: more than %d decimal places", t.Name, col, MoneyScale)
		}
		out[col] = cv
	}
	return out, nil
}

// ColumnError reports a column name the table does not declare.
type ColumnError struct {
	Table  string
	Column string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("table %s has no column %q", e.Table, e.Column)
}

// UniqueName is the constraint name for a single-column unique.
func UniqueName(table string, cols ...string) string {
	return table + "_" + strings.Join(cols, "_") + "_key"
}

// ForeignKeyName is the constraint name for a column's foreign key.
func ForeignKeyName(table, col string) string {
	return table + "_" + col + "_fkey"
}

// CheckName is the constraint name for a column's enum check.
func CheckName(table, col string) string {
	return table + "_" + col + "_check"
}

// ConstraintColumns maps a constraint name back to the columns it covers.
// Returns nil for unknown names.
func (t *Table) ConstraintColumns(name string) []string {
	for _, u := range t.Uniques {
		if u.Name == name {
			return u.Columns
		}
	}
	for _, c := range t.Checks {
		if c.Name == name {
			return c.Columns
		}
	}
	for _, c := range t.Columns {
		if (c.Unique && UniqueName(t.Name, c.Name) == name) ||
			(c.Ref != nil && ForeignKeyName(t.Name, c.Name) == name) ||
			(len(c.Enum) > 0 && CheckName(t.Name, c.Name) == name) {
			return []string{c.Name}
		}
	}
	return nil
}

// ConstraintFor finds the unique constraint covering exactly cols, in any
// order. SQLite reports violated columns rather than constraint names.
func (t *Table) ConstraintFor(cols []string) string {
	want := slices.Clone(cols)
	slices.Sort(want)
	for _, c := range t.Columns {
		if c.Unique && len(want) == 1 && want[0] == c.Name {
			return UniqueName(t.Name, c.Name)
		}
	}
	for _, u := range t.Uniques {
		have := slices.Clone(u.Columns)
		slices.Sort(have)
		if slices.Equal(have, want) {
			return u.Name
		}
	}
	return ""
}

// Procedure is a single-statement row update, defined once and executed by
// both adapters: the direct adapter runs it as an UPDATE with the caller's
// predicate composed in, the managed store exposes it as a function.
//
// Expressions are portable SQL over the table's columns; ":name" refers to
// a parameter.
type Procedure struct {
	Name   string
	Table  string
	Key    string   // parameter matched against the row id
	Params []Column // ordered parameters; Key must be one of them
	Set    []Assignment
	Guard  string // extra WHERE condition, empty for none
}

// Assignment sets one column to an expression.
type Assignment struct {
	Column string
	Expr   string
}

// Param returns the named parameter.
func (p *Procedure) Param(name string) (Column, bool) {
	for _, c := range p.Params {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Catalog is the ordered set of tables and procedures.
// Tables appear in dependency order (referenced tables first).
type Catalog struct {
	tables     []*Table
	byName     map[string]*Table
	procedures map[string]*Procedure
}

// New builds and validates a catalog.
func New(tables []*Table, procedures []*Procedure) (*Catalog, error) {
	c := &Catalog{
		byName:     make(map[string]*Table, len(tables)),
		procedures: make(map[string]*Procedure, len(procedures)),
	}
	for _, t := range tables {
		if _, dup := c.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
		c.tables = append(c.tables, t)
		c.byName[t.Name] = t
	}
	for _, p := range procedures {
		c.procedures[p.Name] = p
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks references, procedures and that every entity carries a
// complete policy. An entity without one would be readable by anyone on
// the direct path, so this is a hard error.
func (c *Catalog) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for _, t := range c.tables {
		if !t.HasColumn("id") {
			errs = append(errs, fmt.Errorf("%s: missing id column", t.Name))
		}
		for _, col := range t.Columns {
			if col.Ref == nil {
				continue
			}
			ref, ok := c.byName[col.Ref.Table]
			if !ok || !seen[ref.Name] {
				errs = append(errs, fmt.Errorf("%s.%s: references %s, which must be declared earlier", t.Name, col.Name, col.Ref.Table))
				continue
			}
			if !ref.HasColumn(col.Ref.Column) {
				errs = append(errs, fmt.Errorf("%s.%s: references unknown column %s.%s", t.Name, col.Name, ref.Name, col.Ref.Column))
			}
			if col.Ref.OnDelete == SetNull && !col.Nullable {
				errs = append(errs, fmt.Errorf("%s.%s: ON DELETE SET NULL on a NOT NULL column", t.Name, col.Name))
			}
		}
		for _, u := range t.Uniques {
			for _, name := range u.Columns {
				if !t.HasColumn(name) {
					errs = append(errs, fmt.Errorf("%s: unique %s names unknown column %q", t.Name, u.Name, name))
				}
			}
		}
		seen[t.Name] = true
		if t.Internal {
			continue
		}
		if err := policy.Validate(t.Policy, t.HasColumn); err != nil {
			errs = append(errs, fmt.Errorf("%s policy: %w", t.Name, err))
		}
	}
	for _, p := range c.procedures {
		t, ok := c.byName[p.Table]
		if !ok {
			errs = append(errs, fmt.Errorf("procedure %s: unknown table %q", p.Name, p.Table))
			continue
		}
		if _, ok := p.Param(p.Key); !ok {
			errs = append(errs, fmt.Errorf("procedure %s: key %q is not a parameter", p.Name, p.Key))
		}
		for _, a := range p.Set {
			if !t.HasColumn(a.Column) {
				errs = append(errs, fmt.Errorf("procedure %s: unknown column %q", p.Name, a.Column))
			}
		}
	}
	return errors.Join(errs...)
}

// Table returns the named table, internal tables included.
func (c *Catalog) Table(name string) (*Table, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// Entity returns the named table if it is reachable through an adapter.
func (c *Catalog) Entity(name string) (*Table, bool) {
	t, ok := c.byName[name]
	if !ok || t.Internal {
		return nil, false
	}
	return t, true
}

// Tables returns all tables in dependency order.
func (c *Catalog) Tables() []*Table {
	return slices.Clone(c.tables)
}

// Entities returns the adapter-reachable tables in dependency order.
func (c *Catalog) Entities() []*Table {
	var out []*Table
	for _, t := range c.tables {
		if !t.Internal {
			out = append(out, t)
		}
	}
	return out
}

// Procedure returns the named procedure.
func (c *Catalog) Procedure(name string) (*Procedure, bool) {
	p, ok := c.procedures[name]
	return p, ok
}

// Procedures returns procedures sorted by name.
func (c *Catalog) Procedures() []*Procedure {
	out := make([]*Procedure, 0, len(c.procedures))
	for _, p := range c.procedures {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Procedure) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Referencing returns, for each table with a foreign key to target, the
// referencing column and its action. Used to document delete semantics.
func (c *Catalog) Referencing(target string) []ColumnRef {
	var out []ColumnRef
	for _, t := range c.tables {
		for _, col := range t.Columns {
			if col.Ref != nil && col.Ref.Table == target {
				out = append(out, ColumnRef{Table: t.Name, Column: col.Name, OnDelete: col.Ref.OnDelete})
			}
		}
	}
	return out
}

// ColumnRef names a referencing column.
type ColumnRef struct {
	Table    string
	Column   string
	OnDelete OnDelete
}
