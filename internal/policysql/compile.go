package policysql

import (
	"fmt"
	"strings"

	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/policy"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Alias is the name the direct adapter gives the queried table, so
// predicate columns stay unambiguous inside membership subqueries.
const Alias = "t"

// Compiler compiles authorization predicates to parameterized SQL for the
// direct adapter.
//
// CRITICAL: All values are parameterized (never interpolated).
// Placeholders are '?'; call Rebind for Postgres.
type Compiler struct {
	Membership policy.Membership
}

// NewCompiler creates a Compiler over the default membership relations.
func NewCompiler() *Compiler {
	return &Compiler{Membership: policy.DefaultMembership}
}

// Filter compiles p into a WHERE fragment over the row aliased as Alias,
// bound to callerID. Rows the predicate rejects are simply not matched, so
// a filtered row is indistinguishable from an absent one.
func (c *Compiler) Filter(p policy.Predicate, callerID string) (string, []any, error) {
	e, err := c.compile(p, callerID, func(col string) operand {
		return operand{sql: Alias + "." + col}
	})
	if err != nil {
		return "", nil, err
	}
	return e.render(), e.params, nil
}

// Check is the outcome of compiling a predicate against candidate values.
// When Decided is true no query is needed and Allowed is final; otherwise
// run SQL (a SELECT yielding a row iff allowed) with Params.
type Check struct {
	Decided bool
	Allowed bool
	SQL     string
	Params  []any
}

// Check compiles p against the values a write would store (WITH CHECK
// semantics). Ownership is decided in Go; membership needs the store.
// arg converts a row value into a driver argument.
func (c *Compiler) Check(p policy.Predicate, callerID string, values row.Row, arg func(row.Value) any) (Check, error) {
	e, err := c.compile(p, callerID, func(col string) operand {
		v := values[col]
		if row.IsNull(v) {
			return operand{null: true}
		}
		return operand{sql: "?", params: []any{arg(v)}, text: textOf(v), literal: true}
	})
	if err != nil {
		return Check{}, err
	}
	if e.constant != nil {
		return Check{Decided: true, Allowed: *e.constant}, nil
	}
	return Check{SQL: "SELECT 1 WHERE " + e.render(), Params: e.params}, nil
}

func textOf(v row.Value) string {
	if t, ok := v.(row.Text); ok {
		return string(t)
	}
	return ""
}

// operand is a column reference: either a qualified column (filter) or a
// bound value (check).
type operand struct {
	sql     string
	params  []any
	null    bool
	literal bool
	text    string
}

// expr is a compiled predicate. constant is set when the predicate folded
// to true or false without needing the store.
type expr struct {
	sql      string
	params   []any
	constant *bool
}

var (
	yes = true
	no  = false
)

func constant(b bool) expr {
	if b {
		return expr{constant: &yes}
	}
	return expr{constant: &no}
}

func (e expr) render() string {
	if e.constant != nil {
		if *e.constant {
			return "1 = 1"
		}
		return "1 = 0"
	}
	return e.sql
}

func (c *Compiler) compile(p policy.Predicate, callerID string, col func(string) operand) (expr, error) {
	switch pred := p.(type) {
	case nil:
		return expr{}, fmt.Errorf("cannot compile nil predicate")
	case policy.Public:
		return constant(true), nil
	case policy.Deny:
		return constant(false), nil
	case policy.OwnerIs:
		return c.equalsCaller(col(pred.Column), callerID), nil
	case policy.SelfID:
		return c.equalsCaller(col(pred.Column), callerID), nil
	case policy.MemberOf:
		return c.membership(col(pred.Column), callerID, nil), nil
	case policy.MemberWithRole:
		return c.membership(col(pred.Column), callerID, pred.Roles), nil
	case policy.OrgCreator:
		return c.creator(col(pred.Column), callerID), nil
	case policy.And:
		return c.group(pred.Predicates, callerID, col, "AND", false)
	case policy.Or:
		return c.group(pred.Predicates, callerID, col, "OR", true)
	default:
		return expr{}, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *Compiler) equalsCaller(o operand, callerID string) expr {
	if callerID == "" || o.null {
		return constant(false)
	}
	if o.literal {
		return constant(o.text == callerID)
	}
	return expr{sql: o.sql + " = ?", params: append(o.params, callerID)}
}

func (c *Compiler) membership(o operand, callerID string, roles []string) expr {
	if callerID == "" || o.null {
		return constant(false)
	}
	m := c.Membership
	var b strings.Builder
	fmt.Fprintf(&b, "EXISTS (SELECT 1 FROM %s m WHERE m.%s = %s AND m.%s = ?",
		m.Table, m.OrgColumn, o.sql, m.UserColumn)
	params := append(append([]any{}, o.params...), callerID)
	if len(roles) > 0 {
		fmt.Fprintf(&b, " AND m.%s IN (%s)", m.RoleColumn, placeholders(len(roles)))
		for _, r := range roles {
			params = append(params, r)
		}
	}
	b.WriteString(")")
	return expr{sql: b.String(), params: params}
}

func (c *Compiler) creator(o operand, callerID string) expr {
	if callerID == "" || o.null {
		return constant(false)
	}
	m := c.Membership
	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM %s o WHERE o.%s = %s AND o.%s = ?)",
		m.OrgTable, m.OrgIDColumn, o.sql, m.CreatorColumn)
	return expr{sql: sql, params: append(append([]any{}, o.params...), callerID)}
}

// group folds constants: in an AND a false child decides the whole group,
// in an OR a true child does.
func (c *Compiler) group(preds []policy.Predicate, callerID string, col func(string) operand, op string, short bool) (expr, error) {
	var parts []string
	var params []any
	for _, p := range preds {
		e, err := c.compile(p, callerID, col)
		if err != nil {
			return expr{}, err
		}
		if e.constant != nil {
			if *e.constant == short {
				return constant(short), nil
			}
			continue
		}
		parts = append(parts, e.sql)
		params = append(params, e.params...)
	}
	switch len(parts) {
	case 0:
		return constant(!short), nil
	case 1:
		return expr{sql: parts[0], params: params}, nil
	default:
		return expr{sql: "(" + strings.Join(parts, " "+op+" ") + ")", params: params}, nil
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Rebind converts '?' placeholders to the dialect's form. Postgres uses
// $1..$n; SQLite keeps '?'. Quoted literals are left alone.
func Rebind(d catalog.Dialect, query string) string {
	if d != catalog.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			fmt.Fprintf(&b, "$%d", n)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
