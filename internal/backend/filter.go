package backend

import (
	"fmt"

	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// CondOp is a comparison in a read filter. The names match the REST
// gateway's filter operators.
type CondOp string

const (
	OpEq      CondOp = "eq"
	OpNeq     CondOp = "neq"
	OpGt      CondOp = "gt"
	OpGte     CondOp = "gte"
	OpLt      CondOp = "lt"
	OpLte     CondOp = "lte"
	OpIsNull  CondOp = "is"
	OpNotNull CondOp = "not.is"
)

// Cond is one column condition.
type Cond struct {
	Column string
	Op     CondOp
	Value  row.Value // ignored for OpIsNull and OpNotNull
}

// Order sorts by one column.
type Order struct {
	Column string
	Desc   bool
}

// Filter narrows a read. Conditions are ANDed. Results always end with an
// id tiebreak so ordering is deterministic.
type Filter struct {
	Conds  []Cond
	Orders []Order
	Limit  int
}

// Where starts a filter.
func Where(conds ...Cond) Filter {
	return Filter{Conds: conds}
}

// All matches every visible row.
func All() Filter {
	return Filter{}
}

func Eq(col string, v row.Value) Cond  { return Cond{Column: col, Op: OpEq, Value: v} }
func Neq(col string, v row.Value) Cond { return Cond{Column: col, Op: OpNeq, Value: v} }
func Gt(col string, v row.Value) Cond  { return Cond{Column: col, Op: OpGt, Value: v} }
func Gte(col string, v row.Value) Cond { return Cond{Column: col, Op: OpGte, Value: v} }
func Lt(col string, v row.Value) Cond  { return Cond{Column: col, Op: OpLt, Value: v} }
func Lte(col string, v row.Value) Cond { return Cond{Column: col, Op: OpLte, Value: v} }
func IsNull(col string) Cond           { return Cond{Column: col, Op: OpIsNull} }
func NotNull(col string) Cond          { return Cond{Column: col, Op: OpNotNull} }

// And returns f with more conditions.
func (f Filter) And(conds ...Cond) Filter {
	f.Conds = append(append([]Cond{}, f.Conds...), conds...)
	return f
}

// OrderBy returns f with an additional sort key.
func (f Filter) OrderBy(col string, desc bool) Filter {
	f.Orders = append(append([]Order{}, f.Orders...), Order{Column: col, Desc: desc})
	return f
}

// Take returns f limited to n rows.
func (f Filter) Take(n int) Filter {
	f.Limit = n
	return f
}

// SQL renders the comparison operator.
func (op CondOp) SQL() (string, bool) {
	switch op {
	case OpEq:
		return "=", true
	case OpNeq:
		return "<>", true
	case OpGt:
		return ">", true
	case OpGte:
		return ">=", true
	case OpLt:
		return "<", true
	case OpLte:
		return "<=", true
	case OpIsNull:
		return "IS NULL", true
	case OpNotNull:
		return "IS NOT NULL", true
	default:
		return "", false
	}
}

// Unary reports whether op takes no value.
func (op CondOp) Unary() bool {
	return op == OpIsNull || op == OpNotNull
}

// Resolve validates f against t and coerces condition values to the
// declared column types. Column names never reach SQL unless they are
// declared by the catalog.
func (f Filter) Resolve(t *catalog.Table) (Filter, error) {
	out := Filter{Limit: f.Limit}
	if f.Limit < 0 {
		return Filter{}, Invalid(t.Name, "negative limit %d", f.Limit)
	}
	for _, c := range f.Conds {
		col, ok := t.Column(c.Column)
		if !ok {
			return Filter{}, Invalid(t.Name, "unknown filter column %q", c.Column)
		}
		if _, ok := c.Op.SQL(); !ok {
			return Filter{}, Invalid(t.Name, "unknown filter operator %q", c.Op)
		}
		if !c.Op.Unary() {
			v, err := row.Coerce(col.Type, c.Value)
			if err != nil {
				return Filter{}, Invalid(t.Name, "filter %s: %v", c.Column, err)
			}
			if row.IsNull(v) {
				return Filter{}, Invalid(t.Name, "filter %s: null value, use IsNull", c.Column)
			}
			c.Value = v
		}
		out.Conds = append(out.Conds, c)
	}
	for _, o := range f.Orders {
		if !t.HasColumn(o.Column) {
			return Filter{}, Invalid(t.Name, "unknown order column %q", o.Column)
		}
		out.Orders = append(out.Orders, o)
	}
	return out, nil
}

// String renders the filter for logs.
func (f Filter) String() string {
	s := ""
	for i, c := range f.Conds {
		if i > 0 {
			s += " and "
		}
		if c.Op.Unary() {
			s += fmt.Sprintf("%s %s", c.Column, c.Op)
		} else {
			s += fmt.Sprintf("%s %s %v", c.Column, c.Op, row.Plain(c.Value))
		}
	}
	return s
}
