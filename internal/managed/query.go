package managed

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Reserved query parameters; every other key is a column filter.
const (
	paramSelect = "select"
	paramOrder  = "order"
	paramLimit  = "limit"
)

// EncodeFilter renders a filter as gateway query parameters. The order
// always ends with an id tiebreak.
func EncodeFilter(f backend.Filter) url.Values {
	q := url.Values{}
	q.Set(paramSelect, "*")
	for _, c := range f.Conds {
		switch c.Op {
		case backend.OpIsNull:
			q.Add(c.Column, "is.null")
		case backend.OpNotNull:
			q.Add(c.Column, "not.is.null")
		default:
			q.Add(c.Column, string(c.Op)+"."+literal(c.Value))
		}
	}

	orders := make([]string, 0, len(f.Orders)+1)
	for _, o := range f.Orders {
		dir := "asc"
		if o.Desc {
			dir = "desc"
		}
		orders = append(orders, o.Column+"."+dir)
	}
	orders = append(orders, "id.asc")
	q.Set(paramOrder, strings.Join(orders, ","))

	if f.Limit > 0 {
		q.Set(paramLimit, strconv.Itoa(f.Limit))
	}
	return q
}

// idFilter selects one row by id.
func idFilter(id string) url.Values {
	return url.Values{"id": {"eq." + id}}
}

func literal(v row.Value) string {
	return fmt.Sprint(row.Plain(v))
}

// DecodeFilter parses gateway query parameters back into a filter
// resolved against t. It accepts what EncodeFilter produces.
func DecodeFilter(t *catalog.Table, q url.Values) (backend.Filter, error) {
	var f backend.Filter

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		switch key {
		case paramSelect:
		case paramOrder:
			orders, err := decodeOrder(q.Get(key))
			if err != nil {
				return backend.Filter{}, backend.Invalid(t.Name, "%v", err)
			}
			f.Orders = orders
		case paramLimit:
			n, err := strconv.Atoi(q.Get(key))
			if err != nil {
				return backend.Filter{}, backend.Invalid(t.Name, "limit: %v", err)
			}
			f.Limit = n
		default:
			for _, raw := range q[key] {
				c, err := decodeCond(key, raw)
				if err != nil {
					return backend.Filter{}, backend.Invalid(t.Name, "%v", err)
				}
				f.Conds = append(f.Conds, c)
			}
		}
	}
	return f.Resolve(t)
}

func decodeCond(col, raw string) (backend.Cond, error) {
	switch raw {
	case "is.null":
		return backend.IsNull(col), nil
	case "not.is.null":
		return backend.NotNull(col), nil
	}
	op, val, ok := strings.Cut(raw, ".")
	if !ok {
		return backend.Cond{}, fmt.Errorf("filter %s: missing operator in %q", col, raw)
	}
	c := backend.Cond{Column: col, Op: backend.CondOp(op), Value: row.Text(val)}
	if _, ok := c.Op.SQL(); !ok || c.Op.Unary() {
		return backend.Cond{}, fmt.Errorf("filter %s: unknown operator %q", col, op)
	}
	return c, nil
}

// decodeOrder parses "a.desc,b.asc". The trailing id tiebreak is dropped
// since readers append their own.
func decodeOrder(s string) ([]backend.Order, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	var out []backend.Order
	for i, p := range parts {
		col, dir, _ := strings.Cut(p, ".")
		if col == "id" && i == len(parts)-1 && dir != "desc" {
			break
		}
		switch dir {
		case "", "asc":
			out = append(out, backend.Order{Column: col})
		case "desc":
			out = append(out, backend.Order{Column: col, Desc: true})
		default:
			return nil, fmt.Errorf("order %s: unknown direction %q", col, dir)
		}
	}
	return out, nil
}
