package backend

import (
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// ProcedureArgs checks args against p's parameters: every parameter is
// required and non-null, unknown arguments are rejected, and values are
// coerced to the declared types.
func ProcedureArgs(p *catalog.Procedure, args row.Row) (row.Row, error) {
	vals := make(row.Row, len(p.Params))
	for _, c := range p.Params {
		raw, ok := args[c.Name]
		if !ok || row.IsNull(raw) {
			return nil, Invalid(p.Table, "missing argument %q", c.Name)
		}
		v, err := row.Coerce(c.Type, raw)
		if err != nil {
			return nil, Invalid(p.Table, "argument %s: %v", c.Name, err)
		}
		if d, ok := v.(row.Decimal); ok && !catalog.FitsMoneyScale(d.Decimal) {
			return nil, Invalid(p.Table, "argument %s: more than %d decimal places", c.Name, catalog.MoneyScale)
		}
		vals[c.Name] = v
	}
	for name := range args {
		if _, ok := p.Param(name); !ok {
			return nil, Invalid(p.Table, "unknown argument %q", name)
		}
	}
	return vals, nil
}
