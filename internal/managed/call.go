package managed

import (
	"context"
	"fmt"
	"net/http"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Call invokes the procedure's store function. Parameters are sent with
// the "p_" prefix the generated functions declare.
//
// The function returns no row both when the row is hidden and when its
// guard rejects the update. A follow-up read tells the two apart: a
// visible row under a guarded procedure means the guard fired.
func (c *Client) Call(ctx context.Context, sc backend.Scope, name string, args row.Row) (out []row.Row, err error) {
	ctx, span := startSpan(ctx, "managed.Call", name)
	defer func() { endSpan(span, err) }()

	p, ok := c.cat.Procedure(name)
	if !ok {
		return nil, backend.Invalid("", "unknown procedure %q", name)
	}
	t, _ := c.cat.Table(p.Table)
	vals, err := backend.ProcedureArgs(p, args)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}

	body := make(map[string]any, len(vals))
	for k, v := range vals {
		body["p_"+k] = row.Plain(v)
	}
	rows, err := c.do(ctx, sc, t, http.MethodPost, rpcPath+p.Name, nil, body)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	if len(rows) > 0 {
		return rows, nil
	}

	if _, gerr := c.Get(ctx, sc, t.Name, vals.Text(p.Key)); gerr == nil && p.Guard != "" {
		return nil, fmt.Errorf("call %s: %w", name, backend.Overpayment(t.Name))
	}
	return nil, fmt.Errorf("call %s: %w", name, backend.NotFound(t.Name))
}
