package managed

import (
	"context"
	"fmt"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// undo reverses one applied op.
type undo struct {
	op  backend.Op
	run func(ctx context.Context) error
}

// Transaction applies ops in order. The gateway has no multi-request
// transaction, so when an op fails the ops already applied are undone in
// reverse order. Compensation is best effort: a failed undo is logged and
// the original error is returned. Rows removed by a cascading delete are
// not restored.
func (c *Client) Transaction(ctx context.Context, sc backend.Scope, ops []backend.Op) (results []row.Row, err error) {
	ctx, span := startSpan(ctx, "managed.Transaction", "")
	defer func() { endSpan(span, err) }()

	results = make([]row.Row, len(ops))
	undos := make([]undo, 0, len(ops))
	for i, op := range ops {
		r, u, err := c.apply(ctx, sc, op)
		if err != nil {
			c.compensate(ctx, sc, undos)
			if len(ops) > 1 {
				return nil, fmt.Errorf("transaction: op %d (%s): %w", i, op, err)
			}
			return nil, fmt.Errorf("transaction: %w", err)
		}
		results[i] = r
		undos = append(undos, u)
	}
	return results, nil
}

func (c *Client) apply(ctx context.Context, sc backend.Scope, op backend.Op) (row.Row, undo, error) {
	u := undo{op: op}
	switch op.Kind {
	case backend.OpCreate:
		r, err := c.create(ctx, sc, op.Table, op.Values)
		if err != nil {
			return nil, u, err
		}
		u.run = func(ctx context.Context) error {
			_, err := c.remove(ctx, sc, op.Table, r.ID())
			return err
		}
		return r, u, nil

	case backend.OpUpdate:
		before, err := c.Get(ctx, sc, op.Table, op.ID)
		if err != nil {
			return nil, u, err
		}
		r, err := c.update(ctx, sc, op.Table, op.ID, op.Values, op.Expect)
		if err != nil {
			return nil, u, err
		}
		restore := make(row.Row, len(op.Values))
		for col := range op.Values {
			if col != "id" {
				restore[col] = before[col]
			}
		}
		u.run = func(ctx context.Context) error {
			_, err := c.update(ctx, sc, op.Table, op.ID, restore, nil)
			return err
		}
		return r, u, nil

	case backend.OpDelete:
		before, err := c.remove(ctx, sc, op.Table, op.ID)
		if err != nil {
			return nil, u, err
		}
		u.run = func(ctx context.Context) error {
			_, err := c.create(ctx, sc, op.Table, before)
			return err
		}
		return nil, u, nil

	default:
		return nil, u, backend.Invalid(op.Table, "unknown op %q", op.Kind)
	}
}

func (c *Client) compensate(ctx context.Context, sc backend.Scope, undos []undo) {
	// Compensation must run even if the caller's context was cancelled.
	ctx = context.WithoutCancel(ctx)
	for i := len(undos) - 1; i >= 0; i-- {
		u := undos[i]
		if err := u.run(ctx); err != nil {
			c.logger.Warn("transaction compensation failed",
				"op", u.op.String(),
				"user_id", sc.Caller.UserID,
				"error", err,
			)
		}
	}
}
