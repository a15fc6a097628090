package direct

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/policy"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Call executes a catalog procedure as a single UPDATE statement. The row
// must be visible to the caller under the update predicate. A guard that
// rejects the update is reported as OverpaymentRejected, the only guarded
// procedure being the payment one.
func (s *Store) Call(ctx context.Context, sc backend.Scope, name string, args row.Row) (out []row.Row, err error) {
	ctx, span := startSpan(ctx, "direct.Call", name)
	defer func() { endSpan(span, err) }()

	p, ok := s.cat.Procedure(name)
	if !ok {
		return nil, backend.Invalid("", "unknown procedure %q", name)
	}
	t, _ := s.cat.Table(p.Table)
	vals, err := backend.ProcedureArgs(p, args)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}

	var before, after row.Row
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		before, err = s.locate(ctx, tx, sc, t, policy.ActionUpdate, vals.Text(p.Key))
		if err != nil {
			return err
		}
		query, params := s.procedureSQL(t, p, vals)
		after, err = s.one(ctx, tx, t, query, params)
		if backend.KindOf(err) == backend.KindNotFound {
			return backend.Overpayment(t.Name)
		}
		if err != nil {
			return err
		}
		return s.authorizeRow(ctx, tx, sc, t, policy.ActionUpdate, after)
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	s.publish(ctx, sc, []backend.Change{{Kind: backend.OpUpdate, Table: t.Name, Before: before, After: after}})
	return []row.Row{after}, nil
}

// procedureSQL renders the UPDATE. Parameters are bound in order of
// appearance, money in the same units the columns are stored in.
func (s *Store) procedureSQL(t *catalog.Table, p *catalog.Procedure, vals row.Row) (string, []any) {
	var params []any
	expand := func(expr string) string {
		return catalog.Expand(expr, func(name string) string {
			params = append(params, s.arg(vals[name]))
			return "?"
		})
	}

	sets := make([]string, len(p.Set))
	for i, a := range p.Set {
		sets[i] = a.Column + " = " + expand(a.Expr)
	}
	cond := "id = " + expand(":"+p.Key)
	if p.Guard != "" {
		cond += " AND (" + expand(p.Guard) + ")"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING %s",
		t.Name, strings.Join(sets, ", "), cond, s.selectList(t, ""))
	return query, params
}
