package direct

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/policy"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Create inserts one row and returns it as stored.
func (s *Store) Create(ctx context.Context, sc backend.Scope, table string, values row.Row) (row.Row, error) {
	ctx, span := startSpan(ctx, "direct.Create", table)
	rows, err := s.write(ctx, sc, []backend.Op{backend.CreateOp(table, values)})
	endSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", table, err)
	}
	return rows[0], nil
}

// Update applies patch to the row with id and returns the result.
func (s *Store) Update(ctx context.Context, sc backend.Scope, table, id string, patch row.Row) (row.Row, error) {
	ctx, span := startSpan(ctx, "direct.Update", table)
	rows, err := s.write(ctx, sc, []backend.Op{backend.UpdateOp(table, id, patch)})
	endSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	return rows[0], nil
}

// Delete removes the row with id. Referencing rows follow the catalog's
// ON DELETE action.
func (s *Store) Delete(ctx context.Context, sc backend.Scope, table, id string) error {
	ctx, span := startSpan(ctx, "direct.Delete", table)
	_, err := s.write(ctx, sc, []backend.Op{backend.DeleteOp(table, id)})
	endSpan(span, err)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

// Transaction applies ops in one database transaction.
func (s *Store) Transaction(ctx context.Context, sc backend.Scope, ops []backend.Op) ([]row.Row, error) {
	ctx, span := startSpan(ctx, "direct.Transaction", "")
	rows, err := s.write(ctx, sc, ops)
	endSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("transaction: %w", err)
	}
	return rows, nil
}

// Read returns the rows of table visible to the caller that match f.
// When the scope names an organization, enterprise entities are narrowed
// to it.
func (s *Store) Read(ctx context.Context, sc backend.Scope, table string, f backend.Filter) (rows []row.Row, err error) {
	ctx, span := startSpan(ctx, "direct.Read", table)
	defer func() { endSpan(span, err) }()

	t, err := s.entity(table)
	if err != nil {
		return nil, err
	}
	f, err = f.Resolve(t)
	if err != nil {
		return nil, err
	}

	var w where
	if err := s.authorizeFilter(&w, sc, t, policy.ActionSelect); err != nil {
		return nil, err
	}
	if sc.OrgID != "" && t.OrgColumn != "" {
		w.add(fmt.Sprintf("t.%s = ?", t.OrgColumn), sc.OrgID)
	}
	s.conditions(&w, f)

	query := fmt.Sprintf("SELECT %s FROM %s t%s%s", s.selectList(t, "t."), t.Name, w.String(), orderBy(f))
	params := w.params
	if f.Limit > 0 {
		query += " LIMIT ?"
		params = append(params, f.Limit)
	}

	res, err := s.db.QueryContext(ctx, s.rebind(query), params...)
	if err != nil {
		return nil, s.mapError(t, err)
	}
	rows, err = s.scanRows(t, res)
	if err != nil {
		return nil, s.mapError(t, err)
	}
	return rows, nil
}

// Get returns the row with id, or NotFound if it is absent or not visible.
// An active organization narrows enterprise entities as Read does.
func (s *Store) Get(ctx context.Context, sc backend.Scope, table, id string) (row.Row, error) {
	rows, err := s.Read(ctx, sc, table, backend.Where(backend.Eq("id", row.Text(id))))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("get %s: %w", table, backend.NotFound(table))
	}
	return rows[0], nil
}

func (s *Store) entity(table string) (*catalog.Table, error) {
	t, ok := s.cat.Entity(table)
	if !ok {
		return nil, backend.Invalid(table, "unknown entity")
	}
	return t, nil
}

// caller returns the caller id predicates bind to. Service callers bypass
// predicates and return "".
func caller(sc backend.Scope) (string, bool, error) {
	if sc.Caller.IsService() {
		return "", true, nil
	}
	if sc.Caller.UserID == "" {
		return "", false, backend.Unauthorized(identity.ErrUnauthorized)
	}
	return sc.Caller.UserID, false, nil
}

// authorizeFilter composes the predicate for action into w.
func (s *Store) authorizeFilter(w *where, sc backend.Scope, t *catalog.Table, a policy.Action) error {
	uid, service, err := caller(sc)
	if err != nil || service {
		return err
	}
	cond, params, err := s.pred.Filter(t.Policy.For(a), uid)
	if err != nil {
		return fmt.Errorf("%s %s policy: %w", t.Name, a, err)
	}
	w.add(cond, params...)
	return nil
}

// authorizeRow tests values against the predicate for action, as the
// store's WITH CHECK clause would.
func (s *Store) authorizeRow(ctx context.Context, q querier, sc backend.Scope, t *catalog.Table, a policy.Action, values row.Row) error {
	uid, service, err := caller(sc)
	if err != nil || service {
		return err
	}
	chk, err := s.pred.Check(t.Policy.For(a), uid, values, s.arg)
	if err != nil {
		return fmt.Errorf("%s %s policy: %w", t.Name, a, err)
	}
	if chk.Decided {
		if !chk.Allowed {
			return backend.Forbidden(t.Name, string(a))
		}
		return nil
	}
	var one int
	err = q.QueryRowContext(ctx, s.rebind(chk.SQL), chk.Params...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.Forbidden(t.Name, string(a))
	}
	if err != nil {
		return s.mapError(t, err)
	}
	return nil
}

// write runs ops in one transaction and hands the committed changes to
// the mirror.
func (s *Store) write(ctx context.Context, sc backend.Scope, ops []backend.Op) ([]row.Row, error) {
	results := make([]row.Row, len(ops))
	changes := make([]backend.Change, 0, len(ops))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, op := range ops {
			r, chs, err := s.apply(ctx, tx, sc, op)
			if err != nil {
				if len(ops) > 1 {
					return fmt.Errorf("op %d (%s): %w", i, op, err)
				}
				return err
			}
			results[i] = r
			changes = append(changes, chs...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, sc, changes)
	return results, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.mapError(nil, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.mapError(nil, err)
	}
	return nil
}

func (s *Store) publish(ctx context.Context, sc backend.Scope, changes []backend.Change) {
	if s.mirror == nil {
		return
	}
	for _, ch := range changes {
		ch.Caller = sc.Caller
		s.mirror.Mirror(ctx, ch)
	}
}

// apply runs one op. A delete also reports the rows its cascades remove,
// ahead of its own change.
func (s *Store) apply(ctx context.Context, tx *sql.Tx, sc backend.Scope, op backend.Op) (row.Row, []backend.Change, error) {
	t, err := s.entity(op.Table)
	if err != nil {
		return nil, nil, err
	}
	ch := backend.Change{Kind: op.Kind, Table: t.Name}

	switch op.Kind {
	case backend.OpCreate:
		ch.After, err = s.insert(ctx, tx, sc, t, op.Values)
		return ch.After, []backend.Change{ch}, err
	case backend.OpUpdate:
		ch.Before, ch.After, err = s.update(ctx, tx, sc, t, op.ID, op.Values, op.Expect)
		return ch.After, []backend.Change{ch}, err
	case backend.OpDelete:
		var cascaded []backend.Change
		ch.Before, cascaded, err = s.delete(ctx, tx, sc, t, op.ID)
		return nil, append(cascaded, ch), err
	default:
		return nil, nil, backend.Invalid(t.Name, "unknown op %q", op.Kind)
	}
}

// coerce type-checks caller values against t.
func coerce(t *catalog.Table, values row.Row) (row.Row, error) {
	out, err := t.Coerce(values)
	if err != nil {
		return nil, backend.Invalid(t.Name, "%v", err)
	}
	return out, nil
}

// fill supplies generated columns, static defaults and, for enterprise
// entities, the scope's organization.
func (s *Store) fill(t *catalog.Table, sc backend.Scope, vals row.Row) error {
	if t.OrgColumn != "" && t.OrgColumn != "id" && !vals.Has(t.OrgColumn) && sc.OrgID != "" {
		vals[t.OrgColumn] = row.Text(sc.OrgID)
	}
	for _, c := range t.Columns {
		if vals.Has(c.Name) {
			continue
		}
		switch c.Generated {
		case catalog.GeneratedID:
			id, err := s.newID()
			if err != nil {
				return fmt.Errorf("generate id: %w", err)
			}
			vals[c.Name] = row.Text(id)
		case catalog.GeneratedNow:
			vals[c.Name] = row.At(s.now())
		default:
			if c.Default != nil {
				vals[c.Name] = c.Default
			}
		}
	}
	return nil
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, sc backend.Scope, t *catalog.Table, values row.Row) (row.Row, error) {
	vals, err := coerce(t, values)
	if err != nil {
		return nil, err
	}
	if err := s.fill(t, sc, vals); err != nil {
		return nil, err
	}
	if err := s.authorizeRow(ctx, tx, sc, t, policy.ActionInsert, vals); err != nil {
		return nil, err
	}

	cols := vals.Columns()
	params := make([]any, len(cols))
	for i, c := range cols {
		params[i] = s.arg(vals[c])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		t.Name, strings.Join(cols, ", "), placeholders(len(cols)), s.selectList(t, ""))
	return s.one(ctx, tx, t, query, params)
}

// locate reads the row with id inside tx if the predicate for action
// admits it, locking it on Postgres.
func (s *Store) locate(ctx context.Context, tx *sql.Tx, sc backend.Scope, t *catalog.Table, a policy.Action, id string) (row.Row, error) {
	if id == "" {
		return nil, backend.Invalid(t.Name, "missing id")
	}
	var w where
	w.add("t.id = ?", id)
	if err := s.authorizeFilter(&w, sc, t, a); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s t%s%s", s.selectList(t, "t."), t.Name, w.String(), s.forUpdate())
	return s.one(ctx, tx, t, query, w.params)
}

func (s *Store) update(ctx context.Context, tx *sql.Tx, sc backend.Scope, t *catalog.Table, id string, patch, expect row.Row) (row.Row, row.Row, error) {
	before, err := s.locate(ctx, tx, sc, t, policy.ActionUpdate, id)
	if err != nil {
		return nil, nil, err
	}
	if err := expected(t, before, expect); err != nil {
		return nil, nil, err
	}
	p, err := coerce(t, patch)
	if err != nil {
		return nil, nil, err
	}
	if v, ok := p["id"]; ok {
		if !row.Equal(v, row.Text(id)) {
			return nil, nil, backend.Invalid(t.Name, "id cannot be changed")
		}
		delete(p, "id")
	}
	if len(p) == 0 {
		return before, before, nil
	}
	if err := s.authorizeRow(ctx, tx, sc, t, policy.ActionUpdate, before.Merge(p)); err != nil {
		return nil, nil, err
	}

	cols := p.Columns()
	sets := make([]string, len(cols))
	params := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = c + " = ?"
		params = append(params, s.arg(p[c]))
	}
	params = append(params, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? RETURNING %s",
		t.Name, strings.Join(sets, ", "), s.selectList(t, ""))
	after, err := s.one(ctx, tx, t, query, params)
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// expected checks the locked row against the values an update requires.
func expected(t *catalog.Table, before, expect row.Row) error {
	if len(expect) == 0 {
		return nil
	}
	want, err := coerce(t, expect)
	if err != nil {
		return err
	}
	var changed []string
	for _, c := range want.Columns() {
		if !row.Equal(before[c], want[c]) {
			changed = append(changed, c)
		}
	}
	if len(changed) > 0 {
		return backend.Conflict(t.Name, changed)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, tx *sql.Tx, sc backend.Scope, t *catalog.Table, id string) (row.Row, []backend.Change, error) {
	before, err := s.locate(ctx, tx, sc, t, policy.ActionDelete, id)
	if err != nil {
		return nil, nil, err
	}
	var cascaded []backend.Change
	if s.mirror != nil {
		if cascaded, err = s.cascades(ctx, tx, t, id); err != nil {
			return nil, nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, s.rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.Name)), id); err != nil {
		return nil, nil, s.mapError(t, err)
	}
	return before, cascaded, nil
}

// cascades reads the rows that ON DELETE CASCADE removes together with
// the row id of t, transitively, as delete changes. The store removes
// them without the caller naming them, so they are read before the
// delete. SET NULL references are not reported; no mirror rule copies
// those columns.
func (s *Store) cascades(ctx context.Context, tx *sql.Tx, t *catalog.Table, id string) ([]backend.Change, error) {
	var out []backend.Change
	seen := map[string]bool{t.Name + "/" + id: true}

	var walk func(parent string, ids []string) error
	walk = func(parent string, ids []string) error {
		for _, ref := range s.cat.Referencing(parent) {
			child, ok := s.cat.Entity(ref.Table)
			if !ok || ref.OnDelete != catalog.Cascade {
				continue
			}
			params := make([]any, len(ids))
			for i, v := range ids {
				params[i] = v
			}
			query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s) ORDER BY id",
				s.selectList(child, ""), child.Name, ref.Column, placeholders(len(ids)))
			res, err := tx.QueryContext(ctx, s.rebind(query), params...)
			if err != nil {
				return s.mapError(child, err)
			}
			rows, err := s.scanRows(child, res)
			if err != nil {
				return s.mapError(child, err)
			}

			var next []string
			for _, r := range rows {
				key := child.Name + "/" + r.ID()
				if seen[key] {
					continue
				}
				seen[key] = true
				next = append(next, r.ID())
				out = append(out, backend.Change{Kind: backend.OpDelete, Table: child.Name, Before: r})
			}
			if len(next) > 0 {
				if err := walk(child.Name, next); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(t.Name, []string{id}); err != nil {
		return nil, err
	}
	return out, nil
}

// one runs a query expected to yield a single row of t; none is NotFound.
func (s *Store) one(ctx context.Context, q querier, t *catalog.Table, query string, params []any) (row.Row, error) {
	res, err := q.QueryContext(ctx, s.rebind(query), params...)
	if err != nil {
		return nil, s.mapError(t, err)
	}
	rows, err := s.scanRows(t, res)
	if err != nil {
		return nil, s.mapError(t, err)
	}
	if len(rows) == 0 {
		return nil, backend.NotFound(t.Name)
	}
	return rows[0], nil
}
