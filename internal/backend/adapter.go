package backend

import (
	"context"
	"fmt"

	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Scope is the caller context passed explicitly to every adapter call:
// who is asking and, for enterprise entities, which organization is active.
type Scope struct {
	Caller identity.Caller
	OrgID  string
}

// Personal returns a scope with no active organization.
func Personal(c identity.Caller) Scope {
	return Scope{Caller: c}
}

// InOrg returns a copy of s with orgID active.
func (s Scope) InOrg(orgID string) Scope {
	s.OrgID = orgID
	return s
}

// Adapter is the uniform data-access contract over both backends.
//
// Authorization is part of the contract: rows the caller may not see are
// absent from reads and produce NotFound on get, update and delete. Writes
// the caller may not make produce Forbidden, which IsNotFound also matches.
//
// Create fills generated columns (id, created_at) when absent. For
// enterprise entities it stamps the active organization when the values
// carry none, and Read narrows to the active organization when one is set.
type Adapter interface {
	Create(ctx context.Context, s Scope, table string, values row.Row) (row.Row, error)
	Read(ctx context.Context, s Scope, table string, f Filter) ([]row.Row, error)
	Get(ctx context.Context, s Scope, table, id string) (row.Row, error)
	Update(ctx context.Context, s Scope, table, id string, patch row.Row) (row.Row, error)
	Delete(ctx context.Context, s Scope, table, id string) error

	// Transaction applies ops atomically: all succeed or none are visible.
	// Results are returned in op order (nil for deletes).
	Transaction(ctx context.Context, s Scope, ops []Op) ([]row.Row, error)

	// Call executes a catalog procedure and returns the rows it touched.
	Call(ctx context.Context, s Scope, procedure string, args row.Row) ([]row.Row, error)
}

// OpKind names a write inside a transaction.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Op is one write in a Transaction. Ids may be pre-assigned in Values so
// later ops can reference rows created by earlier ones.
type Op struct {
	Kind   OpKind
	Table  string
	ID     string  // update, delete
	Values row.Row // create values or update patch

	// Expect holds column values an update requires the row to still
	// have. A mismatch fails the op with Conflict.
	Expect row.Row
}

// CreateOp builds a create op.
func CreateOp(table string, values row.Row) Op {
	return Op{Kind: OpCreate, Table: table, Values: values}
}

// UpdateOp builds an update op.
func UpdateOp(table, id string, patch row.Row) Op {
	return Op{Kind: OpUpdate, Table: table, ID: id, Values: patch}
}

// When returns a copy of o that applies only while the row holds expect.
func (o Op) When(expect row.Row) Op {
	o.Expect = expect
	return o
}

// DeleteOp builds a delete op.
func DeleteOp(table, id string) Op {
	return Op{Kind: OpDelete, Table: table, ID: id}
}

func (o Op) String() string {
	if o.ID != "" {
		return fmt.Sprintf("%s %s/%s", o.Kind, o.Table, o.ID)
	}
	return fmt.Sprintf("%s %s", o.Kind, o.Table)
}

// Change describes one committed write, handed to the reconciler.
type Change struct {
	Kind   OpKind
	Table  string
	Before row.Row // nil for create
	After  row.Row // nil for delete
	Caller identity.Caller
}

// ID returns the id of the changed row.
func (c Change) ID() string {
	if c.After != nil {
		return c.After.ID()
	}
	return c.Before.ID()
}

// Mirror receives committed writes from the direct adapter. Implementations
// must not fail the caller's operation; errors are theirs to log.
type Mirror interface {
	Mirror(ctx context.Context, c Change)
}
