package backend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

func TestForbiddenReadsAsNotFound(t *testing.T) {
	err := fmt.Errorf("update: %w", Forbidden("expenses", "update"))
	assert.True(t, IsNotFound(err))
	assert.Equal(t, KindForbidden, KindOf(err))

	assert.True(t, IsNotFound(NotFound("expenses")))
	assert.False(t, IsNotFound(errors.New("other")))
}

func TestIsConstraint(t *testing.T) {
	err := fmt.Errorf("create: %w", Constraint("expenses", "expenses_recurring_rule_id_date_key", []string{"recurring_rule_id", "date"}, nil))
	assert.True(t, IsConstraint(err))
	assert.True(t, IsConstraint(err, "profiles_email_key", "expenses_recurring_rule_id_date_key"))
	assert.False(t, IsConstraint(err, "profiles_email_key"))
	assert.False(t, IsConstraint(NotFound("expenses")))
}

func TestUnauthorizedMatchesIdentitySentinel(t *testing.T) {
	err := fmt.Errorf("read: %w", Unauthorized(errors.New("jwt expired")))
	assert.True(t, errors.Is(err, identity.ErrUnauthorized))
	assert.True(t, IsUnauthorized(err))
	assert.False(t, errors.Is(NotFound("x"), identity.ErrUnauthorized))
}

func TestRetryable(t *testing.T) {
	var be *Error
	require.ErrorAs(t, Unavailable(errors.New("dial tcp: refused")), &be)
	assert.True(t, be.Retryable())
	assert.True(t, IsUnavailable(be))
	assert.False(t, NotFound("x").Retryable())
}

func TestErrorMessage(t *testing.T) {
	err := Constraint("profiles", "profiles_email_key", []string{"email"}, errors.New("duplicate key"))
	assert.Equal(t, "CONSTRAINT_VIOLATION profiles (constraint=profiles_email_key): duplicate key", err.Error())
}

func TestFilterResolve(t *testing.T) {
	tbl, _ := catalog.Default().Table(catalog.Transactions)

	f, err := Where(Eq("amount", row.Text("12.50")), Lte("date", row.Text("2026-01-31")), IsNull("debt_id")).
		OrderBy("date", true).
		Take(10).
		Resolve(tbl)
	require.NoError(t, err)
	assert.True(t, row.Equal(row.Money("12.5"), f.Conds[0].Value))
	assert.Equal(t, row.MustDate("2026-01-31"), f.Conds[1].Value)
	assert.Equal(t, 10, f.Limit)
	assert.Equal(t, []Order{{Column: "date", Desc: true}}, f.Orders)
}

func TestFilterResolveRejects(t *testing.T) {
	tbl, _ := catalog.Default().Table(catalog.Transactions)

	_, err := Where(Eq("amount; DROP TABLE expenses", row.Text("1"))).Resolve(tbl)
	assert.True(t, IsInvalidInput(err))

	_, err = Where(Cond{Column: "amount", Op: "like", Value: row.Text("1")}).Resolve(tbl)
	assert.True(t, IsInvalidInput(err))

	_, err = Where(Eq("amount", row.Null{})).Resolve(tbl)
	assert.True(t, IsInvalidInput(err))

	_, err = All().OrderBy("nope", false).Resolve(tbl)
	assert.True(t, IsInvalidInput(err))
}

func TestFilterBuildersDoNotAlias(t *testing.T) {
	base := Where(Eq("category", row.Text("Food")))
	a := base.And(Eq("type", row.Text("expense")))
	b := base.And(Eq("type", row.Text("income")))
	assert.Len(t, base.Conds, 1)
	assert.Equal(t, row.Text("expense"), a.Conds[1].Value)
	assert.Equal(t, row.Text("income"), b.Conds[1].Value)
}

func TestScope(t *testing.T) {
	s := Personal(identity.Caller{UserID: "u1"})
	org := s.InOrg("o1")
	assert.Equal(t, "", s.OrgID)
	assert.Equal(t, "o1", org.OrgID)
	assert.Equal(t, "u1", org.Caller.UserID)
}

func TestChangeID(t *testing.T) {
	assert.Equal(t, "a", Change{After: row.Row{"id": row.Text("a")}}.ID())
	assert.Equal(t, "b", Change{Before: row.Row{"id": row.Text("b")}}.ID())
	assert.Equal(t, "update expenses/x", UpdateOp("expenses", "x", nil).String())
}
