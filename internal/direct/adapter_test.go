package direct_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/direct"
	"github.com/parthhkdigiverse/expense-tracker/internal/direct/directtest"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/policy"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
	"github.com/parthhkdigiverse/expense-tracker/internal/testutil"
)

var as = directtest.As

func expense(userID, amount, category string) row.Row {
	return row.Row{
		"user_id":  row.Text(userID),
		"date":     row.Text("2026-01-15"),
		"category": row.Text(category),
		"amount":   row.Text(amount),
		"type":     row.Text("expense"),
	}
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestCreateFillsGeneratedColumns(t *testing.T) {
	clock := testutil.NewClockOn("2026-01-15")
	s := directtest.Open(t, directtest.WithClock(clock), directtest.WithIDs(testutil.NewIDs(9)))
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")

	r, err := s.Create(ctx, as(a), catalog.Transactions, expense(a, "12.50", "Food"))
	require.NoError(t, err)
	assert.Equal(t, "00000009-0000-7000-8000-000000000001", r.ID())
	assert.True(t, clock.Now().Equal(r.Time("created_at")))
	assert.Equal(t, row.MustDate("2026-01-15"), r.Date("date"))
	assertMoney(t, "12.5", r.Decimal("amount"))
	assert.True(t, r.IsNull("debt_id"))
}

func TestCreateAppliesDefaults(t *testing.T) {
	s := directtest.Open(t)
	a := directtest.Profile(t, s, "a@x.test")

	p, err := s.Get(context.Background(), as(a), catalog.Profiles, a)
	require.NoError(t, err)
	assert.Equal(t, "₹", p.Text("currency"))
	assertMoney(t, "0", p.Decimal("budget"))
}

func TestOwnerVisibility(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")
	b := directtest.Profile(t, s, "b@x.test")

	r, err := s.Create(ctx, as(a), catalog.Transactions, expense(a, "500", "Software"))
	require.NoError(t, err)

	rows, err := s.Read(ctx, as(b), catalog.Transactions, backend.All())
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = s.Get(ctx, as(b), catalog.Transactions, r.ID())
	assert.True(t, backend.IsNotFound(err))

	_, err = s.Update(ctx, as(b), catalog.Transactions, r.ID(), row.Row{"amount": row.Text("1")})
	assert.True(t, backend.IsNotFound(err))

	err = s.Delete(ctx, as(b), catalog.Transactions, r.ID())
	assert.True(t, backend.IsNotFound(err))

	rows, err = s.Read(ctx, as(a), catalog.Transactions, backend.All())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assertMoney(t, "500", rows[0].Decimal("amount"))
}

func TestCreateForOtherOwnerIsForbidden(t *testing.T) {
	s := directtest.Open(t)
	a := directtest.Profile(t, s, "a@x.test")
	b := directtest.Profile(t, s, "b@x.test")

	_, err := s.Create(context.Background(), as(a), catalog.Transactions, expense(b, "10", "Food"))
	assert.Equal(t, backend.KindForbidden, backend.KindOf(err))
	assert.True(t, backend.IsNotFound(err))
}

func TestUpdateCannotTransferOwnership(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")
	b := directtest.Profile(t, s, "b@x.test")

	r, err := s.Create(ctx, as(a), catalog.Transactions, expense(a, "10", "Food"))
	require.NoError(t, err)

	_, err = s.Update(ctx, as(a), catalog.Transactions, r.ID(), row.Row{"user_id": row.Text(b)})
	assert.Equal(t, backend.KindForbidden, backend.KindOf(err))

	got, err := s.Get(ctx, as(a), catalog.Transactions, r.ID())
	require.NoError(t, err)
	assert.Equal(t, a, got.Text("user_id"))
}

func TestProfileSelfProvisioning(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()

	_, err := s.Create(ctx, as("u1"), catalog.Profiles, row.Row{"id": row.Text("u2"), "email": row.Text("x@x.test")})
	assert.True(t, backend.IsNotFound(err), "insert-only self id")

	p, err := s.Create(ctx, as("u1"), catalog.Profiles, row.Row{"id": row.Text("u1"), "email": row.Text("u1@x.test")})
	require.NoError(t, err)

	// Profiles are publicly readable but only self-updatable.
	rows, err := s.Read(ctx, as("u2"), catalog.Profiles, backend.All())
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = s.Update(ctx, as("u2"), catalog.Profiles, p.ID(), row.Row{"full_name": row.Text("Mallory")})
	assert.True(t, backend.IsNotFound(err))

	err = s.Delete(ctx, as("u1"), catalog.Profiles, p.ID())
	assert.True(t, backend.IsNotFound(err), "profiles are never deleted through the adapter")
}

func TestMembershipVisibilityAndRevocation(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")
	b := directtest.Profile(t, s, "b@x.test")
	acme := directtest.Organization(t, s, a, "Acme", policy.RoleOwner)

	_, err := s.Create(ctx, as(a).InOrg(acme), catalog.Revenue, row.Row{
		"amount":   row.Text("1000"),
		"date":     row.Text("2026-01-10"),
		"category": row.Text("Consulting"),
	})
	require.NoError(t, err)

	rows, err := s.Read(ctx, as(b), catalog.Revenue, backend.All())
	require.NoError(t, err, "non-member reads zero rows, not an error")
	assert.Empty(t, rows)

	member, err := s.Create(ctx, as(a), catalog.Members, row.Row{
		"organization_id": row.Text(acme),
		"user_id":         row.Text(b),
		"role":            row.Text(policy.RoleMember),
	})
	require.NoError(t, err)

	rows, err = s.Read(ctx, as(b), catalog.Revenue, backend.All())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, acme, rows[0].Text("organization_id"))

	require.NoError(t, s.Delete(ctx, as(a), catalog.Members, member.ID()))

	rows, err = s.Read(ctx, as(b), catalog.Revenue, backend.All())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestViewerCannotWrite(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")
	v := directtest.Profile(t, s, "v@x.test")
	acme := directtest.Organization(t, s, a, "Acme", policy.RoleOwner)
	directtest.Member(t, s, acme, v, policy.RoleViewer)

	_, err := s.Create(ctx, as(v).InOrg(acme), catalog.EnterpriseExpenses, row.Row{
		"amount":   row.Text("50"),
		"date":     row.Text("2026-01-10"),
		"category": row.Text("Office"),
	})
	assert.Equal(t, backend.KindForbidden, backend.KindOf(err))

	_, err = s.Read(ctx, as(v).InOrg(acme), catalog.EnterpriseExpenses, backend.All())
	assert.NoError(t, err)
}

func TestNonMemberCannotEnrollThemselves(t *testing.T) {
	s := directtest.Open(t)
	a := directtest.Profile(t, s, "a@x.test")
	b := directtest.Profile(t, s, "b@x.test")
	acme := directtest.Organization(t, s, a, "Acme", policy.RoleOwner)

	_, err := s.Create(context.Background(), as(b), catalog.Members, row.Row{
		"organization_id": row.Text(acme),
		"user_id":         row.Text(b),
		"role":            row.Text(policy.RoleOwner),
	})
	assert.True(t, backend.IsNotFound(err))
}

func TestMemberCanLeave(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")
	b := directtest.Profile(t, s, "b@x.test")
	acme := directtest.Organization(t, s, a, "Acme", policy.RoleOwner)
	m := directtest.Member(t, s, acme, b, policy.RoleMember)

	require.NoError(t, s.Delete(ctx, as(b), catalog.Members, m))
}

func TestReadNarrowsToActiveOrganization(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")
	acme := directtest.Organization(t, s, a, "Acme", policy.RoleOwner)
	globex := directtest.Organization(t, s, a, "Globex", policy.RoleOwner)

	for _, org := range []string{acme, globex} {
		_, err := s.Create(ctx, as(a).InOrg(org), catalog.Firms, row.Row{"name": row.Text("Main")})
		require.NoError(t, err)
	}

	all, err := s.Read(ctx, as(a), catalog.Firms, backend.All())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := s.Read(ctx, as(a).InOrg(globex), catalog.Firms, backend.All())
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, globex, scoped[0].Text("organization_id"))
}

func TestGetHonorsActiveOrganization(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")
	acme := directtest.Organization(t, s, a, "Acme", policy.RoleOwner)
	globex := directtest.Organization(t, s, a, "Globex", policy.RoleOwner)

	firm, err := s.Create(ctx, as(a).InOrg(acme), catalog.Firms, row.Row{"name": row.Text("Main")})
	require.NoError(t, err)

	tests := []struct {
		name  string
		scope backend.Scope
		found bool
	}{
		{"no active organization", as(a), true},
		{"owning organization", as(a).InOrg(acme), true},
		{"other organization", as(a).InOrg(globex), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Get(ctx, tt.scope, catalog.Firms, firm.ID())
			if !tt.found {
				assert.True(t, backend.IsNotFound(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, firm.ID(), got.ID())
		})
	}
}

func TestReadFilterOrderLimit(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")

	for _, amt := range []string{"40", "10", "30", "20"} {
		_, err := s.Create(ctx, as(a), catalog.Transactions, expense(a, amt, "Food"))
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, as(a), catalog.Transactions, expense(a, "99", "Rent"))
	require.NoError(t, err)

	rows, err := s.Read(ctx, as(a), catalog.Transactions,
		backend.Where(backend.Eq("category", row.Text("Food")), backend.Gte("amount", row.Text("20"))).
			OrderBy("amount", true).
			Take(2))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assertMoney(t, "40", rows[0].Decimal("amount"))
	assertMoney(t, "30", rows[1].Decimal("amount"))

	rows, err = s.Read(ctx, as(a), catalog.Transactions, backend.Where(backend.NotNull("debt_id")))
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = s.Read(ctx, as(a), catalog.Transactions, backend.Where(backend.Eq("owner", row.Text(a))))
	assert.True(t, backend.IsInvalidInput(err))
}

func TestUnknownEntityAndColumns(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")

	_, err := s.Read(ctx, as(a), catalog.SyncLedger, backend.All())
	assert.True(t, backend.IsInvalidInput(err), "internal tables are not entities")

	_, err = s.Create(ctx, as(a), catalog.Transactions, expense(a, "1", "Food").Merge(row.Row{"bogus": row.Text("x")}))
	assert.True(t, backend.IsInvalidInput(err))
}

func TestMissingCallerIsUnauthorized(t *testing.T) {
	s := directtest.Open(t)
	_, err := s.Read(context.Background(), backend.Personal(identity.Caller{}), catalog.Transactions, backend.All())
	assert.True(t, backend.IsUnauthorized(err))
	assert.ErrorIs(t, err, identity.ErrUnauthorized)
}

func TestConstraintViolations(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")

	_, err := s.Create(ctx, directtest.Service, catalog.Profiles, row.Row{
		"id":    row.Text("other"),
		"email": row.Text("a@x.test"),
	})
	require.True(t, backend.IsConstraint(err, "profiles_email_key"), "got %v", err)
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []string{"email"}, be.Columns)

	bad := expense(a, "1", "Food")
	bad["type"] = row.Text("refund")
	_, err = s.Create(ctx, as(a), catalog.Transactions, bad)
	assert.True(t, backend.IsConstraint(err, "expenses_type_check"), "got %v", err)

	bad = expense(a, "1", "Food")
	bad["debt_id"] = row.Text("00000000-0000-0000-0000-000000000000")
	_, err = s.Create(ctx, as(a), catalog.Transactions, bad)
	assert.True(t, backend.IsConstraint(err), "got %v", err)
}

func TestRecurringUniquePerDueDate(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")

	rule, err := s.Create(ctx, as(a), catalog.RecurringRules, row.Row{
		"user_id":       row.Text(a),
		"amount":        row.Text("15"),
		"category":      row.Text("Subscriptions"),
		"next_due_date": row.Text("2026-01-15"),
	})
	require.NoError(t, err)

	tx := expense(a, "15", "Subscriptions")
	tx["recurring_rule_id"] = row.Text(rule.ID())
	_, err = s.Create(ctx, as(a), catalog.Transactions, tx)
	require.NoError(t, err)

	_, err = s.Create(ctx, as(a), catalog.Transactions, tx)
	assert.True(t, backend.IsConstraint(err, "expenses_recurring_rule_id_date_key"), "got %v", err)
}

func TestDeleteSemantics(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")

	rule, err := s.Create(ctx, as(a), catalog.RecurringRules, row.Row{
		"user_id":       row.Text(a),
		"amount":        row.Text("15"),
		"category":      row.Text("Gym"),
		"next_due_date": row.Text("2026-02-01"),
	})
	require.NoError(t, err)
	debt, err := s.Create(ctx, as(a), catalog.Debts, row.Row{
		"user_id":          row.Text(a),
		"person_name":      row.Text("Ravi"),
		"amount":           row.Text("200"),
		"type":             row.Text("lend"),
		"transaction_date": row.Text("2026-01-01"),
	})
	require.NoError(t, err)

	fromRule := expense(a, "15", "Gym")
	fromRule["recurring_rule_id"] = row.Text(rule.ID())
	fromDebt := expense(a, "200", "Debt")
	fromDebt["debt_id"] = row.Text(debt.ID())
	res, err := s.Transaction(ctx, as(a), []backend.Op{
		backend.CreateOp(catalog.Transactions, fromRule),
		backend.CreateOp(catalog.Transactions, fromDebt),
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, as(a), catalog.RecurringRules, rule.ID()))
	kept, err := s.Get(ctx, as(a), catalog.Transactions, res[0].ID())
	require.NoError(t, err, "history survives rule deletion")
	assert.True(t, kept.IsNull("recurring_rule_id"))

	require.NoError(t, s.Delete(ctx, as(a), catalog.Debts, debt.ID()))
	_, err = s.Get(ctx, as(a), catalog.Transactions, res[1].ID())
	assert.True(t, backend.IsNotFound(err), "debt transactions cascade")
}

func TestTransactionIsAtomic(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")

	bad := expense(a, "5", "Food")
	bad["type"] = row.Text("refund")
	_, err := s.Transaction(ctx, as(a), []backend.Op{
		backend.CreateOp(catalog.Transactions, expense(a, "5", "Food")),
		backend.CreateOp(catalog.Transactions, bad),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op 1")
	assert.True(t, backend.IsConstraint(err))

	rows, err := s.Read(ctx, as(a), catalog.Transactions, backend.All())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTransactionCanReferenceEarlierOps(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")

	orgID := "00000000-0000-7000-8000-00000000a11e"
	res, err := s.Transaction(ctx, as(a), []backend.Op{
		backend.CreateOp(catalog.Organizations, row.Row{
			"id": row.Text(orgID), "name": row.Text("Acme"), "created_by": row.Text(a),
		}),
		backend.CreateOp(catalog.Members, row.Row{
			"organization_id": row.Text(orgID), "user_id": row.Text(a), "role": row.Text(policy.RoleOwner),
		}),
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, orgID, res[1].Text("organization_id"))
}

func TestConditionalUpdate(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")
	d, err := s.Create(ctx, as(a), catalog.Debts, debt(a, "10"))
	require.NoError(t, err)

	settle := backend.UpdateOp(catalog.Debts, d.ID(), row.Row{"status": row.Text("settled")}).
		When(row.Row{"status": row.Text("active")})

	res, err := s.Transaction(ctx, as(a), []backend.Op{settle})
	require.NoError(t, err)
	assert.Equal(t, "settled", res[0].Text("status"))

	_, err = s.Transaction(ctx, as(a), []backend.Op{
		settle,
		backend.CreateOp(catalog.Transactions, expense(a, "10", "Debt Repayment")),
	})
	require.Error(t, err)
	assert.True(t, backend.IsConflict(err), "got %v", err)
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []string{"status"}, be.Columns)

	rows, err := s.Read(ctx, as(a), catalog.Transactions, backend.All())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

type recordingMirror struct {
	changes []backend.Change
}

func (m *recordingMirror) Mirror(ctx context.Context, c backend.Change) {
	m.changes = append(m.changes, c)
}

func TestMirrorSeesCommittedWritesOnly(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")
	m := &recordingMirror{}
	s.SetMirror(m)

	r, err := s.Create(ctx, as(a), catalog.Transactions, expense(a, "5", "Food"))
	require.NoError(t, err)
	_, err = s.Update(ctx, as(a), catalog.Transactions, r.ID(), row.Row{"amount": row.Text("6")})
	require.NoError(t, err)

	bad := expense(a, "5", "Food")
	bad["type"] = row.Text("refund")
	_, err = s.Create(ctx, as(a), catalog.Transactions, bad)
	require.Error(t, err)

	require.NoError(t, s.Delete(ctx, as(a), catalog.Transactions, r.ID()))

	require.Len(t, m.changes, 3)
	assert.Equal(t, backend.OpCreate, m.changes[0].Kind)
	assert.Equal(t, a, m.changes[0].Caller.UserID)
	assert.Equal(t, backend.OpUpdate, m.changes[1].Kind)
	assertMoney(t, "5", m.changes[1].Before.Decimal("amount"))
	assertMoney(t, "6", m.changes[1].After.Decimal("amount"))
	assert.Equal(t, backend.OpDelete, m.changes[2].Kind)
	assert.Equal(t, r.ID(), m.changes[2].ID())
}

func debt(userID, amount string) row.Row {
	return row.Row{
		"user_id":          row.Text(userID),
		"person_name":      row.Text("Sam"),
		"amount":           row.Text(amount),
		"type":             row.Text("lend"),
		"transaction_date": row.Text("2026-03-02"),
	}
}

func TestMirrorSeesCascadedDeletes(t *testing.T) {
	s := directtest.Open(t)
	ctx := context.Background()
	a := directtest.Profile(t, s, "a@x.test")

	d, err := s.Create(ctx, as(a), catalog.Debts, debt(a, "40"))
	require.NoError(t, err)
	linked := expense(a, "40", "Debt")
	linked["debt_id"] = row.Text(d.ID())
	tx, err := s.Create(ctx, as(a), catalog.Transactions, linked)
	require.NoError(t, err)
	free, err := s.Create(ctx, as(a), catalog.Transactions, expense(a, "3", "Food"))
	require.NoError(t, err)

	m := &recordingMirror{}
	s.SetMirror(m)
	require.NoError(t, s.Delete(ctx, as(a), catalog.Debts, d.ID()))

	require.Len(t, m.changes, 2)
	assert.Equal(t, backend.OpDelete, m.changes[0].Kind)
	assert.Equal(t, catalog.Transactions, m.changes[0].Table)
	assert.Equal(t, tx.ID(), m.changes[0].ID())
	assert.Equal(t, a, m.changes[0].Caller.UserID)
	assert.Equal(t, catalog.Debts, m.changes[1].Table)
	assert.Equal(t, d.ID(), m.changes[1].ID())

	_, err = s.Get(ctx, as(a), catalog.Transactions, free.ID())
	assert.NoError(t, err)
}

func TestReopenIsIdempotent(t *testing.T) {
	dsn := t.TempDir() + "/reopen.db"
	ctx := context.Background()
	open := func() *direct.Store {
		s, err := direct.Open(ctx, direct.Options{Driver: direct.DriverSQLite, DSN: dsn})
		require.NoError(t, err)
		return s
	}

	s := open()
	a := directtest.Profile(t, s, "a@x.test")
	require.NoError(t, s.Close())

	s = open()
	defer s.Close()
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = s.Get(ctx, as(a), catalog.Profiles, a)
	assert.NoError(t, err)
}
