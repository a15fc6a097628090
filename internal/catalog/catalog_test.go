package catalog

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parthhkdigiverse/expense-tracker/internal/policy"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Len(t, c.Entities(), 15)
	assert.Len(t, c.Tables(), 17)
}

func TestEveryEntityHasCompletePolicy(t *testing.T) {
	for _, tbl := range Default().Entities() {
		for _, a := range policy.Actions {
			assert.NotNil(t, tbl.Policy.For(a), "%s has no %s predicate", tbl.Name, a)
		}
	}
}

func TestEntityHidesInternalTables(t *testing.T) {
	c := Default()
	_, ok := c.Entity(SyncLedger)
	assert.False(t, ok)
	_, ok = c.Table(SyncLedger)
	assert.True(t, ok)
}

func TestValidateRejectsMissingPolicy(t *testing.T) {
	tables := []*Table{{
		Name:    "notes",
		Columns: []Column{{Name: "id", Type: row.TypeUUID}},
	}}
	_, err := New(tables, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notes policy")
}

func TestValidateRejectsForwardReference(t *testing.T) {
	tables := []*Table{{
		Name: "a",
		Columns: []Column{
			{Name: "id", Type: row.TypeUUID},
			{Name: "b_id", Type: row.TypeUUID, Ref: &Ref{Table: "b", Column: "id"}},
		},
		Policy: policy.Owned("id"),
	}, {
		Name:    "b",
		Columns: []Column{{Name: "id", Type: row.TypeUUID}},
		Policy:  policy.Owned("id"),
	}}
	_, err := New(tables, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be declared earlier")
}

func TestValidateRejectsSetNullOnRequiredColumn(t *testing.T) {
	tables := []*Table{{
		Name:    "a",
		Columns: []Column{{Name: "id", Type: row.TypeUUID}},
		Policy:  policy.Owned("id"),
	}, {
		Name: "b",
		Columns: []Column{
			{Name: "id", Type: row.TypeUUID},
			{Name: "a_id", Type: row.TypeUUID, Ref: &Ref{Table: "a", Column: "id", OnDelete: SetNull}},
		},
		Policy: policy.Owned("id"),
	}}
	_, err := New(tables, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SET NULL")
}

func TestDeleteSemantics(t *testing.T) {
	c := Default()

	refs := c.Referencing(RecurringRules)
	require.Len(t, refs, 1)
	assert.Equal(t, ColumnRef{Table: Transactions, Column: "recurring_rule_id", OnDelete: SetNull}, refs[0])

	refs = c.Referencing(Debts)
	require.Len(t, refs, 1)
	assert.Equal(t, Cascade, refs[0].OnDelete)
}

func TestConstraintLookup(t *testing.T) {
	tbl, ok := Default().Table(Transactions)
	require.True(t, ok)

	name := tbl.ConstraintFor([]string{"date", "recurring_rule_id"})
	assert.Equal(t, "expenses_recurring_rule_id_date_key", name)
	assert.Equal(t, []string{"recurring_rule_id", "date"}, tbl.ConstraintColumns(name))
	assert.Equal(t, []string{"type"}, tbl.ConstraintColumns("expenses_type_check"))
	assert.Equal(t, []string{"debt_id"}, tbl.ConstraintColumns("expenses_debt_id_fkey"))

	profiles, _ := Default().Table(Profiles)
	assert.Equal(t, "profiles_email_key", profiles.ConstraintFor([]string{"email"}))
	assert.Empty(t, profiles.ConstraintFor([]string{"full_name"}))
}

func TestCoerce(t *testing.T) {
	tbl, _ := Default().Table(Transactions)

	r, err := tbl.Coerce(row.Row{"amount": row.Text("12.50"), "date": row.Text("2026-01-31")})
	require.NoError(t, err)
	assert.True(t, row.Equal(row.Money("12.5"), r["amount"]))
	assert.Equal(t, row.MustDate("2026-01-31"), r["date"])

	_, err = tbl.Coerce(row.Row{"amount": row.Text("12.505")})
	assert.ErrorContains(t, err, "more than 2 decimal places")

	_, err = tbl.Coerce(row.Row{"nope": row.Text("x")})
	var colErr *ColumnError
	require.ErrorAs(t, err, &colErr)
	assert.Equal(t, "nope", colErr.Column)
}

func TestCreateStatementPostgres(t *testing.T) {
	tbl, _ := Default().Table(Transactions)
	stmt := tbl.CreateStatement(Postgres)

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS expenses (",
		"id uuid NOT NULL DEFAULT gen_random_uuid() PRIMARY KEY",
		"amount numeric NOT NULL",
		"type text NOT NULL DEFAULT 'expense'",
		"recurring_rule_id uuid",
		"CONSTRAINT expenses_recurring_rule_id_date_key UNIQUE (recurring_rule_id, date)",
		"CONSTRAINT expenses_debt_id_fkey FOREIGN KEY (debt_id) REFERENCES debts (id) ON DELETE CASCADE",
		"CONSTRAINT expenses_recurring_rule_id_fkey FOREIGN KEY (recurring_rule_id) REFERENCES recurring_expenses (id) ON DELETE SET NULL",
		"CONSTRAINT expenses_type_check CHECK (type IN ('income', 'expense'))",
		"created_at timestamptz NOT NULL DEFAULT now()",
	} {
		assert.Contains(t, stmt, want)
	}
	assert.NotContains(t, stmt, "recurring_rule_id uuid NOT NULL")
}

func TestCreateStatementSQLite(t *testing.T) {
	tbl, _ := Default().Table(HoldingPayments)
	stmt := tbl.CreateStatement(SQLite)

	assert.Contains(t, stmt, "id TEXT NOT NULL PRIMARY KEY")
	assert.Contains(t, stmt, "paid_amount INTEGER NOT NULL DEFAULT 0")
	assert.Contains(t, stmt, "CONSTRAINT ent_holding_payments_remaining_amount_check CHECK (remaining_amount = amount - paid_amount)")
	assert.Contains(t, stmt, "CONSTRAINT ent_holding_payments_settlement_check CHECK ((status = 'pending' AND paid_amount = 0) OR")
	assert.Contains(t, stmt, "created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP")
	assert.Contains(t, stmt, "CONSTRAINT ent_holding_payments_paid_amount_check CHECK (paid_amount >= 0 AND paid_amount <= amount)")
}

func TestDDLExcludesInternalTablesForManagedStore(t *testing.T) {
	managed := strings.Join(Default().DDL(Postgres, false), "\n")
	direct := strings.Join(Default().DDL(Postgres, true), "\n")

	assert.NotContains(t, managed, "sync_ledger")
	assert.Contains(t, direct, "CREATE TABLE IF NOT EXISTS sync_ledger")
	assert.Contains(t, direct, "CREATE INDEX IF NOT EXISTS idx_ent_members_organization_id ON ent_members (organization_id)")
}

func TestDDLQuotesDefaults(t *testing.T) {
	tbl, _ := Default().Table(Profiles)
	assert.Contains(t, tbl.CreateStatement(SQLite), "currency TEXT NOT NULL DEFAULT '₹'")
	assert.Equal(t, "'it''s'", Literal(row.Text("it's")))
}

func TestProcedures(t *testing.T) {
	c := Default()
	p, ok := c.Procedure(RecordHoldingPayment)
	require.True(t, ok)
	assert.Equal(t, HoldingPayments, p.Table)
	assert.Equal(t, "paid_amount + :amount <= amount", p.Guard)

	names := []string{}
	for _, proc := range c.Procedures() {
		names = append(names, proc.Name)
	}
	assert.Equal(t, []string{RecordHoldingPayment, SettleHoldingPayment}, names)
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("sqlite")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"0", 0, true},
		{"0.1", 10, true},
		{"12.5", 1250, true},
		{"-3.07", -307, true},
		{"0.005", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d := decimal.RequireFromString(tt.in)
			n, ok := MinorUnits(d)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ok, FitsMoneyScale(d))
			if tt.ok {
				assert.Equal(t, tt.want, n)
				assert.True(t, FromMinorUnits(n).Equal(d))
			}
		})
	}
}

func TestHoldingCheckViolationsNameTheirColumn(t *testing.T) {
	tbl, _ := Default().Table(HoldingPayments)
	assert.Equal(t, []string{"remaining_amount"}, tbl.ConstraintColumns("ent_holding_payments_remaining_amount_check"))
	assert.Equal(t, []string{"status"}, tbl.ConstraintColumns("ent_holding_payments_settlement_check"))
}
