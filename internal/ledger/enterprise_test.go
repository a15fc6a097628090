package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/ledger"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

func (e env) bankAccount(t *testing.T, sc backend.Scope, table, name string) string {
	t.Helper()
	values := row.Row{"bank_name": row.Text(name)}
	if table == catalog.BankAccounts {
		values["user_id"] = row.Text(sc.Caller.UserID)
	}
	acct, err := e.store.Create(context.Background(), sc, table, values)
	require.NoError(t, err)
	return acct.ID()
}

func TestAddEnterpriseTransaction(t *testing.T) {
	e := newEnv(t, "2026-03-15")
	ctx := context.Background()
	a := e.user(t, "a@x.test")
	acme := e.org(t, a, "Acme")
	entBank := e.bankAccount(t, acme, catalog.EnterpriseBankAccounts, "Acme Current")
	myBank := e.bankAccount(t, a, catalog.BankAccounts, "Savings")

	tests := []struct {
		name         string
		in           ledger.EnterpriseTransactionInput
		table        string
		wantStatus   string
		wantPersonal string // personal transaction type, empty for none
		wantCategory string
	}{
		{
			name:       "revenue without personal account",
			in:         ledger.EnterpriseTransactionInput{Kind: ledger.KindRevenue, Amount: money("1000"), BankAccountID: entBank},
			table:      catalog.Revenue,
			wantStatus: "received",
		},
		{
			name: "revenue booked personally",
			in: ledger.EnterpriseTransactionInput{
				Kind: ledger.KindRevenue, Amount: money("250.75"), Narrative: "invoice 12",
				PersonalBankAccountID: myBank,
			},
			table:        catalog.Revenue,
			wantStatus:   "received",
			wantPersonal: "income",
			wantCategory: ledger.CategoryEnterpriseIncome,
		},
		{
			name: "pending expense booked personally",
			in: ledger.EnterpriseTransactionInput{
				Kind: ledger.KindExpense, Amount: money("80"), Status: "pending", Category: "Travel",
				Narrative: "cab", PersonalBankAccountID: myBank,
			},
			table:        catalog.EnterpriseExpenses,
			wantStatus:   "pending",
			wantPersonal: "expense",
			wantCategory: ledger.CategoryEnterpriseExpense,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent, personal, err := e.svc.AddEnterpriseTransaction(ctx, acme, tt.in)
			require.NoError(t, err)

			got, err := e.store.Get(ctx, acme, tt.table, ent.ID())
			require.NoError(t, err)
			assertMoney(t, tt.in.Amount.String(), got.Decimal("amount"))
			assert.Equal(t, tt.wantStatus, got.Text("status"))
			assert.Equal(t, "2026-03-15", got.Date("date").String(), "defaults to today")
			assert.Equal(t, acme.OrgID, got.Text("organization_id"))
			assert.Equal(t, a.Caller.UserID, got.Text("taken_by"))
			assert.Equal(t, a.Caller.UserID, got.Text("created_by"))

			if tt.wantPersonal == "" {
				assert.Nil(t, personal)
				return
			}
			require.NotNil(t, personal)
			assert.Equal(t, a.Caller.UserID, personal.Text("user_id"))
			assert.Equal(t, tt.wantPersonal, personal.Text("type"))
			assert.Equal(t, tt.wantCategory, personal.Text("category"))
			assert.Equal(t, myBank, personal.Text("bank_account_id"))
			assertMoney(t, tt.in.Amount.String(), personal.Decimal("amount"))
			assert.Contains(t, personal.Text("description"), tt.in.Narrative)
		})
	}

	txs, err := e.svc.Transactions(ctx, a, ledger.TransactionQuery{})
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestAddEnterpriseTransactionRejects(t *testing.T) {
	e := newEnv(t, "2026-03-15")
	ctx := context.Background()
	a := e.user(t, "a@x.test")
	b := e.user(t, "b@x.test")
	acme := e.org(t, a, "Acme")
	myBank := e.bankAccount(t, a, catalog.BankAccounts, "Savings")

	tests := []struct {
		name  string
		scope backend.Scope
		in    ledger.EnterpriseTransactionInput
	}{
		{"no organization", a, ledger.EnterpriseTransactionInput{Kind: ledger.KindRevenue, Amount: money("1")}},
		{"unknown kind", acme, ledger.EnterpriseTransactionInput{Kind: "gift", Amount: money("1")}},
		{"zero amount", acme, ledger.EnterpriseTransactionInput{Kind: ledger.KindExpense}},
		{"revenue cannot be paid", acme, ledger.EnterpriseTransactionInput{Kind: ledger.KindRevenue, Amount: money("1"), Status: "paid"}},
		{"personal ledger of another user", acme, ledger.EnterpriseTransactionInput{
			Kind: ledger.KindExpense, Amount: money("1"), TakenBy: b.Caller.UserID, PersonalBankAccountID: myBank,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := e.svc.AddEnterpriseTransaction(ctx, tt.scope, tt.in)
			assert.True(t, backend.IsInvalidInput(err), "got %v", err)
		})
	}

	for _, table := range []string{catalog.Revenue, catalog.EnterpriseExpenses} {
		rows, err := e.store.Read(ctx, acme, table, backend.All())
		require.NoError(t, err)
		assert.Empty(t, rows, table)
	}
}

func TestAddEnterpriseTransactionIsAtomic(t *testing.T) {
	e := newEnv(t, "2026-03-15")
	ctx := context.Background()
	a := e.user(t, "a@x.test")
	acme := e.org(t, a, "Acme")

	// A personal account id that does not exist fails the second write.
	_, _, err := e.svc.AddEnterpriseTransaction(ctx, acme, ledger.EnterpriseTransactionInput{
		Kind: ledger.KindExpense, Amount: money("40"),
		PersonalBankAccountID: "00000000-0000-7000-8000-0000000000ff",
	})
	require.Error(t, err)
	assert.True(t, backend.IsConstraint(err), "got %v", err)

	rows, err := e.store.Read(ctx, acme, catalog.EnterpriseExpenses, backend.All())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestInvestments(t *testing.T) {
	e := newEnv(t, "2026-03-15")
	ctx := context.Background()
	acme := e.org(t, e.user(t, "a@x.test"), "Acme")

	inv, err := e.svc.AddInvestment(ctx, acme, ledger.InvestmentInput{
		Date: row.MustDate("2026-01-02"), Amount: money("5000"), TakenBy: "Priya", Narrative: "seed",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.InvestmentDeposit, inv.Text("type"))
	assert.Equal(t, "Priya", inv.Text("source"))
	assert.Equal(t, "Priya", inv.Text("taken_by"))

	_, err = e.svc.AddInvestment(ctx, acme, ledger.InvestmentInput{
		Date: row.MustDate("2026-02-02"), Amount: money("1200.50"), Type: ledger.InvestmentWithdraw,
	})
	require.NoError(t, err)

	_, err = e.svc.AddInvestment(ctx, acme, ledger.InvestmentInput{Amount: money("1")})
	assert.True(t, backend.IsInvalidInput(err), "date is required, got %v", err)
	_, err = e.svc.AddInvestment(ctx, acme, ledger.InvestmentInput{
		Date: row.MustDate("2026-02-02"), Amount: money("1"), Type: "loan",
	})
	assert.True(t, backend.IsInvalidInput(err), "got %v", err)

	capital, err := e.svc.Investments(ctx, acme)
	require.NoError(t, err)
	require.Len(t, capital.Entries, 2)
	assert.Equal(t, "2026-02-02", capital.Entries[0].Date("date").String())
	assertMoney(t, "5000", capital.Invested)
	assertMoney(t, "1200.50", capital.Withdrawn)
	assertMoney(t, "3799.50", capital.Net)
}

func TestCashflowWindow(t *testing.T) {
	today := row.MustDate("2026-03-15")
	tests := []struct {
		period   string
		from, to string
	}{
		{"", "2026-03-01", "2026-03-15"},
		{ledger.PeriodThisMonth, "2026-03-01", "2026-03-15"},
		{ledger.PeriodLastMonth, "2026-02-01", "2026-02-28"},
		{ledger.PeriodThisYear, "2026-01-01", "2026-03-15"},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			from, to := ledger.CashflowQuery{Period: tt.period}.Window(today)
			assert.Equal(t, tt.from, from.String())
			assert.Equal(t, tt.to, to.String())
		})
	}

	from, to := ledger.CashflowQuery{Period: ledger.PeriodLastMonth}.Window(row.MustDate("2026-01-10"))
	assert.Equal(t, "2025-12-01", from.String())
	assert.Equal(t, "2025-12-31", to.String())

	from, to = ledger.CashflowQuery{Period: ledger.PeriodCustom, From: row.MustDate("2025-06-01")}.Window(today)
	assert.Equal(t, "2025-06-01", from.String())
	assert.True(t, to.IsZero())
}

func TestCashflow(t *testing.T) {
	e := newEnv(t, "2026-03-15")
	ctx := context.Background()
	acme := e.org(t, e.user(t, "a@x.test"), "Acme")

	e.enterprise(t, acme, catalog.Revenue, "2026-03-02", "1000", "received")
	e.enterprise(t, acme, catalog.Revenue, "2026-03-10", "400", "pending")
	e.enterprise(t, acme, catalog.Revenue, "2026-02-20", "700", "")
	e.enterprise(t, acme, catalog.EnterpriseExpenses, "2026-03-05", "300", "")
	e.enterprise(t, acme, catalog.EnterpriseExpenses, "2026-02-03", "90", "")
	e.enterprise(t, acme, catalog.EnterpriseExpenses, "2025-12-31", "10", "")

	cf, err := e.svc.Cashflow(ctx, acme, ledger.CashflowQuery{})
	require.NoError(t, err)
	assert.Equal(t, ledger.PeriodThisMonth, cf.Period)
	require.Len(t, cf.Entries, 3)
	assert.Equal(t, "2026-03-10", cf.Entries[0].Row.Date("date").String())
	assert.Equal(t, "income", cf.Entries[0].Type)
	assert.Equal(t, "expense", cf.Entries[1].Type)
	assert.Equal(t, "2026-03-02", cf.Entries[2].Row.Date("date").String())
	assertMoney(t, "1400", cf.TotalIncome)
	assertMoney(t, "300", cf.TotalExpenses)
	assertMoney(t, "1100", cf.Net)

	cf, err = e.svc.Cashflow(ctx, acme, ledger.CashflowQuery{Period: ledger.PeriodLastMonth})
	require.NoError(t, err)
	assertMoney(t, "700", cf.TotalIncome)
	assertMoney(t, "90", cf.TotalExpenses)

	cf, err = e.svc.Cashflow(ctx, acme, ledger.CashflowQuery{Period: ledger.PeriodThisYear})
	require.NoError(t, err)
	assert.Len(t, cf.Entries, 5)

	cf, err = e.svc.Cashflow(ctx, acme, ledger.CashflowQuery{Period: ledger.PeriodCustom})
	require.NoError(t, err)
	assert.Len(t, cf.Entries, 6, "custom with open bounds is everything")
	assertMoney(t, "2100", cf.TotalIncome)
	assertMoney(t, "400", cf.TotalExpenses)

	_, err = e.svc.Cashflow(ctx, acme, ledger.CashflowQuery{
		Period: ledger.PeriodCustom, From: row.MustDate("2026-03-01"), To: row.MustDate("2026-02-01"),
	})
	assert.True(t, backend.IsInvalidInput(err), "got %v", err)
	_, err = e.svc.Cashflow(ctx, acme, ledger.CashflowQuery{Period: "fortnight"})
	assert.True(t, backend.IsInvalidInput(err), "got %v", err)
}

func TestCashflowNeedsOrganization(t *testing.T) {
	e := newEnv(t, "2026-03-15")
	_, err := e.svc.Cashflow(context.Background(), e.user(t, "a@x.test"), ledger.CashflowQuery{})
	assert.True(t, backend.IsInvalidInput(err), "got %v", err)
}
