package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/direct"
	"github.com/parthhkdigiverse/expense-tracker/internal/ledger"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

func TestDebtLifecycle(t *testing.T) {
	e := newEnv(t, "2026-04-10")
	ctx := context.Background()
	a := e.user(t, "a@x.test")

	debt, tx, err := e.svc.CreateDebt(ctx, a, ledger.DebtInput{
		PersonName:      "Ravi",
		Amount:          money("500"),
		Type:            "lend",
		TransactionDate: row.MustDate("2026-04-01"),
		Description:     "laptop repair",
	})
	require.NoError(t, err)
	assert.Equal(t, "active", debt.Text("status"))
	assert.Equal(t, "expense", tx.Text("type"))
	assert.Equal(t, ledger.CategoryDebt, tx.Text("category"))
	assert.Equal(t, "Lent to Ravi - laptop repair", tx.Text("description"))
	assert.Equal(t, debt.ID(), tx.Text("debt_id"))
	assert.Equal(t, "2026-04-01", tx.Date("date").String())

	settled, repayment, err := e.svc.SettleDebt(ctx, a, debt.ID(), "")
	require.NoError(t, err)
	assert.Equal(t, "settled", settled.Text("status"))
	assert.Equal(t, "income", repayment.Text("type"))
	assert.Equal(t, "Repayment from Ravi", repayment.Text("description"))
	assert.Equal(t, ledger.CategoryDebtRepayment, repayment.Text("category"))
	assert.Equal(t, "2026-04-10", repayment.Date("date").String())
	assertMoney(t, "500", repayment.Decimal("amount"))

	_, _, err = e.svc.SettleDebt(ctx, a, debt.ID(), "")
	assert.True(t, backend.IsInvalidInput(err), "got %v", err)

	active, err := e.svc.Debts(ctx, a, "active")
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, e.store.Delete(ctx, a, catalog.Debts, debt.ID()))
	rows, err := e.store.Read(ctx, a, catalog.Transactions, backend.All())
	require.NoError(t, err)
	assert.Empty(t, rows, "debt transactions cascade with the debt")
}

func TestBorrowingIsIncome(t *testing.T) {
	e := newEnv(t, "2026-04-10")
	ctx := context.Background()
	a := e.user(t, "a@x.test")

	debt, tx, err := e.svc.CreateDebt(ctx, a, ledger.DebtInput{
		PersonName:      "Meera",
		Amount:          money("300"),
		Type:            "borrow",
		TransactionDate: row.MustDate("2026-04-02"),
	})
	require.NoError(t, err)
	assert.Equal(t, "income", tx.Text("type"))
	assert.Equal(t, "Borrowed from Meera", tx.Text("description"))

	_, repayment, err := e.svc.SettleDebt(ctx, a, debt.ID(), "")
	require.NoError(t, err)
	assert.Equal(t, "expense", repayment.Text("type"))
	assert.Equal(t, "Repayment to Meera", repayment.Text("description"))

	b, err := e.svc.PersonalBalance(ctx, a, row.Date{}, row.Date{})
	require.NoError(t, err)
	assertMoney(t, "300", b.Income)
	assertMoney(t, "300", b.Expenses)
	assertMoney(t, "0", b.Net)
	assertMoney(t, "0", b.Borrowed)
}

func TestCreateDebtValidates(t *testing.T) {
	e := newEnv(t, "2026-04-10")
	a := e.user(t, "a@x.test")

	_, _, err := e.svc.CreateDebt(context.Background(), a, ledger.DebtInput{
		PersonName:      "Ravi",
		Amount:          money("10"),
		Type:            "gift",
		TransactionDate: row.MustDate("2026-04-01"),
	})
	assert.True(t, backend.IsInvalidInput(err), "got %v", err)

	rows, err := e.store.Read(context.Background(), a, catalog.Debts, backend.All())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestOtherUsersCannotSettleADebt(t *testing.T) {
	e := newEnv(t, "2026-04-10")
	ctx := context.Background()
	a := e.user(t, "a@x.test")
	b := e.user(t, "b@x.test")

	debt, _, err := e.svc.CreateDebt(ctx, a, ledger.DebtInput{
		PersonName:      "Ravi",
		Amount:          money("10"),
		Type:            "lend",
		TransactionDate: row.MustDate("2026-04-01"),
	})
	require.NoError(t, err)

	_, _, err = e.svc.SettleDebt(ctx, b, debt.ID(), "")
	assert.True(t, backend.IsNotFound(err), "got %v", err)
}

// settleFirst settles a debt behind the service's back right after the
// service reads it.
type settleFirst struct {
	backend.Adapter
	store *direct.Store
}

func (a settleFirst) Get(ctx context.Context, sc backend.Scope, table, id string) (row.Row, error) {
	r, err := a.Adapter.Get(ctx, sc, table, id)
	if err == nil && table == catalog.Debts {
		_, err = a.store.Update(ctx, sc, table, id, row.Row{"status": row.Text("settled")})
	}
	return r, err
}

func TestSettleDebtOnlyOnce(t *testing.T) {
	var store *direct.Store
	e := newEnv(t, "2026-04-10", func(o *ledger.Options) {
		store = o.Adapter.(*direct.Store)
		o.Adapter = settleFirst{Adapter: store, store: store}
	})
	ctx := context.Background()
	a := e.user(t, "a@x.test")

	debt, _, err := e.svc.CreateDebt(ctx, a, ledger.DebtInput{
		PersonName:      "Ravi",
		Amount:          money("50"),
		Type:            "lend",
		TransactionDate: row.MustDate("2026-04-01"),
	})
	require.NoError(t, err)

	_, _, err = e.svc.SettleDebt(ctx, a, debt.ID(), "")
	require.Error(t, err)
	assert.True(t, backend.IsConflict(err), "got %v", err)

	rows, err := store.Read(ctx, a, catalog.Transactions,
		backend.Where(backend.Eq("category", row.Text(ledger.CategoryDebtRepayment))))
	require.NoError(t, err)
	assert.Empty(t, rows, "no repayment without the status change")
}
