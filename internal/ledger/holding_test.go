package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/direct/directtest"
	"github.com/parthhkdigiverse/expense-tracker/internal/ledger"
	"github.com/parthhkdigiverse/expense-tracker/internal/policy"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// org creates an organization owned by sc's user and returns the
// org-scoped scope.
func (e env) org(t *testing.T, sc backend.Scope, name string) backend.Scope {
	t.Helper()
	id := directtest.Organization(t, e.store, sc.Caller.UserID, name, policy.RoleOwner)
	return sc.InOrg(id)
}

func TestHoldingPaymentLifecycle(t *testing.T) {
	e := newEnv(t, "2026-03-01")
	ctx := context.Background()
	acme := e.org(t, e.user(t, "a@x.test"), "Acme")

	h, err := e.svc.CreateHolding(ctx, acme, ledger.HoldingInput{
		Name:         "Invoice 7",
		Type:         "receivable",
		Amount:       money("100"),
		ExpectedDate: row.MustDate("2026-03-31"),
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", h.Text("status"))
	assertMoney(t, "100", h.Decimal("remaining_amount"))
	assert.Equal(t, acme.OrgID, h.Text("organization_id"))

	h, err = e.svc.RecordPayment(ctx, acme, h.ID(), money("40"))
	require.NoError(t, err)
	assertMoney(t, "40", h.Decimal("paid_amount"))
	assertMoney(t, "60", h.Decimal("remaining_amount"))
	assert.Equal(t, "partial", h.Text("status"))

	_, err = e.svc.RecordPayment(ctx, acme, h.ID(), money("70"))
	assert.True(t, backend.IsOverpayment(err), "got %v", err)

	got, err := e.store.Get(ctx, acme, catalog.HoldingPayments, h.ID())
	require.NoError(t, err)
	assertMoney(t, "40", got.Decimal("paid_amount"))

	_, err = e.svc.RecordPayment(ctx, acme, h.ID(), money("0"))
	assert.True(t, backend.IsInvalidInput(err), "got %v", err)

	h, err = e.svc.RecordPayment(ctx, acme, h.ID(), money("60"))
	require.NoError(t, err)
	assert.Equal(t, "settled", h.Text("status"))
	assertMoney(t, "0", h.Decimal("remaining_amount"))
}

func TestSettleFullPaysTheRemainder(t *testing.T) {
	e := newEnv(t, "2026-03-01")
	ctx := context.Background()
	acme := e.org(t, e.user(t, "a@x.test"), "Acme")

	h, err := e.svc.CreateHolding(ctx, acme, ledger.HoldingInput{Name: "Supplier", Type: "payable", Amount: money("250")})
	require.NoError(t, err)
	_, err = e.svc.RecordPayment(ctx, acme, h.ID(), money("50"))
	require.NoError(t, err)

	h, err = e.svc.SettleFull(ctx, acme, h.ID())
	require.NoError(t, err)
	assertMoney(t, "250", h.Decimal("paid_amount"))
	assertMoney(t, "0", h.Decimal("remaining_amount"))
	assert.Equal(t, "settled", h.Text("status"))
}

func TestHoldingsAreInvisibleOutsideTheOrganization(t *testing.T) {
	e := newEnv(t, "2026-03-01")
	ctx := context.Background()
	acme := e.org(t, e.user(t, "a@x.test"), "Acme")
	outsider := e.user(t, "z@x.test")

	h, err := e.svc.CreateHolding(ctx, acme, ledger.HoldingInput{Name: "Invoice", Type: "receivable", Amount: money("10")})
	require.NoError(t, err)

	_, err = e.svc.RecordPayment(ctx, outsider, h.ID(), money("5"))
	assert.True(t, backend.IsNotFound(err), "got %v", err)
	_, err = e.svc.SettleFull(ctx, outsider, h.ID())
	assert.True(t, backend.IsNotFound(err), "got %v", err)
}

func TestCreateHoldingValidates(t *testing.T) {
	e := newEnv(t, "2026-03-01")
	ctx := context.Background()
	a := e.user(t, "a@x.test")
	acme := e.org(t, a, "Acme")

	_, err := e.svc.CreateHolding(ctx, acme, ledger.HoldingInput{Type: "receivable", Amount: money("10")})
	assert.True(t, backend.IsInvalidInput(err), "name required, got %v", err)

	_, err = e.svc.CreateHolding(ctx, acme, ledger.HoldingInput{Name: "x", Type: "gift", Amount: money("10")})
	assert.True(t, backend.IsInvalidInput(err), "got %v", err)

	_, err = e.svc.CreateHolding(ctx, a, ledger.HoldingInput{Name: "x", Type: "payable", Amount: money("10")})
	assert.True(t, backend.IsInvalidInput(err), "organization required, got %v", err)
}
