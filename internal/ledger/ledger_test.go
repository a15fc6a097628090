package ledger_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/direct"
	"github.com/parthhkdigiverse/expense-tracker/internal/direct/directtest"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/ledger"
	"github.com/parthhkdigiverse/expense-tracker/internal/testutil"
)

type env struct {
	store *direct.Store
	clock *testutil.Clock
	svc   *ledger.Service
}

func newEnv(t *testing.T, date string, opts ...func(*ledger.Options)) env {
	t.Helper()
	clock := testutil.NewClockOn(date)
	store := directtest.Open(t, directtest.WithClock(clock))
	o := ledger.Options{Adapter: store, Now: clock.Now, PINCost: bcrypt.MinCost}
	for _, fn := range opts {
		fn(&o)
	}
	svc, err := ledger.New(o)
	require.NoError(t, err)
	return env{store: store, clock: clock, svc: svc}
}

// user registers a profile and returns its signed-in scope.
func (e env) user(t *testing.T, email string) backend.Scope {
	t.Helper()
	id := directtest.Profile(t, e.store, email)
	return signedIn(id, email, identity.Metadata{})
}

func signedIn(id, email string, md identity.Metadata) backend.Scope {
	return backend.Personal(identity.Caller{
		UserID:   id,
		Email:    email,
		Role:     identity.RoleAuthenticated,
		Metadata: md,
	})
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, money(want).Equal(got), "want %s, got %s", want, got)
}

func TestNewRequiresAdapter(t *testing.T) {
	_, err := ledger.New(ledger.Options{})
	assert.ErrorContains(t, err, "adapter is required")
}

func TestEnsureProfileProvisionsOnce(t *testing.T) {
	e := newEnv(t, "2026-03-01")
	ctx := context.Background()
	sc := signedIn(uuid.NewString(), "a@x.test", identity.Metadata{FullName: "Asha Rao", Username: "asha"})

	p, err := e.svc.EnsureProfile(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, sc.Caller.UserID, p.ID())
	assert.Equal(t, "a@x.test", p.Text("email"))
	assert.Equal(t, "Asha Rao", p.Text("full_name"))
	assert.Equal(t, "asha", p.Text("username"))
	assert.True(t, p.IsNull("avatar_url"))

	again, err := e.svc.EnsureProfile(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, p.ID(), again.ID())
}

func TestEnsureProfileDropsTakenUsername(t *testing.T) {
	e := newEnv(t, "2026-03-01")
	ctx := context.Background()
	first := signedIn(uuid.NewString(), "a@x.test", identity.Metadata{Username: "sam"})
	second := signedIn(uuid.NewString(), "b@x.test", identity.Metadata{Username: "sam"})

	_, err := e.svc.EnsureProfile(ctx, first)
	require.NoError(t, err)
	p, err := e.svc.EnsureProfile(ctx, second)
	require.NoError(t, err)
	assert.True(t, p.IsNull("username"))
	assert.Equal(t, "b@x.test", p.Text("email"))
}

func TestEnsureProfileRequiresUser(t *testing.T) {
	e := newEnv(t, "2026-03-01")
	_, err := e.svc.EnsureProfile(context.Background(), directtest.Service)
	assert.True(t, backend.IsUnauthorized(err), "got %v", err)
}

func TestUpdateProfile(t *testing.T) {
	e := newEnv(t, "2026-03-01")
	ctx := context.Background()
	a := e.user(t, "a@x.test")

	p, err := e.svc.UpdateProfile(ctx, a, ledger.ProfileInput{Currency: "$", Budget: "2500.50", AvatarURL: "avatars/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "$", p.Text("currency"))
	assertMoney(t, "2500.5", p.Decimal("budget"))
	assert.Equal(t, "avatars/a.png", p.Text("avatar_url"))

	_, err = e.svc.UpdateProfile(ctx, a, ledger.ProfileInput{AvatarURL: "receipts/../etc/passwd"})
	assert.True(t, backend.IsInvalidInput(err), "got %v", err)
}
