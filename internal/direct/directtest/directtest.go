// Package directtest opens throwaway SQLite-backed direct stores and seeds
// them through the service scope.
package directtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/direct"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
	"github.com/parthhkdigiverse/expense-tracker/internal/testutil"
)

// Service is the scope that bypasses predicates.
var Service = backend.Personal(identity.Service(""))

// As returns the personal scope of userID.
func As(userID string) backend.Scope {
	return backend.Personal(identity.Caller{UserID: userID, Role: identity.RoleAuthenticated})
}

// Open creates a store in a fresh temporary SQLite file. The store is
// closed when the test ends.
func Open(t testing.TB, opts ...func(*direct.Options)) *direct.Store {
	t.Helper()
	o := direct.Options{
		Driver: direct.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "expense-tracker.db"),
		NewID:  testutil.NewIDs(1).Next,
	}
	for _, fn := range opts {
		fn(&o)
	}
	s, err := direct.Open(context.Background(), o)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// WithClock sets the store's clock.
func WithClock(c *testutil.Clock) func(*direct.Options) {
	return func(o *direct.Options) { o.Now = c.Now }
}

// WithIDs sets the store's id source.
func WithIDs(g *testutil.IDs) func(*direct.Options) {
	return func(o *direct.Options) { o.NewID = g.Next }
}

// Profile inserts a profile with a random id and returns the id.
func Profile(t testing.TB, a backend.Adapter, email string) string {
	t.Helper()
	r, err := a.Create(context.Background(), Service, catalog.Profiles, row.Row{
		"id":    row.Text(uuid.NewString()),
		"email": row.Text(email),
	})
	require.NoError(t, err)
	return r.ID()
}

// Organization creates an organization as userID and enrolls userID with
// role, the way the organization service does.
func Organization(t testing.TB, a backend.Adapter, userID, name, role string) string {
	t.Helper()
	ctx := context.Background()
	org, err := a.Create(ctx, As(userID), catalog.Organizations, row.Row{
		"name":       row.Text(name),
		"created_by": row.Text(userID),
	})
	require.NoError(t, err)
	_, err = a.Create(ctx, As(userID), catalog.Members, row.Row{
		"organization_id": row.Text(org.ID()),
		"user_id":         row.Text(userID),
		"role":            row.Text(role),
	})
	require.NoError(t, err)
	return org.ID()
}

// Member enrolls userID in orgID through the service scope.
func Member(t testing.TB, a backend.Adapter, orgID, userID, role string) string {
	t.Helper()
	m, err := a.Create(context.Background(), Service, catalog.Members, row.Row{
		"organization_id": row.Text(orgID),
		"user_id":         row.Text(userID),
		"role":            row.Text(role),
	})
	require.NoError(t, err)
	return m.ID()
}
