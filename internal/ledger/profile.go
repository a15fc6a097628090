package ledger

import (
	"context"
	"fmt"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

var usernameTaken = catalog.UniqueName(catalog.Profiles, "username")

// EnsureProfile returns the caller's profile, creating it from the
// identity metadata on first sign-in. A username already taken by someone
// else is dropped rather than failing the sign-in. A concurrent first
// sign-in that wins the insert is read back.
func (s *Service) EnsureProfile(ctx context.Context, sc backend.Scope) (row.Row, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	p, err := s.db.Get(ctx, sc, catalog.Profiles, uid)
	if err == nil {
		return p, nil
	}
	if !backend.IsNotFound(err) {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}

	md := sc.Caller.Metadata
	values := row.Row{
		"id":         row.Text(uid),
		"email":      row.Text(sc.Caller.Email),
		"full_name":  optional(md.FullName),
		"avatar_url": optional(md.AvatarURL),
		"username":   optional(md.Username),
	}
	p, err = s.db.Create(ctx, sc, catalog.Profiles, values)
	if backend.IsConstraint(err, usernameTaken) {
		s.logger.Info("username taken, provisioning without it", "user", uid, "username", md.Username)
		values["username"] = row.Null{}
		p, err = s.db.Create(ctx, sc, catalog.Profiles, values)
	}
	if backend.IsConstraint(err) {
		if existing, gerr := s.db.Get(ctx, sc, catalog.Profiles, uid); gerr == nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}
	s.logger.Info("profile provisioned", "user", uid)
	return p, nil
}

// Session is what StartSession reports.
type Session struct {
	Profile row.Row

	// Materialized counts recurring transactions created by the sweep.
	Materialized int
}

// StartSession runs the sign-in hooks: profile provisioning, then the
// recurring sweep.
func (s *Service) StartSession(ctx context.Context, sc backend.Scope) (Session, error) {
	p, err := s.EnsureProfile(ctx, sc)
	if err != nil {
		return Session{}, err
	}
	// A failed sweep still reports what it materialized before failing.
	n, err := s.SweepRecurring(ctx, sc)
	return Session{Profile: p, Materialized: n}, err
}

// ProfileInput is a profile settings change. Empty fields are left as they are.
type ProfileInput struct {
	FullName  string `validate:"omitempty,max=200"`
	Username  string `validate:"omitempty,min=3,max=40"`
	AvatarURL string `validate:"omitempty,avatarref"`
	Currency  string `validate:"omitempty,max=8"`
	Budget    string `validate:"omitempty,numeric"`
}

// UpdateProfile changes the caller's profile settings.
func (s *Service) UpdateProfile(ctx context.Context, sc backend.Scope, in ProfileInput) (row.Row, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	if err := s.check(catalog.Profiles, in); err != nil {
		return nil, err
	}
	patch := row.Row{}
	set := func(col, v string) {
		if v != "" {
			patch[col] = row.Text(v)
		}
	}
	set("full_name", in.FullName)
	set("username", in.Username)
	set("avatar_url", in.AvatarURL)
	set("currency", in.Currency)
	set("budget", in.Budget)
	p, err := s.db.Update(ctx, sc, catalog.Profiles, uid, patch)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return p, nil
}
