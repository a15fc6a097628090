package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

var t0 = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func issue(t *testing.T, c Caller, at time.Time, ttl time.Duration) string {
	t.Helper()
	tok, err := Issue(secret, c, at, ttl)
	require.NoError(t, err)
	return tok
}

func TestVerify(t *testing.T) {
	tok := issue(t, Caller{
		UserID:   "u1",
		Email:    "alice@example.com",
		Metadata: Metadata{FullName: "Alice"},
	}, t0, time.Hour)

	c, err := NewVerifier(secret, fixedNow(t0.Add(time.Minute))).Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.UserID)
	assert.Equal(t, "alice@example.com", c.Email)
	assert.Equal(t, RoleAuthenticated, c.Role)
	assert.Equal(t, "Alice", c.Metadata.FullName)
	assert.Equal(t, tok, c.Token)
	assert.True(t, c.ExpiresAt.Equal(t0.Add(time.Hour)))
	assert.False(t, c.IsService())
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier(secret, fixedNow(t0.Add(2*time.Hour)))

	_, err := v.Verify(issue(t, Caller{UserID: "u1"}, t0, time.Hour))
	assert.ErrorIs(t, err, ErrUnauthorized, "expired")

	other, err := Issue("other-secret", Caller{UserID: "u1"}, t0, 4*time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.ErrorIs(t, err, ErrUnauthorized, "wrong secret")

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrUnauthorized, "empty")

	_, err = v.Verify(issue(t, Caller{}, t0, 4*time.Hour))
	assert.ErrorIs(t, err, ErrUnauthorized, "no subject")
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(t0.Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewVerifier(secret, fixedNow(t0)).Verify(tok)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyServiceRole(t *testing.T) {
	tok := issue(t, Caller{Role: RoleService}, t0, time.Hour)
	c, err := NewVerifier(secret, fixedNow(t0)).Verify(tok)
	require.NoError(t, err)
	assert.True(t, c.IsService())
}

type fakeRefresher struct {
	calls int
	next  func() (Session, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	f.calls++
	return f.next()
}

func TestKeeperRefreshesNearExpiry(t *testing.T) {
	now := t0
	clock := func() time.Time { return now }

	ref := &fakeRefresher{next: func() (Session, error) {
		return Session{AccessToken: issue(t, Caller{UserID: "u1"}, now, time.Hour), RefreshToken: "r2"}, nil
	}}
	k, err := NewKeeper(Session{AccessToken: issue(t, Caller{UserID: "u1"}, t0, 5*time.Minute), RefreshToken: "r1"},
		NewVerifier(secret, clock), ref, WithClock(clock))
	require.NoError(t, err)

	_, err = k.Caller(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ref.calls, "token has 5m left")

	now = t0.Add(4 * time.Minute)
	c, err := k.Caller(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ref.calls, "inside the 120s threshold")
	assert.True(t, c.ExpiresAt.Equal(now.Add(time.Hour)))
}

func TestKeeperStartsFromExpiredToken(t *testing.T) {
	now := t0.Add(2 * time.Hour)
	clock := func() time.Time { return now }
	expired := issue(t, Caller{UserID: "u1"}, t0, time.Hour)

	tests := []struct {
		name      string
		refresh   string
		refresher *fakeRefresher
		wantErr   error
	}{
		{
			name:    "refresh token present",
			refresh: "r1",
			refresher: &fakeRefresher{next: func() (Session, error) {
				return Session{AccessToken: issue(t, Caller{UserID: "u1"}, now, time.Hour), RefreshToken: "r2"}, nil
			}},
		},
		{name: "no refresh token", refresher: &fakeRefresher{}, wantErr: jwt.ErrTokenExpired},
		{name: "no refresher", refresh: "r1", wantErr: jwt.ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Refresher
			if tt.refresher != nil {
				r = tt.refresher
			}
			k, err := NewKeeper(Session{AccessToken: expired, RefreshToken: tt.refresh},
				NewVerifier(secret, clock), r, WithClock(clock))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, tt.refresher.calls, "refresh waits for first use")

			c, err := k.Caller(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "u1", c.UserID)
			assert.True(t, c.ExpiresAt.Equal(now.Add(time.Hour)))
			assert.Equal(t, 1, tt.refresher.calls)
		})
	}
}

func TestKeeperExpiredTokenWithRevokedRefresh(t *testing.T) {
	clock := fixedNow(t0.Add(2 * time.Hour))
	ref := &fakeRefresher{next: func() (Session, error) { return Session{}, ErrSessionExpired }}
	k, err := NewKeeper(Session{AccessToken: issue(t, Caller{UserID: "u1"}, t0, time.Hour), RefreshToken: "r1"},
		NewVerifier(secret, clock), ref, WithClock(clock))
	require.NoError(t, err)

	err = k.Do(context.Background(), func(ctx context.Context, c Caller) error {
		t.Fatal("operation must not run without a valid token")
		return nil
	})
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestKeeperIdleTimeout(t *testing.T) {
	now := t0
	clock := func() time.Time { return now }
	k, err := NewKeeper(Session{AccessToken: issue(t, Caller{UserID: "u1"}, t0, time.Hour)},
		NewVerifier(secret, clock), nil, WithClock(clock))
	require.NoError(t, err)

	now = t0.Add(11 * time.Minute)
	_, err = k.Caller(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestKeeperDoRetriesOnce(t *testing.T) {
	clock := fixedNow(t0)
	ref := &fakeRefresher{next: func() (Session, error) {
		return Session{AccessToken: issue(t, Caller{UserID: "u1"}, t0, time.Hour), RefreshToken: "r2"}, nil
	}}
	k, err := NewKeeper(Session{AccessToken: issue(t, Caller{UserID: "u1"}, t0, time.Hour), RefreshToken: "r1"},
		NewVerifier(secret, clock), ref, WithClock(clock))
	require.NoError(t, err)

	attempts := 0
	err = k.Do(context.Background(), func(ctx context.Context, c Caller) error {
		attempts++
		if attempts == 1 {
			return ErrUnauthorized
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, ref.calls)

	// A second failure is returned, not retried again.
	attempts = 0
	err = k.Do(context.Background(), func(ctx context.Context, c Caller) error {
		attempts++
		return ErrUnauthorized
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 2, attempts)
}

func TestKeeperDoDoesNotRetryOtherErrors(t *testing.T) {
	clock := fixedNow(t0)
	ref := &fakeRefresher{}
	k, err := NewKeeper(Session{AccessToken: issue(t, Caller{UserID: "u1"}, t0, time.Hour)},
		NewVerifier(secret, clock), ref, WithClock(clock))
	require.NoError(t, err)

	boom := errors.New("boom")
	attempts := 0
	err = k.Do(context.Background(), func(ctx context.Context, c Caller) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, ref.calls)
}

func TestTokenClientRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["refresh_token"] != "good" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	c := &TokenClient{BaseURL: srv.URL, APIKey: "anon", Now: fixedNow(t0)}
	s, err := c.Refresh(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "new-access", s.AccessToken)
	assert.Equal(t, "new-refresh", s.RefreshToken)
	assert.True(t, s.ExpiresAt.Equal(t0.Add(time.Hour)))

	_, err = c.Refresh(context.Background(), "revoked")
	assert.ErrorIs(t, err, ErrSessionExpired)
}
