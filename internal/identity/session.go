package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default session timing.
const (
	DefaultRefreshThreshold = 120 * time.Second
	DefaultIdleTimeout      = 10 * time.Minute
)

// Session is a pair of tokens issued at sign-in.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"-"`
}

// Refresher exchanges a refresh token for a new session.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Session, error)
}

// TokenClient talks to the identity provider's token endpoint.
type TokenClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Now     func() time.Time
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Refresh implements Refresher using grant_type=refresh_token.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return Session{}, fmt.Errorf("refresh session: %w", err)
	}
	url := strings.TrimSuffix(c.BaseURL, "/") + "/auth/v1/token?grant_type=refresh_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("refresh session: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.APIKey)

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("refresh session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return Session{}, fmt.Errorf("refresh session: %w", ErrSessionExpired)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Session{}, fmt.Errorf("refresh session: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Session{}, fmt.Errorf("refresh session: decode: %w", err)
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	s := Session{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}
	switch {
	case tr.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		s.ExpiresAt = now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return s, nil
}

// Keeper owns one user's session: it refreshes the access token before it
// lapses, retries an operation exactly once after an authorization failure,
// and expires the session after a period of inactivity.
type Keeper struct {
	mu         sync.Mutex
	session    Session
	caller     Caller
	lastActive time.Time

	verifier  *Verifier
	refresher Refresher
	threshold time.Duration
	idle      time.Duration
	now       func() time.Time
	logger    *slog.Logger

	// Unauthorized classifies operation errors that warrant a refresh.
	// Defaults to errors.Is(err, ErrUnauthorized).
	Unauthorized func(error) bool
}

// KeeperOption configures a Keeper.
type KeeperOption func(*Keeper)

// WithThreshold sets how close to expiry a token is refreshed proactively.
func WithThreshold(d time.Duration) KeeperOption {
	return func(k *Keeper) { k.threshold = d }
}

// WithIdleTimeout sets the inactivity limit. Zero disables it.
func WithIdleTimeout(d time.Duration) KeeperOption {
	return func(k *Keeper) { k.idle = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) KeeperOption {
	return func(k *Keeper) { k.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) KeeperOption {
	return func(k *Keeper) { k.logger = l }
}

// NewKeeper verifies the session's access token and starts tracking it.
// An access token that has only expired is accepted when the session
// carries a refresh token; the first Caller refreshes it.
func NewKeeper(s Session, v *Verifier, r Refresher, opts ...KeeperOption) (*Keeper, error) {
	k := &Keeper{
		session:   s,
		verifier:  v,
		refresher: r,
		threshold: DefaultRefreshThreshold,
		idle:      DefaultIdleTimeout,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(k)
	}
	k.lastActive = k.now()
	c, err := v.Verify(s.AccessToken)
	switch {
	case err == nil:
		k.caller = c
	case errors.Is(err, jwt.ErrTokenExpired) && r != nil && s.RefreshToken != "":
		// Zero ExpiresAt is always inside the threshold.
		k.logger.Debug("access token expired, refreshing on first use")
	default:
		return nil, err
	}
	return k, nil
}

// Caller returns a caller whose token is valid for at least the refresh
// threshold, refreshing first if needed.
func (k *Keeper) Caller(ctx context.Context) (Caller, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if k.idle > 0 && now.Sub(k.lastActive) > k.idle {
		return Caller{}, fmt.Errorf("caller: %w: idle for %s", ErrSessionExpired, now.Sub(k.lastActive).Round(time.Second))
	}
	k.lastActive = now
	if k.caller.ExpiresAt.Sub(now) < k.threshold {
		if err := k.refreshLocked(ctx); err != nil {
			return Caller{}, err
		}
	}
	return k.caller, nil
}

// Refresh forces a token refresh.
func (k *Keeper) Refresh(ctx context.Context) (Caller, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.refreshLocked(ctx); err != nil {
		return Caller{}, err
	}
	return k.caller, nil
}

func (k *Keeper) refreshLocked(ctx context.Context) error {
	if k.refresher == nil || k.session.RefreshToken == "" {
		return fmt.Errorf("refresh: %w: no refresh token", ErrSessionExpired)
	}
	s, err := k.refresher.Refresh(ctx, k.session.RefreshToken)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	c, err := k.verifier.Verify(s.AccessToken)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	k.session = s
	k.caller = c
	k.logger.Debug("session refreshed", "user_id", c.UserID, "expires_at", c.ExpiresAt)
	return nil
}

// Do runs fn with a fresh caller. If fn fails with an authorization error
// the token is refreshed and fn runs exactly once more.
func (k *Keeper) Do(ctx context.Context, fn func(context.Context, Caller) error) error {
	c, err := k.Caller(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, c)
	if err == nil || !k.isUnauthorized(err) {
		return err
	}
	k.logger.Info("authorization failed, refreshing session", "user_id", c.UserID)
	c, rerr := k.Refresh(ctx)
	if rerr != nil {
		return errors.Join(err, rerr)
	}
	return fn(ctx, c)
}

func (k *Keeper) isUnauthorized(err error) bool {
	if k.Unauthorized != nil {
		return k.Unauthorized(err)
	}
	return errors.Is(err, ErrUnauthorized)
}
