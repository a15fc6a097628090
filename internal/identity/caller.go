package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in access tokens.
const (
	RoleAuthenticated = "authenticated"
	RoleService       = "service_role"
)

var (
	// ErrUnauthorized means the credential is missing, invalid or expired.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired means the session was idle too long or could not be
	// refreshed; the user must sign in again.
	ErrSessionExpired = errors.New("session expired")
)

// Metadata is the profile information the identity provider carries.
type Metadata struct {
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Caller is the verified identity behind a request.
type Caller struct {
	UserID    string
	Email     string
	Role      string
	Token     string
	ExpiresAt time.Time
	Metadata  Metadata
}

// IsService reports whether the caller holds the service credential, which
// bypasses row-level predicates.
func (c Caller) IsService() bool {
	return c.Role == RoleService
}

// Service returns a caller for the service credential.
func Service(token string) Caller {
	return Caller{Role: RoleService, Token: token}
}

// Claims is the access token payload.
type Claims struct {
	Email        string   `json:"email,omitempty"`
	Role         string   `json:"role,omitempty"`
	UserMetadata Metadata `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 access tokens signed with the project secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a Verifier. now may be nil to use time.Now.
func NewVerifier(secret string, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), now: now}
}

// Verify parses and validates token, returning the caller it names.
// Every failure wraps ErrUnauthorized.
func (v *Verifier) Verify(token string) (Caller, error) {
	if token == "" {
		return Caller{}, fmt.Errorf("verify token: %w: empty token", ErrUnauthorized)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Caller{}, fmt.Errorf("verify token: %w: %w", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Caller{}, fmt.Errorf("verify token: %w: invalid claims", ErrUnauthorized)
	}

	role := claims.Role
	if role == "" {
		role = RoleAuthenticated
	}
	if role != RoleService && claims.Subject == "" {
		return Caller{}, fmt.Errorf("verify token: %w: missing subject", ErrUnauthorized)
	}
	return Caller{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      role,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		Metadata:  claims.UserMetadata,
	}, nil
}

// Issue signs an access token for c that expires after ttl. Used by the
// local identity stub and tests; production tokens come from the provider.
func Issue(secret string, c Caller, issuedAt time.Time, ttl time.Duration) (string, error) {
	role := c.Role
	if role == "" {
		role = RoleAuthenticated
	}
	claims := &Claims{
		Email:        c.Email,
		Role:         role,
		UserMetadata: c.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
