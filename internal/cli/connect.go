package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/config"
	"github.com/parthhkdigiverse/expense-tracker/internal/direct"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/ledger"
	"github.com/parthhkdigiverse/expense-tracker/internal/managed"
	"github.com/parthhkdigiverse/expense-tracker/internal/reconcile"
)

// IdentityOptions selects who a ledger command acts as.
type IdentityOptions struct {
	Token        string
	RefreshToken string
	User         string // direct backend only
	Org          string
	PIN          string
}

func addIdentityFlags(cmd *cobra.Command, o *IdentityOptions) {
	cmd.Flags().StringVar(&o.Token, "token", "", "access token to act as")
	cmd.Flags().StringVar(&o.RefreshToken, "refresh-token", "", "refresh token, used when --token is about to expire")
	cmd.Flags().StringVar(&o.User, "user", "", "user id to act as (direct backend only)")
	cmd.Flags().StringVar(&o.Org, "org", "", "organization to enter")
	cmd.Flags().StringVar(&o.PIN, "pin", "", "workspace pin for --org")
}

// conn is an open backend plus the services built on it.
type conn struct {
	cfg     *config.Config
	adapter backend.Adapter
	store   *direct.Store // nil for the managed backend
	remote  *managed.Client
	rec     *reconcile.Reconciler // set when sync is enabled
	ledger  *ledger.Service
	logger  *slog.Logger
}

// connect opens the configured backend. With sync enabled, direct writes
// are mirrored to the managed store.
func connect(ctx context.Context, cfg *config.Config) (*conn, error) {
	c := &conn{cfg: cfg, logger: slog.Default()}

	switch cfg.Backend {
	case config.BackendManaged:
		client, err := newManaged(cfg)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to configure managed backend", err)
		}
		c.adapter, c.remote = client, client

	default:
		c.logger.Debug("opening database", "driver", cfg.Direct.Driver)
		st, err := direct.Open(ctx, direct.Options{
			Driver:       cfg.Direct.Driver,
			DSN:          cfg.Direct.DSN,
			MaxOpenConns: cfg.Direct.MaxOpenConns,
			Logger:       c.logger,
		})
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		c.adapter, c.store = st, st

		if cfg.Sync.Enabled {
			if err := c.enableSync(); err != nil {
				st.Close()
				return nil, err
			}
		}
	}

	svc, err := ledger.New(ledger.Options{
		Adapter: c.adapter,
		CatchUp: cfg.Recurring.CatchUp,
		Logger:  c.logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.ledger = svc
	return c, nil
}

func newManaged(cfg *config.Config) (*managed.Client, error) {
	return managed.New(managed.Options{
		BaseURL:   cfg.Managed.URL,
		APIKey:    cfg.Managed.AnonKey,
		Timeout:   cfg.ManagedTimeout(),
		RateLimit: cfg.Managed.RateLimit,
		Burst:     cfg.Managed.Burst,
		Logger:    slog.Default(),
	})
}

func (c *conn) enableSync() error {
	remote, err := newManaged(c.cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure sync target", err)
	}
	rec, err := reconcile.New(reconcile.Options{
		Local:       c.store,
		State:       c.store,
		Remote:      remote,
		RemoteScope: backend.Personal(identity.Service(c.cfg.Sync.ServiceKey)),
		Logger:      c.logger,
		// One registry per connection; the CLI exposes no metrics endpoint.
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start reconciler", err)
	}
	c.store.SetMirror(rec)
	c.remote, c.rec = remote, rec
	return nil
}

// Close releases the database, if any.
func (c *conn) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// do runs fn as the identity id selects. A session with a refresh token
// is kept fresh and fn is retried once after an authorization failure.
func (c *conn) do(ctx context.Context, id IdentityOptions, fn func(context.Context, backend.Scope) error) error {
	if id.Token == "" {
		caller, err := c.localCaller(id)
		if err != nil {
			return err
		}
		sc, err := c.enter(ctx, backend.Personal(caller), id)
		if err != nil {
			return err
		}
		return fn(ctx, sc)
	}

	verifier, err := c.verifier()
	if err != nil {
		return err
	}
	if id.RefreshToken == "" {
		caller, err := verifier.Verify(id.Token)
		if err != nil {
			return backend.Unauthorized(err)
		}
		sc, err := c.enter(ctx, backend.Personal(caller), id)
		if err != nil {
			return err
		}
		return fn(ctx, sc)
	}

	keeper, err := identity.NewKeeper(
		identity.Session{AccessToken: id.Token, RefreshToken: id.RefreshToken},
		verifier,
		&identity.TokenClient{BaseURL: c.cfg.Managed.URL, APIKey: c.cfg.Managed.AnonKey},
		identity.WithThreshold(c.cfg.RefreshThreshold()),
		identity.WithIdleTimeout(c.cfg.IdleTimeout()),
		identity.WithLogger(c.logger),
	)
	if err != nil {
		return backend.Unauthorized(err)
	}
	return keeper.Do(ctx, func(ctx context.Context, caller identity.Caller) error {
		sc, err := c.enter(ctx, backend.Personal(caller), id)
		if err != nil {
			return err
		}
		return fn(ctx, sc)
	})
}

func (c *conn) verifier() (*identity.Verifier, error) {
	if c.cfg.Auth.JWTSecret == "" {
		return nil, NewExitError(ExitCommandError, "auth.jwt_secret is required to verify --token")
	}
	return identity.NewVerifier(c.cfg.Auth.JWTSecret, nil), nil
}

// localCaller trusts --user. Only the direct backend composes predicates
// locally, so only there can a bare user id stand in for a token.
func (c *conn) localCaller(id IdentityOptions) (identity.Caller, error) {
	if id.User == "" {
		return identity.Caller{}, backend.Unauthorized(fmt.Errorf("%w: pass --token or --user", identity.ErrUnauthorized))
	}
	if c.store == nil {
		return identity.Caller{}, NewExitError(ExitCommandError, "--user needs the direct backend; pass --token")
	}
	return identity.Caller{UserID: id.User, Role: identity.RoleAuthenticated}, nil
}

// enter switches sc into --org after checking membership and pin.
func (c *conn) enter(ctx context.Context, sc backend.Scope, id IdentityOptions) (backend.Scope, error) {
	if id.Org == "" {
		return sc, nil
	}
	return c.ledger.EnterWorkspace(ctx, sc, id.Org, id.PIN)
}

// open loads the config and connects, reporting failures through f.
func (o *RootOptions) open(cmd *cobra.Command, f *OutputFormatter) (*conn, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, fail(f, "config", err)
	}
	c, err := connect(commandContext(cmd), cfg)
	if err != nil {
		return nil, fail(f, "connect", err)
	}
	f.VerboseLog("Connected to %s backend", cfg.Backend)
	return c, nil
}
