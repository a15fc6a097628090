package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/direct"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

var tracer = otel.Tracer("expense-tracker.reconcile")

// State is the local bookkeeping: the reconciliation ledger and the
// identity map. *direct.Store implements it.
type State interface {
	ClaimSyncKey(ctx context.Context, e direct.LedgerEntry) (bool, direct.LedgerEntry, error)
	BindSyncKey(ctx context.Context, key, remoteID string) error
	ReleaseSyncKey(ctx context.Context, key string) error
	SyncEntry(ctx context.Context, key string) (direct.LedgerEntry, bool, error)
	SyncEntries(ctx context.Context, sourceTable, sourceID string) ([]direct.LedgerEntry, error)
	RemoteIdentity(ctx context.Context, kind, localID string) (string, bool, error)
	SaveIdentity(ctx context.Context, kind, localID, remoteID, naturalKey string) error
	ForgetIdentity(ctx context.Context, kind, localID string) error
}

// Outcome labels the mirror counter.
type Outcome string

const (
	Created   Outcome = "created"
	Updated   Outcome = "updated"
	Deleted   Outcome = "deleted"
	Duplicate Outcome = "duplicate"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"

	// ignored changes are outside the rule and not counted.
	ignored Outcome = ""
)

// Options configures New.
type Options struct {
	// Local is the direct store the changes come from. Source rows are
	// read through it with the service scope.
	Local backend.Adapter
	State State

	// Remote is the managed adapter; RemoteScope carries its service
	// credential.
	Remote      backend.Adapter
	RemoteScope backend.Scope

	Rules      []Rule
	Catalog    *catalog.Catalog
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Reconciler mirrors committed direct writes to the managed store. It
// implements backend.Mirror: failures are logged and counted, never
// returned to the writer.
type Reconciler struct {
	local   backend.Adapter
	state   State
	remote  backend.Adapter
	scope   backend.Scope
	rules   map[string][]Rule
	cat     *catalog.Catalog
	logger  *slog.Logger
	mirrors *prometheus.CounterVec

	// Concurrent writes by the same user resolve the identity once.
	lookups singleflight.Group
}

var _ backend.Mirror = (*Reconciler)(nil)

var localService = backend.Personal(identity.Service(""))

// New validates the rules against the catalog and registers metrics.
func New(opts Options) (*Reconciler, error) {
	if opts.Local == nil || opts.State == nil || opts.Remote == nil {
		return nil, fmt.Errorf("reconcile: local, state and remote are required")
	}
	if !opts.RemoteScope.Caller.IsService() {
		return nil, fmt.Errorf("reconcile: remote scope must carry the service credential")
	}
	r := &Reconciler{
		local:  opts.Local,
		state:  opts.State,
		remote: opts.Remote,
		scope:  opts.RemoteScope,
		rules:  map[string][]Rule{},
		cat:    opts.Catalog,
		logger: opts.Logger,
	}
	if r.cat == nil {
		r.cat = catalog.Default()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	if err := r.addRules(rules); err != nil {
		return nil, err
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	mirrors, err := registerCounter(reg)
	if err != nil {
		return nil, fmt.Errorf("reconcile: register metrics: %w", err)
	}
	r.mirrors = mirrors
	return r, nil
}

func (r *Reconciler) addRules(rules []Rule) error {
	var errs []error
	seen := map[string]bool{}
	for _, rule := range rules {
		if seen[rule.Name] {
			errs = append(errs, fmt.Errorf("rule %s: duplicate name", rule.Name))
		}
		seen[rule.Name] = true
		src, ok := r.cat.Entity(rule.Source)
		if !ok {
			errs = append(errs, fmt.Errorf("rule %s: unknown source %q", rule.Name, rule.Source))
			continue
		}
		dst, ok := r.cat.Entity(rule.Target)
		if !ok {
			errs = append(errs, fmt.Errorf("rule %s: unknown target %q", rule.Name, rule.Target))
			continue
		}
		for _, m := range rule.Columns {
			if !dst.HasColumn(m.Target) {
				errs = append(errs, fmt.Errorf("rule %s: target has no column %q", rule.Name, m.Target))
			}
			if m.Source != "" && !src.HasColumn(m.Source) {
				errs = append(errs, fmt.Errorf("rule %s: source has no column %q", rule.Name, m.Source))
			}
		}
		r.rules[rule.Source] = append(r.rules[rule.Source], rule)
	}
	return errors.Join(errs...)
}

func registerCounter(reg prometheus.Registerer) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "expense_tracker",
		Subsystem: "sync",
		Name:      "mirror_total",
		Help:      "Mirror attempts to the managed store by rule and outcome.",
	}, []string{"rule", "outcome"})
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

// Mirror applies every rule sourced from the changed table.
func (r *Reconciler) Mirror(ctx context.Context, ch backend.Change) {
	for _, rule := range r.rules[ch.Table] {
		r.run(ctx, rule, ch)
	}
}

func (r *Reconciler) run(ctx context.Context, rule Rule, ch backend.Change) Outcome {
	ctx, span := tracer.Start(ctx, "reconcile.Mirror")
	span.SetAttributes(
		attribute.String("sync.rule", rule.Name),
		attribute.String("sync.op", string(ch.Kind)),
	)
	defer span.End()

	outcome, err := r.mirror(ctx, rule, ch)
	if outcome == ignored {
		return outcome
	}
	r.mirrors.WithLabelValues(rule.Name, string(outcome)).Inc()
	span.SetAttributes(attribute.String("sync.outcome", string(outcome)))

	attrs := []any{"rule", rule.Name, "op", ch.Kind, "source_id", ch.ID()}
	switch outcome {
	case Skipped:
		r.logger.Info("sync skipped", append(attrs, "reason", err)...)
	case Failed:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("sync failed", append(attrs, "error", err)...)
	default:
		r.logger.Debug("sync mirrored", append(attrs, "outcome", outcome)...)
	}
	return outcome
}

func (r *Reconciler) mirror(ctx context.Context, rule Rule, ch backend.Change) (Outcome, error) {
	key, err := row.SyncKey(rule.Name, rule.Source, ch.ID())
	if err != nil {
		return Failed, err
	}
	switch ch.Kind {
	case backend.OpCreate:
		return r.create(ctx, rule, key, ch.After)

	case backend.OpUpdate:
		entry, ok, err := r.state.SyncEntry(ctx, key)
		if err != nil {
			return Failed, err
		}
		if !ok {
			// A row that starts matching after an update is mirrored then.
			return r.create(ctx, rule, key, ch.After)
		}
		if rule.CreateOnly || entry.RemoteID == "" {
			return ignored, nil
		}
		values, used, err := r.build(ctx, rule, ch.After)
		if err != nil {
			return classify(err), err
		}
		if _, err := r.remote.Update(ctx, r.scope, rule.Target, entry.RemoteID, values); err != nil {
			r.forgetStale(ctx, used, err)
			return Failed, err
		}
		return Updated, nil

	case backend.OpDelete:
		entry, ok, err := r.state.SyncEntry(ctx, key)
		if err != nil {
			return Failed, err
		}
		if !ok || rule.CreateOnly || entry.RemoteID == "" {
			return ignored, nil
		}
		err = r.remote.Delete(ctx, r.scope, rule.Target, entry.RemoteID)
		if err != nil && !backend.IsNotFound(err) {
			return Failed, err
		}
		return Deleted, nil
	}
	return ignored, nil
}

// create claims the reconciliation key, writes the remote row and binds
// the key to it. A failed write releases the claim so a later attempt
// can retry; a key already claimed is a duplicate and writes nothing.
func (r *Reconciler) create(ctx context.Context, rule Rule, key string, src row.Row) (Outcome, error) {
	if src == nil || !rule.matches(src) {
		return ignored, nil
	}
	values, used, err := r.build(ctx, rule, src)
	if err != nil {
		return classify(err), err
	}

	claimed, existing, err := r.state.ClaimSyncKey(ctx, direct.LedgerEntry{
		Key:         key,
		Rule:        rule.Name,
		SourceTable: rule.Source,
		SourceID:    src.ID(),
		RemoteTable: rule.Target,
	})
	if err != nil {
		return Failed, err
	}
	if !claimed {
		r.logger.Debug("sync key already claimed", "rule", rule.Name, "remote_id", existing.RemoteID)
		return Duplicate, nil
	}

	out, err := r.remote.Create(ctx, r.scope, rule.Target, values)
	if err != nil {
		if rerr := r.state.ReleaseSyncKey(ctx, key); rerr != nil {
			err = errors.Join(err, rerr)
		}
		r.forgetStale(ctx, used, err)
		return Failed, err
	}
	if err := r.state.BindSyncKey(ctx, key, out.ID()); err != nil {
		return Failed, err
	}

	switch rule.Identity {
	case KindOrganization:
		err = r.state.SaveIdentity(ctx, KindOrganization, src.ID(), out.ID(), row.NormalizeName(src.Text("name")))
	case KindUser:
		err = r.state.SaveIdentity(ctx, KindUser, src.ID(), out.ID(), row.NormalizeEmail(src.Text("email")))
	}
	if err != nil {
		r.logger.Warn("save identity failed", "rule", rule.Name, "error", err)
	}
	return Created, nil
}

// identityRef is one identity translation used while building a row.
type identityRef struct {
	kind    string
	localID string
}

// build produces the remote values for src under rule.
func (r *Reconciler) build(ctx context.Context, rule Rule, src row.Row) (row.Row, []identityRef, error) {
	dst, _ := r.cat.Entity(rule.Target)
	explicit := make(map[string]bool, len(rule.Columns))
	for _, m := range rule.Columns {
		explicit[m.Target] = true
	}

	out := row.Row{}
	if rule.CopyAll {
		for col, v := range src {
			if col != "id" && !explicit[col] && dst.HasColumn(col) {
				out[col] = v
			}
		}
	}

	var used []identityRef
	for _, m := range rule.Columns {
		switch m.Kind {
		case MapCopy:
			if v, ok := src[m.Source]; ok {
				out[m.Target] = v
			}
		case MapUser, MapOrg:
			if src.IsNull(m.Source) {
				out[m.Target] = row.Null{}
				continue
			}
			kind := KindUser
			if m.Kind == MapOrg {
				kind = KindOrganization
			}
			local := src.Text(m.Source)
			remote, err := r.resolve(ctx, kind, local)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", m.Target, err)
			}
			used = append(used, identityRef{kind: kind, localID: local})
			out[m.Target] = row.Text(remote)
		case MapDrop:
			delete(out, m.Target)
		case MapConst:
			out[m.Target] = m.Value
		case MapTemplate:
			out[m.Target] = row.Text(render(m.Template, src))
		}
	}
	return out, used, nil
}

// forgetStale drops cached identities after a reference failure, since
// the remote row they point at may be gone.
func (r *Reconciler) forgetStale(ctx context.Context, used []identityRef, err error) {
	var be *backend.Error
	if !errors.As(err, &be) || be.Kind != backend.KindConstraint {
		return
	}
	if strings.HasSuffix(be.Constraint, "_key") || strings.HasSuffix(be.Constraint, "_check") {
		return
	}
	for _, ref := range used {
		if ferr := r.state.ForgetIdentity(ctx, ref.kind, ref.localID); ferr != nil {
			r.logger.Warn("forget identity failed", "kind", ref.kind, "local_id", ref.localID, "error", ferr)
		}
	}
}

func classify(err error) Outcome {
	if backend.KindOf(err) == backend.KindSyncSkipped {
		return Skipped
	}
	return Failed
}

func skip(format string, args ...any) error {
	return &backend.Error{Kind: backend.KindSyncSkipped, Message: fmt.Sprintf(format, args...)}
}

// Entries lists the ledger records for one source row.
func (r *Reconciler) Entries(ctx context.Context, table, id string) ([]direct.LedgerEntry, error) {
	return r.state.SyncEntries(ctx, table, id)
}
