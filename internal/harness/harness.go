package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/direct"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/ledger"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
	"github.com/parthhkdigiverse/expense-tracker/internal/testutil"
)

// Harness executes one scenario against a private ledger.
type Harness struct {
	store  *direct.Store
	svc    *ledger.Service
	cat    *catalog.Catalog
	clock  *testutil.Clock
	logger *slog.Logger

	users  map[string]identity.Caller
	emails map[string]string

	// refs maps user and save names to ids.
	refs map[string]string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory SQLite database, with a clock
// starting at 09:00 UTC on scenario.Today and sequential ids, so the same
// scenario produces the same trace on every run.
//
// A failed setup step or a malformed step is returned as an error. Flow
// steps that miss their expect clause and failed assertions are reported
// in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	today := scenario.Today
	if today == "" {
		today = defaultToday
	}
	clock := testutil.NewClockOn(today)
	ids := testutil.NewIDs(1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.Default()

	st, err := direct.Open(ctx, direct.Options{
		Driver:  direct.DriverSQLite,
		DSN:     ":memory:",
		Catalog: cat,
		Logger:  logger,
		Now:     clock.Now,
		NewID:   ids.Next,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	svc, err := ledger.New(ledger.Options{
		Adapter: st,
		Now:     clock.Now,
		CatchUp: scenario.CatchUp,
		PINCost: bcrypt.MinCost,
		NewID:   ids.Next,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	h := &Harness{
		store:  st,
		svc:    svc,
		cat:    cat,
		clock:  clock,
		logger: logger,
		users:  map[string]identity.Caller{},
		emails: map[string]string{},
		refs:   map[string]string{},
	}
	if err := h.register(ctx, scenario.Users, ids); err != nil {
		return nil, fmt.Errorf("failed to register users: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Setup {
		ev, _, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, step.Op, err)
		}
		if ev.Outcome != OutcomeOK {
			return nil, fmt.Errorf("setup[%d] %s: outcome %s", i, step.Op, ev.Outcome)
		}
		result.AddTrace(ev)
	}

	for i, step := range scenario.Flow {
		ev, full, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Op, err)
		}
		result.AddTrace(ev)
		for _, msg := range checkExpect(step, ev, full) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
		}
		h.logger.Info("flow step completed", "step", i, "op", step.Op, "outcome", ev.Outcome)
	}

	actx := &AssertionContext{Ctx: ctx, Harness: h}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// register creates a profile for every scenario user through the
// service scope.
func (h *Harness) register(ctx context.Context, names []string, ids *testutil.IDs) error {
	service := backend.Personal(identity.Service(""))
	for _, name := range names {
		id, err := ids.Next()
		if err != nil {
			return err
		}
		email := name + "@example.test"
		if _, err := h.store.Create(ctx, service, catalog.Profiles, row.Row{
			"id":    row.Text(id),
			"email": row.Text(email),
		}); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		h.users[name] = identity.Caller{UserID: id, Email: email, Role: identity.RoleAuthenticated}
		h.emails[name] = email
		h.refs[name] = id
	}
	return nil
}

// execute runs one step. It returns the trace event and the full result
// row; errors are reserved for problems with the scenario itself.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, row.Row, error) {
	op := ops[step.Op]
	ev := TraceEvent{
		Op:   step.Op,
		As:   step.As,
		Org:  strings.TrimPrefix(step.Org, "$"),
		Args: step.Args,
	}
	a := &args{raw: step.Args, refs: h.refs, emails: h.emails}

	var sc backend.Scope
	if step.As != "" {
		sc = backend.Personal(h.users[step.As])
	}
	if step.Org != "" {
		orgID := h.resolve(step.Org)
		if orgID == "" {
			return ev, nil, fmt.Errorf("org: unbound reference %s", step.Org)
		}
		entered, err := h.svc.EnterWorkspace(ctx, sc, orgID, step.PIN)
		if err != nil {
			ev.Outcome = outcomeOf(err)
			return ev, nil, nil
		}
		sc = entered
	}

	out, err := op.run(ctx, h, sc, a)
	var bad *scenarioError
	if errors.As(err, &bad) {
		return ev, nil, bad
	}
	ev.Outcome = outcomeOf(err)
	if err != nil {
		return ev, nil, nil
	}

	if step.Save != "" {
		if out.ID() == "" {
			return ev, nil, fmt.Errorf("save %s: %s returns no row id", step.Save, step.Op)
		}
		h.refs[step.Save] = out.ID()
	}
	ev.Result = project(out, op.fields)
	return ev, out, nil
}

// resolve looks up "$name" or "name" among users and saved rows.
func (h *Harness) resolve(ref string) string {
	return h.refs[strings.TrimPrefix(ref, "$")]
}

// outcomeOf names the kind of err. Forbidden reads as NOT_FOUND, the way
// callers see it.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ledger.ErrWrongPIN):
		return OutcomeWrongPIN
	case backend.IsNotFound(err):
		return string(backend.KindNotFound)
	}
	if k := backend.KindOf(err); k != "" {
		return string(k)
	}
	return OutcomeError
}

// project keeps the traced fields of r. Without a field list it drops
// ids, owner and organization references, and timestamps, which differ
// between otherwise identical runs of different scenarios.
func project(r row.Row, fields []string) row.Row {
	if r == nil {
		return nil
	}
	out := row.Row{}
	if fields != nil {
		for _, f := range fields {
			if v, ok := r[f]; ok {
				out[f] = v
			}
		}
		return out
	}
	for _, col := range r.Columns() {
		if col == "id" || col == "created_at" || col == "created_by" || strings.HasSuffix(col, "_id") {
			continue
		}
		out[col] = r[col]
	}
	return out
}

// checkExpect compares a flow step's outcome with its expect clause.
func checkExpect(step Step, ev TraceEvent, full row.Row) []string {
	want := OutcomeOK
	if step.Expect != nil && step.Expect.Error != "" {
		want = step.Expect.Error
	}
	if ev.Outcome != want {
		return []string{fmt.Sprintf("expected outcome %s, got %s", want, ev.Outcome)}
	}
	if step.Expect == nil || len(step.Expect.Result) == 0 {
		return nil
	}
	var errs []string
	keys := make([]string, 0, len(step.Expect.Result))
	for k := range step.Expect.Result {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		got, ok := full[k]
		if !ok {
			errs = append(errs, fmt.Sprintf("result has no field %q", k))
			continue
		}
		if !valueMatches(got, step.Expect.Result[k]) {
			errs = append(errs, fmt.Sprintf("result field %q = %v, want %v", k, row.Plain(got), step.Expect.Result[k]))
		}
	}
	return errs
}
