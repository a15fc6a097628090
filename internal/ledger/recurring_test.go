package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/ledger"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

func TestAdvance(t *testing.T) {
	tests := []struct {
		due, frequency, want string
	}{
		{"2026-01-31", "daily", "2026-02-01"},
		{"2026-12-29", "weekly", "2027-01-05"},
		{"2026-01-31", "monthly", "2026-02-28"},
		{"2028-01-31", "monthly", "2028-02-29"},
		{"2026-03-15", "monthly", "2026-04-15"},
		{"2028-02-29", "yearly", "2029-02-28"},
	}
	for _, tt := range tests {
		t.Run(tt.frequency+"/"+tt.due, func(t *testing.T) {
			got, err := ledger.Advance(row.MustDate(tt.due), tt.frequency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}

	_, err := ledger.Advance(row.MustDate("2026-01-01"), "fortnightly")
	assert.Error(t, err)
}

func (e env) rule(t *testing.T, sc backend.Scope, due, frequency, description string) row.Row {
	t.Helper()
	r, err := e.svc.CreateRule(context.Background(), sc, ledger.RuleInput{
		Amount:      money("1200"),
		Category:    "Rent",
		Description: description,
		Frequency:   frequency,
		NextDueDate: row.MustDate(due),
	})
	require.NoError(t, err)
	return r
}

func (e env) occurrences(t *testing.T, sc backend.Scope, ruleID string) []row.Row {
	t.Helper()
	rows, err := e.store.Read(context.Background(), sc, catalog.Transactions,
		backend.Where(backend.Eq("recurring_rule_id", row.Text(ruleID))).OrderBy("date", false))
	require.NoError(t, err)
	return rows
}

func TestSweepMaterializesOneStepPerSweep(t *testing.T) {
	e := newEnv(t, "2026-03-10")
	ctx := context.Background()
	a := e.user(t, "a@x.test")
	rule := e.rule(t, a, "2026-01-31", "monthly", "Flat")

	n, err := e.svc.SweepRecurring(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	occ := e.occurrences(t, a, rule.ID())
	require.Len(t, occ, 1)
	assert.Equal(t, "2026-01-31", occ[0].Date("date").String())
	assert.Equal(t, "Flat (Auto-Recurring)", occ[0].Text("description"))
	assert.Equal(t, "expense", occ[0].Text("type"))
	assertMoney(t, "1200", occ[0].Decimal("amount"))

	got, err := e.store.Get(ctx, a, catalog.RecurringRules, rule.ID())
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", got.Date("next_due_date").String())

	n, err = e.svc.SweepRecurring(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = e.svc.SweepRecurring(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "next due 2026-03-28 is in the future")

	occ = e.occurrences(t, a, rule.ID())
	require.Len(t, occ, 2)
	assert.Equal(t, "2026-02-28", occ[1].Date("date").String())
}

func TestSweepCatchUp(t *testing.T) {
	e := newEnv(t, "2026-01-20", func(o *ledger.Options) { o.CatchUp = true })
	ctx := context.Background()
	a := e.user(t, "a@x.test")
	rule := e.rule(t, a, "2026-01-01", "weekly", "")

	n, err := e.svc.SweepRecurring(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	occ := e.occurrences(t, a, rule.ID())
	require.Len(t, occ, 3)
	assert.Equal(t, "2026-01-15", occ[2].Date("date").String())
	assert.Equal(t, "(Auto-Recurring)", occ[0].Text("description"))

	got, err := e.store.Get(ctx, a, catalog.RecurringRules, rule.ID())
	require.NoError(t, err)
	assert.Equal(t, "2026-01-22", got.Date("next_due_date").String())
}

func TestSweepNeverDuplicatesAnOccurrence(t *testing.T) {
	e := newEnv(t, "2026-02-01")
	ctx := context.Background()
	a := e.user(t, "a@x.test")
	rule := e.rule(t, a, "2026-01-15", "monthly", "")

	// An earlier sweep inserted the occurrence but never advanced the rule.
	_, err := e.store.Create(ctx, a, catalog.Transactions, row.Row{
		"user_id":           row.Text(a.Caller.UserID),
		"date":              row.Text("2026-01-15"),
		"category":          row.Text("Rent"),
		"amount":            row.Text("1200"),
		"recurring_rule_id": row.Text(rule.ID()),
	})
	require.NoError(t, err)

	n, err := e.svc.SweepRecurring(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, e.occurrences(t, a, rule.ID()), 1)

	got, err := e.store.Get(ctx, a, catalog.RecurringRules, rule.ID())
	require.NoError(t, err)
	assert.Equal(t, "2026-02-15", got.Date("next_due_date").String())
}

func TestSweepOnlyTouchesCallerRules(t *testing.T) {
	e := newEnv(t, "2026-02-01")
	ctx := context.Background()
	a := e.user(t, "a@x.test")
	b := e.user(t, "b@x.test")
	e.rule(t, b, "2026-01-15", "monthly", "")

	n, err := e.svc.SweepRecurring(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRuleStatusTransitions(t *testing.T) {
	e := newEnv(t, "2026-02-01")
	ctx := context.Background()
	a := e.user(t, "a@x.test")
	rule := e.rule(t, a, "2026-01-15", "monthly", "")

	paused, err := e.svc.PauseRule(ctx, a, rule.ID())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaused, paused.Text("status"))

	n, err := e.svc.SweepRecurring(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "paused rules are not materialized")

	_, err = e.svc.PauseRule(ctx, a, rule.ID())
	assert.True(t, backend.IsInvalidInput(err), "got %v", err)

	_, err = e.svc.ResumeRule(ctx, a, rule.ID())
	require.NoError(t, err)
	n, err = e.svc.SweepRecurring(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cancelled, err := e.svc.CancelRule(ctx, a, rule.ID())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, cancelled.Text("status"))
	_, err = e.svc.ResumeRule(ctx, a, rule.ID())
	assert.True(t, backend.IsInvalidInput(err), "cancelled is terminal, got %v", err)

	b := e.user(t, "b@x.test")
	_, err = e.svc.PauseRule(ctx, b, rule.ID())
	assert.True(t, backend.IsNotFound(err), "got %v", err)
}

func TestCreateRuleValidates(t *testing.T) {
	e := newEnv(t, "2026-02-01")
	a := e.user(t, "a@x.test")

	_, err := e.svc.CreateRule(context.Background(), a, ledger.RuleInput{
		Amount:      money("-5"),
		Category:    "Rent",
		Frequency:   "monthly",
		NextDueDate: row.MustDate("2026-02-01"),
	})
	assert.True(t, backend.IsInvalidInput(err), "got %v", err)

	_, err = e.svc.CreateRule(context.Background(), a, ledger.RuleInput{
		Amount:    money("5"),
		Category:  "Rent",
		Frequency: "monthly",
	})
	assert.True(t, backend.IsInvalidInput(err), "due date required, got %v", err)
}

func TestStartSession(t *testing.T) {
	e := newEnv(t, "2026-02-01")
	ctx := context.Background()
	a := e.user(t, "a@x.test")
	e.rule(t, a, "2026-01-15", "monthly", "")

	sess, err := e.svc.StartSession(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, a.Caller.UserID, sess.Profile.ID())
	assert.Equal(t, 1, sess.Materialized)
}
