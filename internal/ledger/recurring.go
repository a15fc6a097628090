package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

const autoRecurringSuffix = "(Auto-Recurring)"

// Rule statuses.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCancelled = "cancelled"
)

var oneOccurrence = catalog.UniqueName(catalog.Transactions, "recurring_rule_id", "date")

// Advance returns the due date one frequency unit after due. Monthly and
// yearly steps clamp to the end of shorter months.
func Advance(due row.Date, frequency string) (row.Date, error) {
	switch frequency {
	case "daily":
		return due.AddDays(1), nil
	case "weekly":
		return due.AddDays(7), nil
	case "monthly":
		return due.AddMonths(1), nil
	case "yearly":
		return due.AddYears(1), nil
	}
	return row.Date{}, fmt.Errorf("unknown frequency %q", frequency)
}

// RuleInput describes a new recurring rule.
type RuleInput struct {
	Amount        decimal.Decimal `validate:"gt=0"`
	Type          string          `validate:"omitempty,oneof=income expense"`
	Category      string          `validate:"required,max=80"`
	Description   string          `validate:"max=500"`
	Frequency     string          `validate:"required,oneof=daily weekly monthly yearly"`
	NextDueDate   row.Date        `validate:"required"`
	BankAccountID string          `validate:"omitempty,uuid"`
}

// CreateRule stores a recurring rule for the caller.
func (s *Service) CreateRule(ctx context.Context, sc backend.Scope, in RuleInput) (row.Row, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	if err := s.check(catalog.RecurringRules, in); err != nil {
		return nil, err
	}
	values := row.Row{
		"user_id":         row.Text(uid),
		"amount":          row.Dec(in.Amount),
		"category":        row.Text(in.Category),
		"description":     optional(in.Description),
		"frequency":       row.Text(in.Frequency),
		"next_due_date":   in.NextDueDate,
		"bank_account_id": optional(in.BankAccountID),
	}
	if in.Type != "" {
		values["type"] = row.Text(in.Type)
	}
	r, err := s.db.Create(ctx, sc, catalog.RecurringRules, values)
	if err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	return r, nil
}

// SweepRecurring materializes the caller's due recurring rules and
// returns how many transactions it created.
//
// Each active rule with next_due_date on or before today produces one
// transaction dated at the due date, and the due date moves forward one
// unit. Without CatchUp a rule advances at most once per sweep, so a
// user returning after three months sees one occurrence per sign-in. An
// occurrence that already exists is not created twice; the rule is only
// advanced past it.
func (s *Service) SweepRecurring(ctx context.Context, sc backend.Scope) (int, error) {
	uid, err := userID(sc)
	if err != nil {
		return 0, err
	}
	today := s.today()
	due, err := s.db.Read(ctx, sc, catalog.RecurringRules, backend.Where(
		backend.Eq("user_id", row.Text(uid)),
		backend.Eq("status", row.Text(StatusActive)),
		backend.Lte("next_due_date", today),
	).OrderBy("next_due_date", false))
	if err != nil {
		return 0, fmt.Errorf("sweep recurring: %w", err)
	}

	created := 0
	for _, rule := range due {
		for {
			if err := ctx.Err(); err != nil {
				return created, err
			}
			next, ok, err := s.materialize(ctx, sc, rule)
			if err != nil {
				return created, fmt.Errorf("sweep recurring: rule %s: %w", rule.ID(), err)
			}
			if ok {
				created++
			}
			if !s.catchUp || next.After(today) {
				break
			}
			rule = rule.Merge(row.Row{"next_due_date": next})
		}
	}
	if created > 0 {
		s.logger.Info("recurring transactions materialized", "user", uid, "count", created)
	}
	return created, nil
}

// materialize creates the occurrence at the rule's due date and advances
// the rule in one transaction. It reports the new due date and whether a
// transaction was created.
func (s *Service) materialize(ctx context.Context, sc backend.Scope, rule row.Row) (row.Date, bool, error) {
	due := rule.Date("next_due_date")
	next, err := Advance(due, rule.Text("frequency"))
	if err != nil {
		return row.Date{}, false, backend.Invalid(catalog.RecurringRules, "%v", err)
	}

	desc := autoRecurringSuffix
	if d := rule.Text("description"); d != "" {
		desc = d + " " + autoRecurringSuffix
	}
	occurrence := row.Row{
		"user_id":           rule["user_id"],
		"date":              due,
		"category":          rule["category"],
		"amount":            rule["amount"],
		"type":              rule["type"],
		"description":       row.Text(desc),
		"bank_account_id":   rule["bank_account_id"],
		"recurring_rule_id": row.Text(rule.ID()),
	}
	advance := row.Row{"next_due_date": next}

	_, err = s.db.Transaction(ctx, sc, []backend.Op{
		backend.CreateOp(catalog.Transactions, occurrence),
		backend.UpdateOp(catalog.RecurringRules, rule.ID(), advance),
	})
	if backend.IsConstraint(err, oneOccurrence) {
		s.logger.Debug("occurrence exists, advancing rule", "rule", rule.ID(), "date", due.String())
		_, err = s.db.Update(ctx, sc, catalog.RecurringRules, rule.ID(), advance)
		return next, false, err
	}
	if err != nil {
		return row.Date{}, false, err
	}
	return next, true, nil
}

// transitions lists the statuses each rule action may start from.
var transitions = map[string]struct {
	to   string
	from []string
}{
	"pause":  {StatusPaused, []string{StatusActive}},
	"resume": {StatusActive, []string{StatusPaused}},
	"cancel": {StatusCancelled, []string{StatusActive, StatusPaused}},
}

// PauseRule stops materialization until the rule is resumed.
func (s *Service) PauseRule(ctx context.Context, sc backend.Scope, ruleID string) (row.Row, error) {
	return s.transition(ctx, sc, ruleID, "pause")
}

// ResumeRule reactivates a paused rule. Occurrences missed while paused
// are materialized by subsequent sweeps.
func (s *Service) ResumeRule(ctx context.Context, sc backend.Scope, ruleID string) (row.Row, error) {
	return s.transition(ctx, sc, ruleID, "resume")
}

// CancelRule stops a rule for good. Cancelled is terminal.
func (s *Service) CancelRule(ctx context.Context, sc backend.Scope, ruleID string) (row.Row, error) {
	return s.transition(ctx, sc, ruleID, "cancel")
}

func (s *Service) transition(ctx context.Context, sc backend.Scope, ruleID, action string) (row.Row, error) {
	tr := transitions[action]
	rule, err := s.db.Get(ctx, sc, catalog.RecurringRules, ruleID)
	if err != nil {
		return nil, fmt.Errorf("%s rule: %w", action, err)
	}
	status := rule.Text("status")
	allowed := false
	for _, f := range tr.from {
		allowed = allowed || f == status
	}
	if !allowed {
		return nil, backend.Invalid(catalog.RecurringRules, "cannot %s a %s rule", action, status)
	}
	out, err := s.db.Update(ctx, sc, catalog.RecurringRules, ruleID, row.Row{"status": row.Text(tr.to)})
	if err != nil {
		return nil, fmt.Errorf("%s rule: %w", action, err)
	}
	return out, nil
}
