package harness

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/ledger"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// opFunc runs one step. The returned row is what the step saves and
// traces; it may be nil for operations without a result.
type opFunc func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error)

type opDef struct {
	run opFunc

	// fields lists the result columns written to the trace. Nil traces
	// every column that is not an id or a timestamp.
	fields []string

	// anonymous ops run without a user.
	anonymous bool
}

var (
	holdingFields = []string{"name", "type", "amount", "paid_amount", "remaining_amount", "status"}
	ruleFields    = []string{"category", "amount", "frequency", "next_due_date", "status"}
)

var ops = map[string]opDef{
	"advance_days": {anonymous: true, run: func(_ context.Context, h *Harness, _ backend.Scope, a *args) (row.Row, error) {
		n := a.int("days")
		if a.err != nil {
			return nil, a.invalid()
		}
		h.clock.AdvanceDays(n)
		return row.Row{"today": h.clock.Today()}, nil
	}},

	"ensure_profile": {fields: []string{"email"}, run: func(ctx context.Context, h *Harness, sc backend.Scope, _ *args) (row.Row, error) {
		return h.svc.EnsureProfile(ctx, sc)
	}},

	"enter_workspace": {run: func(_ context.Context, _ *Harness, sc backend.Scope, _ *args) (row.Row, error) {
		return row.Row{"entered": row.Bool(sc.OrgID != "")}, nil
	}},

	"add_transaction": {fields: []string{"date", "category", "amount", "type"}, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		in := ledger.TransactionInput{
			Date:          a.dateOr("date", h.clock.Today()),
			Category:      a.text("category"),
			Amount:        a.money("amount"),
			Type:          a.text("type"),
			Description:   a.text("description"),
			PaymentMethod: a.text("payment_method"),
		}
		if a.err != nil {
			return nil, a.invalid()
		}
		return h.svc.AddTransaction(ctx, sc, in)
	}},

	"transactions": {run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		q := ledger.TransactionQuery{
			From:     a.date("from"),
			To:       a.date("to"),
			Category: a.text("category"),
		}
		if a.err != nil {
			return nil, a.invalid()
		}
		txs, err := h.svc.Transactions(ctx, sc, q)
		if err != nil {
			return nil, err
		}
		return tally(txs), nil
	}},

	"create_rule": {fields: ruleFields, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		in := ledger.RuleInput{
			Amount:      a.money("amount"),
			Type:        a.text("type"),
			Category:    a.text("category"),
			Description: a.text("description"),
			Frequency:   a.text("frequency"),
			NextDueDate: a.date("next_due_date"),
		}
		if a.err != nil {
			return nil, a.invalid()
		}
		return h.svc.CreateRule(ctx, sc, in)
	}},

	"sweep": {run: func(ctx context.Context, h *Harness, sc backend.Scope, _ *args) (row.Row, error) {
		n, err := h.svc.SweepRecurring(ctx, sc)
		if err != nil {
			return nil, err
		}
		return row.Row{"materialized": row.Int(n)}, nil
	}},

	"pause_rule":  ruleTransition((*ledger.Service).PauseRule),
	"resume_rule": ruleTransition((*ledger.Service).ResumeRule),
	"cancel_rule": ruleTransition((*ledger.Service).CancelRule),

	"create_holding": {fields: holdingFields, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		in := ledger.HoldingInput{
			Name:         a.text("name"),
			Type:         a.text("type"),
			Amount:       a.money("amount"),
			ExpectedDate: a.date("expected_date"),
			MobileNo:     a.text("mobile_no"),
			Narrative:    a.text("narrative"),
		}
		if a.err != nil {
			return nil, a.invalid()
		}
		return h.svc.CreateHolding(ctx, sc, in)
	}},

	"record_payment": {fields: holdingFields, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		id, amount := a.text("holding"), a.money("amount")
		if a.err != nil {
			return nil, a.invalid()
		}
		return h.svc.RecordPayment(ctx, sc, id, amount)
	}},

	"settle_full": {fields: holdingFields, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		id := a.text("holding")
		if a.err != nil {
			return nil, a.invalid()
		}
		return h.svc.SettleFull(ctx, sc, id)
	}},

	"create_debt": {fields: []string{"person_name", "type", "amount", "status", "transaction_type", "transaction_category"}, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		in := ledger.DebtInput{
			PersonName:      a.text("person_name"),
			Amount:          a.money("amount"),
			Type:            a.text("type"),
			TransactionDate: a.dateOr("transaction_date", h.clock.Today()),
			DueDate:         a.date("due_date"),
			Description:     a.text("description"),
		}
		if a.err != nil {
			return nil, a.invalid()
		}
		debt, tx, err := h.svc.CreateDebt(ctx, sc, in)
		if err != nil {
			return nil, err
		}
		return withTransaction(debt, tx), nil
	}},

	"settle_debt": {fields: []string{"person_name", "amount", "status", "transaction_type", "transaction_category"}, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		id := a.text("debt")
		if a.err != nil {
			return nil, a.invalid()
		}
		debt, tx, err := h.svc.SettleDebt(ctx, sc, id, "")
		if err != nil {
			return nil, err
		}
		return withTransaction(debt, tx), nil
	}},

	"debts": {run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		status := a.text("status")
		if a.err != nil {
			return nil, a.invalid()
		}
		debts, err := h.svc.Debts(ctx, sc, status)
		if err != nil {
			return nil, err
		}
		return tally(debts), nil
	}},

	"balance": {run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		from, to := a.date("from"), a.date("to")
		if a.err != nil {
			return nil, a.invalid()
		}
		b, err := h.svc.PersonalBalance(ctx, sc, from, to)
		if err != nil {
			return nil, err
		}
		return row.Row{
			"income":   row.Dec(b.Income),
			"expenses": row.Dec(b.Expenses),
			"net":      row.Dec(b.Net),
			"lent":     row.Dec(b.Lent),
			"borrowed": row.Dec(b.Borrowed),
		}, nil
	}},

	"provision_organization": {fields: []string{"name"}, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		name := a.text("name")
		if a.err != nil {
			return nil, a.invalid()
		}
		return h.svc.ProvisionOrganization(ctx, sc, name)
	}},

	"add_member": {fields: []string{"role"}, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		org, email, role := a.text("org"), a.email("user"), a.text("role")
		if a.err != nil {
			return nil, a.invalid()
		}
		return h.svc.AddMember(ctx, sc, org, email, role)
	}},

	"remove_member": {run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		org, user := a.text("org"), a.user("user")
		if a.err != nil {
			return nil, a.invalid()
		}
		return nil, h.svc.RemoveMember(ctx, sc, org, user)
	}},

	"set_pin": {run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		org, user, pin := a.text("org"), a.user("user"), a.text("pin")
		if a.err != nil {
			return nil, a.invalid()
		}
		return nil, h.svc.SetWorkspacePIN(ctx, sc, org, user, pin)
	}},

	"organizations": {run: func(ctx context.Context, h *Harness, sc backend.Scope, _ *args) (row.Row, error) {
		ms, err := h.svc.Organizations(ctx, sc)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(ms))
		for i, m := range ms {
			names[i] = m.Name
		}
		return row.Row{"count": row.Int(len(ms)), "names": row.Text(strings.Join(names, ","))}, nil
	}},

	"add_category": {fields: []string{"name"}, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		name := a.text("name")
		if a.err != nil {
			return nil, a.invalid()
		}
		return h.svc.AddCategory(ctx, sc, name)
	}},

	"categories": {run: func(ctx context.Context, h *Harness, sc backend.Scope, _ *args) (row.Row, error) {
		names, err := h.svc.Categories(ctx, sc)
		if err != nil {
			return nil, err
		}
		return row.Row{"count": row.Int(len(names))}, nil
	}},

	"summarize": {run: func(ctx context.Context, h *Harness, sc backend.Scope, _ *args) (row.Row, error) {
		s, err := h.svc.Summarize(ctx, sc)
		if err != nil {
			return nil, err
		}
		return row.Row{
			"total_revenue":     row.Dec(s.TotalRevenue),
			"pending_revenue":   row.Dec(s.PendingRevenue),
			"total_expenses":    row.Dec(s.TotalExpenses),
			"net_pl":            row.Dec(s.NetPL),
			"burn_rate":         row.Dec(s.BurnRate),
			"margin_pct":        row.Dec(s.MarginPct),
			"total_investments": row.Dec(s.TotalInvestments),
			"is_profit":         row.Bool(s.IsProfit()),
		}, nil
	}},

	"bulk_add": {run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		var ins []ledger.TransactionInput
		for i, e := range a.list("entries") {
			ins = append(ins, ledger.TransactionInput{
				Date:        e.dateOr("date", h.clock.Today()),
				Category:    e.text("category"),
				Amount:      e.money("amount"),
				Type:        e.text("type"),
				Description: e.text("description"),
			})
			if e.err != nil {
				a.fail("entries[%d].%v", i, e.err)
			}
		}
		if a.err != nil {
			return nil, a.invalid()
		}
		rows, err := h.svc.BulkAddTransactions(ctx, sc, ins)
		if err != nil {
			return nil, err
		}
		return tally(rows), nil
	}},

	"monthly_report": {run: func(ctx context.Context, h *Harness, sc backend.Scope, _ *args) (row.Row, error) {
		months, err := h.svc.MonthlyReport(ctx, sc)
		if err != nil {
			return nil, err
		}
		out := row.Row{"count": row.Int(len(months))}
		names := make([]string, len(months))
		for i, m := range months {
			names[i] = m.Month
			out[m.Month+"_income"] = row.Dec(m.Income)
			out[m.Month+"_expenses"] = row.Dec(m.Expenses)
		}
		out["months"] = row.Text(strings.Join(names, ","))
		return out, nil
	}},

	"add_enterprise_transaction": {fields: []string{"amount", "date", "status", "category", "personal_type", "personal_category"}, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		in := ledger.EnterpriseTransactionInput{
			Kind:                  a.text("kind"),
			Amount:                a.money("amount"),
			Date:                  a.date("date"),
			Status:                a.text("status"),
			Category:              a.text("category"),
			Narrative:             a.text("narrative"),
			TakenBy:               a.text("taken_by"),
			BankAccountID:         a.text("bank_account"),
			PersonalBankAccountID: a.text("personal_bank_account"),
		}
		if a.err != nil {
			return nil, a.invalid()
		}
		ent, personal, err := h.svc.AddEnterpriseTransaction(ctx, sc, in)
		if err != nil {
			return nil, err
		}
		out := ent.Clone()
		if personal != nil {
			out["personal_type"] = personal["type"]
			out["personal_category"] = personal["category"]
		}
		return out, nil
	}},

	"add_investment": {fields: []string{"amount", "date", "type", "source"}, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		in := ledger.InvestmentInput{
			Date:      a.dateOr("date", h.clock.Today()),
			Amount:    a.money("amount"),
			Type:      a.text("type"),
			TakenBy:   a.text("taken_by"),
			Narrative: a.text("narrative"),
		}
		if a.err != nil {
			return nil, a.invalid()
		}
		return h.svc.AddInvestment(ctx, sc, in)
	}},

	"investments": {run: func(ctx context.Context, h *Harness, sc backend.Scope, _ *args) (row.Row, error) {
		c, err := h.svc.Investments(ctx, sc)
		if err != nil {
			return nil, err
		}
		return row.Row{
			"count":            row.Int(len(c.Entries)),
			"total_investment": row.Dec(c.Invested),
			"total_withdraw":   row.Dec(c.Withdrawn),
			"net_capital":      row.Dec(c.Net),
		}, nil
	}},

	"cashflow": {run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		q := ledger.CashflowQuery{Period: a.text("period"), From: a.date("from"), To: a.date("to")}
		if a.err != nil {
			return nil, a.invalid()
		}
		cf, err := h.svc.Cashflow(ctx, sc, q)
		if err != nil {
			return nil, err
		}
		out := row.Row{
			"period":         row.Text(cf.Period),
			"count":          row.Int(len(cf.Entries)),
			"total_income":   row.Dec(cf.TotalIncome),
			"total_expenses": row.Dec(cf.TotalExpenses),
			"net":            row.Dec(cf.Net),
		}
		if !cf.From.IsZero() {
			out["from"] = cf.From
		}
		if !cf.To.IsZero() {
			out["to"] = cf.To
		}
		return out, nil
	}},

	// insert writes a row straight through the adapter, for data the
	// ledger has no operation for (bank accounts, firms).
	"insert": {run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		table := a.text("table")
		values := a.object("values")
		if a.err != nil {
			return nil, a.invalid()
		}
		t, ok := h.cat.Table(table)
		if !ok {
			return nil, &scenarioError{fmt.Errorf("insert: unknown table %q", table)}
		}
		r, err := t.Decode(values)
		if err != nil {
			return nil, &scenarioError{fmt.Errorf("insert %s: %w", table, err)}
		}
		return h.store.Create(ctx, sc, table, r)
	}},
}

func ruleTransition(fn func(*ledger.Service, context.Context, backend.Scope, string) (row.Row, error)) opDef {
	return opDef{fields: ruleFields, run: func(ctx context.Context, h *Harness, sc backend.Scope, a *args) (row.Row, error) {
		id := a.text("rule")
		if a.err != nil {
			return nil, a.invalid()
		}
		return fn(h.svc, ctx, sc, id)
	}}
}

// withTransaction folds the type and category of the money movement a
// debt operation recorded into the debt row.
func withTransaction(debt, tx row.Row) row.Row {
	out := debt.Clone()
	out["transaction_type"] = tx["type"]
	out["transaction_category"] = tx["category"]
	return out
}

// tally summarizes a listing by row count and amount total.
func tally(rows []row.Row) row.Row {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Decimal("amount"))
	}
	return row.Row{"count": row.Int(len(rows)), "total": row.Dec(total)}
}

// scenarioError marks a mistake in the scenario itself rather than an
// outcome of the operation under test.
type scenarioError struct{ err error }

func (e *scenarioError) Error() string { return e.err.Error() }
func (e *scenarioError) Unwrap() error { return e.err }

// args reads step arguments, resolving $references. The first problem is
// kept in err.
type args struct {
	raw    map[string]any
	refs   map[string]string
	emails map[string]string
	err    error
}

func (a *args) fail(format string, v ...any) {
	if a.err == nil {
		a.err = fmt.Errorf(format, v...)
	}
}

func (a *args) invalid() error {
	return &scenarioError{a.err}
}

// text returns the argument as a string; "$name" resolves to a saved id.
func (a *args) text(key string) string {
	v, ok := a.raw[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	if name, ok := strings.CutPrefix(s, "$"); ok {
		id, bound := a.refs[name]
		if !bound {
			a.fail("%s: unbound reference %s", key, s)
			return ""
		}
		return id
	}
	return s
}

func (a *args) money(key string) decimal.Decimal {
	s := a.text(key)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		a.fail("%s: %v", key, err)
	}
	return d
}

func (a *args) int(key string) int {
	s := a.text(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		a.fail("%s: want an integer, got %q", key, s)
	}
	return n
}

func (a *args) date(key string) row.Date {
	if t, ok := a.raw[key].(time.Time); ok {
		return row.DateOf(t)
	}
	s := a.text(key)
	if s == "" {
		return row.Date{}
	}
	d, err := row.ParseDate(s)
	if err != nil {
		a.fail("%s: %v", key, err)
	}
	return d
}

func (a *args) dateOr(key string, def row.Date) row.Date {
	if d := a.date(key); !d.IsZero() {
		return d
	}
	return def
}

// user resolves a user name, with or without the leading $, to its id.
func (a *args) user(key string) string {
	name := strings.TrimPrefix(fmt.Sprint(a.raw[key]), "$")
	if _, ok := a.emails[name]; !ok {
		a.fail("%s: unknown user %q", key, name)
		return ""
	}
	return a.refs[name]
}

func (a *args) email(key string) string {
	name := strings.TrimPrefix(fmt.Sprint(a.raw[key]), "$")
	email, ok := a.emails[name]
	if !ok {
		a.fail("%s: unknown user %q", key, name)
	}
	return email
}

// object returns a nested mapping with its string values resolved.
func (a *args) object(key string) map[string]any {
	m, ok := a.raw[key].(map[string]any)
	if !ok {
		a.fail("%s: want a mapping", key)
		return nil
	}
	inner := &args{raw: m, refs: a.refs, emails: a.emails}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = inner.text(k)
		case time.Time:
			out[k] = row.DateOf(val).String()
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[k] = val
		}
	}
	if inner.err != nil {
		a.fail("%s.%v", key, inner.err)
	}
	return out
}

// list returns a sequence of mappings as argument readers sharing a's
// references. Each reader keeps its own err.
func (a *args) list(key string) []*args {
	items, ok := a.raw[key].([]any)
	if !ok {
		a.fail("%s: want a list", key)
		return nil
	}
	out := make([]*args, 0, len(items))
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			a.fail("%s[%d]: want a mapping", key, i)
			return nil
		}
		out = append(out, &args{raw: m, refs: a.refs, emails: a.emails})
	}
	return out
}
