package ledger

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Categories given to the personal copy of an enterprise transaction.
const (
	CategoryEnterpriseIncome  = "Enterprise Income"
	CategoryEnterpriseExpense = "Enterprise Expense"
)

// Enterprise transaction kinds.
const (
	KindRevenue = "revenue"
	KindExpense = "expense"
)

// EnterpriseTransactionInput is revenue or an expense entered in the
// active organization.
type EnterpriseTransactionInput struct {
	Kind      string          `validate:"required,oneof=revenue expense"`
	Amount    decimal.Decimal `validate:"gt=0"`
	Date      row.Date
	Status    string `validate:"omitempty,oneof=received paid pending"`
	Category  string `validate:"max=80"`
	Narrative string `validate:"max=500"`
	// TakenBy is the profile the money moved through. Defaults to the
	// caller.
	TakenBy string `validate:"omitempty,uuid"`
	// BankAccountID is an enterprise bank account of the organization.
	BankAccountID string `validate:"omitempty,uuid"`
	FirmID        string `validate:"omitempty,uuid"`
	// PersonalBankAccountID is TakenBy's own account. When set, the
	// movement is also booked on TakenBy's personal ledger.
	PersonalBankAccountID string `validate:"omitempty,uuid"`
}

// AddEnterpriseTransaction records revenue or an expense in the scope's
// organization. When a personal bank account is linked the same amount
// is written to the personal ledger of whoever took the money, in the
// same store and the same transaction. Returns the enterprise row and the
// personal row, which is nil when none was written.
func (s *Service) AddEnterpriseTransaction(ctx context.Context, sc backend.Scope, in EnterpriseTransactionInput) (ent, personal row.Row, err error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, nil, err
	}
	table, statuses, txType, category := catalog.Revenue, catalog.RevenueStatuses, "income", CategoryEnterpriseIncome
	if in.Kind == KindExpense {
		table, statuses, txType, category = catalog.EnterpriseExpenses, catalog.ExpenseStatuses, "expense", CategoryEnterpriseExpense
	}
	if sc.OrgID == "" {
		return nil, nil, backend.Invalid(table, "no active organization")
	}
	if err := s.check(table, in); err != nil {
		return nil, nil, err
	}
	if in.Status != "" && !slices.Contains(statuses, in.Status) {
		return nil, nil, backend.Invalid(table, "status %q is not one of %v", in.Status, statuses)
	}
	if in.Date.IsZero() {
		in.Date = s.today()
	}
	if in.Category == "" {
		in.Category = "Other"
	}
	takenBy := in.TakenBy
	if takenBy == "" {
		takenBy = uid
	}
	if in.PersonalBankAccountID != "" && takenBy != uid {
		return nil, nil, backend.Invalid(catalog.Transactions, "cannot book on the personal ledger of %s", takenBy)
	}

	values := row.Row{
		"organization_id": row.Text(sc.OrgID),
		"amount":          row.Dec(in.Amount),
		"date":            in.Date,
		"category":        row.Text(in.Category),
		"bank_account_id": optional(in.BankAccountID),
		"firm_id":         optional(in.FirmID),
		"narrative":       optional(in.Narrative),
		"taken_by":        row.Text(takenBy),
		"created_by":      row.Text(uid),
	}
	if in.Status != "" {
		values["status"] = row.Text(in.Status)
	}
	ops := []backend.Op{backend.CreateOp(table, values)}
	if in.PersonalBankAccountID != "" {
		label := "Enterprise Revenue: "
		if in.Kind == KindExpense {
			label = "Enterprise Expense: "
		}
		ops = append(ops, backend.CreateOp(catalog.Transactions, row.Row{
			"user_id":         row.Text(takenBy),
			"date":            in.Date,
			"category":        row.Text(category),
			"amount":          row.Dec(in.Amount),
			"type":            row.Text(txType),
			"description":     row.Text(label + in.Narrative),
			"bank_account_id": row.Text(in.PersonalBankAccountID),
		}))
	}

	out, err := s.db.Transaction(ctx, sc, ops)
	if err != nil {
		return nil, nil, fmt.Errorf("add enterprise %s: %w", in.Kind, err)
	}
	if len(out) > 1 {
		personal = out[1]
	}
	return out[0], personal, nil
}

// Investment types.
const (
	InvestmentDeposit  = "investment"
	InvestmentWithdraw = "withdraw"
)

// InvestmentInput is capital put into or taken out of the organization.
type InvestmentInput struct {
	Date      row.Date        `validate:"required"`
	Amount    decimal.Decimal `validate:"gt=0"`
	Type      string          `validate:"omitempty,oneof=investment withdraw"`
	TakenBy   string          `validate:"max=200"`
	Narrative string          `validate:"max=500"`
}

// AddInvestment records an investment or withdrawal in the scope's
// organization. The person named in TakenBy is also kept as the source.
func (s *Service) AddInvestment(ctx context.Context, sc backend.Scope, in InvestmentInput) (row.Row, error) {
	if _, err := userID(sc); err != nil {
		return nil, err
	}
	if sc.OrgID == "" {
		return nil, backend.Invalid(catalog.Investments, "no active organization")
	}
	if err := s.check(catalog.Investments, in); err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = InvestmentDeposit
	}
	inv, err := s.db.Create(ctx, sc, catalog.Investments, row.Row{
		"organization_id": row.Text(sc.OrgID),
		"amount":          row.Dec(in.Amount),
		"date":            in.Date,
		"type":            row.Text(in.Type),
		"taken_by":        optional(in.TakenBy),
		"source":          optional(in.TakenBy),
		"narrative":       optional(in.Narrative),
	})
	if err != nil {
		return nil, fmt.Errorf("add investment: %w", err)
	}
	return inv, nil
}

// Capital totals an organization's investments.
type Capital struct {
	Invested  decimal.Decimal `json:"total_investment"`
	Withdrawn decimal.Decimal `json:"total_withdraw"`
	Net       decimal.Decimal `json:"net_capital"`
	Entries   []row.Row       `json:"entries"`
}

// Investments lists the scope's organization's investments, newest
// first, with their totals. Entries without a type count as investments.
func (s *Service) Investments(ctx context.Context, sc backend.Scope) (Capital, error) {
	if sc.OrgID == "" {
		return Capital{}, backend.Invalid(catalog.Investments, "no active organization")
	}
	rows, err := s.db.Read(ctx, sc, catalog.Investments, backend.All().OrderBy("date", true))
	if err != nil {
		return Capital{}, fmt.Errorf("list investments: %w", err)
	}
	c := Capital{Entries: rows}
	for _, r := range rows {
		if r.Text("type") == InvestmentWithdraw {
			c.Withdrawn = c.Withdrawn.Add(r.Decimal("amount"))
		} else {
			c.Invested = c.Invested.Add(r.Decimal("amount"))
		}
	}
	c.Net = c.Invested.Sub(c.Withdrawn)
	return c, nil
}

// Cashflow periods.
const (
	PeriodThisMonth = "this_month"
	PeriodLastMonth = "last_month"
	PeriodThisYear  = "this_year"
	PeriodCustom    = "custom"
)

// CashflowQuery selects the window of a combined cashflow. From and To
// are read only for the custom period, where either may be zero for an
// open bound.
type CashflowQuery struct {
	Period   string `validate:"omitempty,oneof=this_month last_month this_year custom"`
	From, To row.Date
}

// CashflowEntry is one revenue or expense row of the combined ledger.
type CashflowEntry struct {
	Type string  `json:"type"` // income or expense
	Row  row.Row `json:"row"`
}

// Cashflow is revenue and expenses merged into one ledger.
type Cashflow struct {
	Period        string          `json:"period"`
	From          row.Date        `json:"from"`
	To            row.Date        `json:"to"`
	Entries       []CashflowEntry `json:"entries"`
	TotalIncome   decimal.Decimal `json:"total_income"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`
	Net           decimal.Decimal `json:"net"`
}

// Window resolves the query's period against today. The current period
// ends today; last month covers the whole previous calendar month.
func (q CashflowQuery) Window(today row.Date) (from, to row.Date) {
	first := row.Date{Year: today.Year, Month: today.Month, Day: 1}
	switch q.Period {
	case PeriodLastMonth:
		return first.AddMonths(-1), first.AddDays(-1)
	case PeriodThisYear:
		return row.Date{Year: today.Year, Month: 1, Day: 1}, today
	case PeriodCustom:
		return q.From, q.To
	default:
		return first, today
	}
}

// Cashflow merges the organization's revenue and expenses dated within
// the query's window, newest first.
func (s *Service) Cashflow(ctx context.Context, sc backend.Scope, q CashflowQuery) (Cashflow, error) {
	if sc.OrgID == "" {
		return Cashflow{}, backend.Invalid(catalog.Organizations, "no active organization")
	}
	if err := s.check(catalog.Revenue, q); err != nil {
		return Cashflow{}, err
	}
	if q.Period == "" {
		q.Period = PeriodThisMonth
	}
	from, to := q.Window(s.today())
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return Cashflow{}, backend.Invalid(catalog.Revenue, "window ends %s before it starts %s", to, from)
	}

	f := backend.All()
	if !from.IsZero() {
		f = f.And(backend.Gte("date", from))
	}
	if !to.IsZero() {
		f = f.And(backend.Lte("date", to))
	}
	cf := Cashflow{Period: q.Period, From: from, To: to}
	for _, src := range []struct{ table, typ string }{
		{catalog.Revenue, "income"},
		{catalog.EnterpriseExpenses, "expense"},
	} {
		rows, err := s.db.Read(ctx, sc, src.table, f)
		if err != nil {
			return Cashflow{}, fmt.Errorf("cashflow: %w", err)
		}
		for _, r := range rows {
			cf.Entries = append(cf.Entries, CashflowEntry{Type: src.typ, Row: r})
			if src.typ == "income" {
				cf.TotalIncome = cf.TotalIncome.Add(r.Decimal("amount"))
			} else {
				cf.TotalExpenses = cf.TotalExpenses.Add(r.Decimal("amount"))
			}
		}
	}
	sort.SliceStable(cf.Entries, func(i, j int) bool {
		a, b := cf.Entries[i].Row, cf.Entries[j].Row
		if c := a.Date("date").Compare(b.Date("date")); c != 0 {
			return c > 0
		}
		return a.ID() > b.ID()
	})
	cf.Net = cf.TotalIncome.Sub(cf.TotalExpenses)
	return cf, nil
}
