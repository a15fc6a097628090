package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// burnMonths is how many of the most recent months with expenses the
// burn rate averages over.
const burnMonths = 3

// Summary holds the enterprise dashboard figures for one organization.
type Summary struct {
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	PendingRevenue   decimal.Decimal `json:"pending_revenue"`
	TotalExpenses    decimal.Decimal `json:"total_expenses"`
	NetPL            decimal.Decimal `json:"net_pl"`
	BurnRate         decimal.Decimal `json:"burn_rate"`
	MarginPct        decimal.Decimal `json:"margin_pct"`
	TotalInvestments decimal.Decimal `json:"total_investments"`
}

// IsProfit reports whether the organization is not losing money.
func (s Summary) IsProfit() bool {
	return !s.NetPL.IsNegative()
}

// Summarize computes the dashboard figures of the scope's organization.
//
// Pending revenue is included in the revenue total. The burn rate is the
// mean monthly expense over the latest three calendar months that have
// any expenses. The margin is net over revenue in percent, rounded to two
// places, and zero when there is no revenue.
func (s *Service) Summarize(ctx context.Context, sc backend.Scope) (Summary, error) {
	if sc.OrgID == "" {
		return Summary{}, backend.Invalid(catalog.Organizations, "no active organization")
	}
	revenue, err := s.db.Read(ctx, sc, catalog.Revenue, backend.All())
	if err != nil {
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}
	expenses, err := s.db.Read(ctx, sc, catalog.EnterpriseExpenses, backend.All())
	if err != nil {
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}
	investments, err := s.db.Read(ctx, sc, catalog.Investments, backend.All())
	if err != nil {
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}

	var sum Summary
	for _, r := range revenue {
		sum.TotalRevenue = sum.TotalRevenue.Add(r.Decimal("amount"))
		if r.Text("status") == "pending" {
			sum.PendingRevenue = sum.PendingRevenue.Add(r.Decimal("amount"))
		}
	}
	monthly := map[string]decimal.Decimal{}
	for _, e := range expenses {
		sum.TotalExpenses = sum.TotalExpenses.Add(e.Decimal("amount"))
		month := e.Date("date").String()[:7]
		monthly[month] = monthly[month].Add(e.Decimal("amount"))
	}
	for _, i := range investments {
		sum.TotalInvestments = sum.TotalInvestments.Add(i.Decimal("amount"))
	}

	sum.NetPL = sum.TotalRevenue.Sub(sum.TotalExpenses)
	sum.BurnRate = burnRate(monthly)
	if sum.TotalRevenue.IsPositive() {
		sum.MarginPct = sum.NetPL.Div(sum.TotalRevenue).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return sum, nil
}

func burnRate(monthly map[string]decimal.Decimal) decimal.Decimal {
	if len(monthly) == 0 {
		return decimal.Zero
	}
	months := make([]string, 0, len(monthly))
	for m := range monthly {
		months = append(months, m)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	if len(months) > burnMonths {
		months = months[:burnMonths]
	}
	total := decimal.Zero
	for _, m := range months {
		total = total.Add(monthly[m])
	}
	return total.Div(decimal.NewFromInt(int64(len(months)))).Round(2)
}

// Balance is a personal ledger total.
type Balance struct {
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Net      decimal.Decimal `json:"net"`
	Lent     decimal.Decimal `json:"lent"`
	Borrowed decimal.Decimal `json:"borrowed"`
}

// PersonalBalance totals the caller's transactions dated within
// [from, to] (either bound may be zero for open) and their active debts.
func (s *Service) PersonalBalance(ctx context.Context, sc backend.Scope, from, to row.Date) (Balance, error) {
	uid, err := userID(sc)
	if err != nil {
		return Balance{}, err
	}
	f := backend.Where(backend.Eq("user_id", row.Text(uid)))
	if !from.IsZero() {
		f = f.And(backend.Gte("date", from))
	}
	if !to.IsZero() {
		f = f.And(backend.Lte("date", to))
	}
	txs, err := s.db.Read(ctx, sc, catalog.Transactions, f)
	if err != nil {
		return Balance{}, fmt.Errorf("personal balance: %w", err)
	}
	debts, err := s.Debts(ctx, sc, "active")
	if err != nil {
		return Balance{}, fmt.Errorf("personal balance: %w", err)
	}

	var b Balance
	for _, t := range txs {
		if t.Text("type") == "income" {
			b.Income = b.Income.Add(t.Decimal("amount"))
		} else {
			b.Expenses = b.Expenses.Add(t.Decimal("amount"))
		}
	}
	for _, d := range debts {
		if d.Text("type") == "lend" {
			b.Lent = b.Lent.Add(d.Decimal("amount"))
		} else {
			b.Borrowed = b.Borrowed.Add(d.Decimal("amount"))
		}
	}
	b.Net = b.Income.Sub(b.Expenses)
	return b, nil
}

// MonthTotals is one month of a personal report.
type MonthTotals struct {
	Month    string          `json:"month"` // YYYY-MM
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Net      decimal.Decimal `json:"net"`
}

// MonthlyReport totals the caller's income and expenses per calendar
// month, oldest first. Months without transactions are omitted.
func (s *Service) MonthlyReport(ctx context.Context, sc backend.Scope) ([]MonthTotals, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	txs, err := s.db.Read(ctx, sc, catalog.Transactions, backend.Where(backend.Eq("user_id", row.Text(uid))))
	if err != nil {
		return nil, fmt.Errorf("monthly report: %w", err)
	}
	byMonth := map[string]*MonthTotals{}
	for _, t := range txs {
		month := t.Date("date").String()[:7]
		m, ok := byMonth[month]
		if !ok {
			m = &MonthTotals{Month: month}
			byMonth[month] = m
		}
		if t.Text("type") == "income" {
			m.Income = m.Income.Add(t.Decimal("amount"))
		} else {
			m.Expenses = m.Expenses.Add(t.Decimal("amount"))
		}
	}
	out := make([]MonthTotals, 0, len(byMonth))
	for _, m := range byMonth {
		m.Net = m.Income.Sub(m.Expenses)
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}
