package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Categories given to debt transactions.
const (
	CategoryDebt          = "Debt"
	CategoryDebtRepayment = "Debt Repayment"
)

// DebtInput describes money lent to or borrowed from someone.
type DebtInput struct {
	PersonName      string          `validate:"required,max=200"`
	Amount          decimal.Decimal `validate:"gt=0"`
	Type            string          `validate:"required,oneof=lend borrow"`
	TransactionDate row.Date        `validate:"required"`
	DueDate         row.Date
	Description     string `validate:"max=500"`
	BankAccountID   string `validate:"omitempty,uuid"`
}

// CreateDebt records the debt and the money movement it caused, in one
// transaction. Lending is an expense, borrowing is income. The
// transaction references the debt, so deleting the debt removes it.
func (s *Service) CreateDebt(ctx context.Context, sc backend.Scope, in DebtInput) (debt, tx row.Row, err error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, nil, err
	}
	if err := s.check(catalog.Debts, in); err != nil {
		return nil, nil, err
	}
	debtID, err := s.newID()
	if err != nil {
		return nil, nil, fmt.Errorf("create debt: %w", err)
	}

	desc := "Lent to " + in.PersonName
	txType := "expense"
	if in.Type == "borrow" {
		desc = "Borrowed from " + in.PersonName
		txType = "income"
	}
	if in.Description != "" {
		desc += " - " + in.Description
	}

	out, err := s.db.Transaction(ctx, sc, []backend.Op{
		backend.CreateOp(catalog.Debts, row.Row{
			"id":               row.Text(debtID),
			"user_id":          row.Text(uid),
			"person_name":      row.Text(in.PersonName),
			"amount":           row.Dec(in.Amount),
			"type":             row.Text(in.Type),
			"transaction_date": in.TransactionDate,
			"due_date":         optionalDate(in.DueDate),
			"description":      optional(in.Description),
		}),
		backend.CreateOp(catalog.Transactions, row.Row{
			"user_id":         row.Text(uid),
			"date":            in.TransactionDate,
			"category":        row.Text(CategoryDebt),
			"amount":          row.Dec(in.Amount),
			"type":            row.Text(txType),
			"description":     row.Text(desc),
			"bank_account_id": optional(in.BankAccountID),
			"debt_id":         row.Text(debtID),
		}),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create debt: %w", err)
	}
	return out[0], out[1], nil
}

// SettleDebt marks an active debt settled and records the repayment
// dated today: money coming back for a loan, going out for a borrowing.
// The status update only applies while the debt is still active, so a
// concurrent settle fails with Conflict instead of repaying twice.
func (s *Service) SettleDebt(ctx context.Context, sc backend.Scope, debtID, bankAccountID string) (debt, tx row.Row, err error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, nil, err
	}
	d, err := s.db.Get(ctx, sc, catalog.Debts, debtID)
	if err != nil {
		return nil, nil, fmt.Errorf("settle debt: %w", err)
	}
	if d.Text("status") == "settled" {
		return nil, nil, backend.Invalid(catalog.Debts, "debt %s is already settled", debtID)
	}

	person := d.Text("person_name")
	desc, txType := "Repayment from "+person, "income"
	if d.Text("type") == "borrow" {
		desc, txType = "Repayment to "+person, "expense"
	}

	out, err := s.db.Transaction(ctx, sc, []backend.Op{
		backend.UpdateOp(catalog.Debts, debtID, row.Row{"status": row.Text("settled")}).
			When(row.Row{"status": row.Text("active")}),
		backend.CreateOp(catalog.Transactions, row.Row{
			"user_id":         row.Text(uid),
			"date":            s.today(),
			"category":        row.Text(CategoryDebtRepayment),
			"amount":          d["amount"],
			"type":            row.Text(txType),
			"description":     row.Text(desc),
			"bank_account_id": optional(bankAccountID),
			"debt_id":         row.Text(debtID),
		}),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("settle debt: %w", err)
	}
	return out[0], out[1], nil
}

// Debts lists the caller's debts with the given status, or all when
// status is empty.
func (s *Service) Debts(ctx context.Context, sc backend.Scope, status string) ([]row.Row, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	f := backend.Where(backend.Eq("user_id", row.Text(uid)))
	if status != "" {
		f = f.And(backend.Eq("status", row.Text(status)))
	}
	rows, err := s.db.Read(ctx, sc, catalog.Debts, f.OrderBy("transaction_date", true))
	if err != nil {
		return nil, fmt.Errorf("list debts: %w", err)
	}
	return rows, nil
}
