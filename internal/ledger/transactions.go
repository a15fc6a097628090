package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// TransactionInput is a manually entered income or expense.
type TransactionInput struct {
	Date          row.Date        `validate:"required"`
	Category      string          `validate:"required,max=80"`
	Amount        decimal.Decimal `validate:"gt=0"`
	Type          string          `validate:"required,oneof=income expense"`
	Description   string          `validate:"max=500"`
	PaymentMethod string          `validate:"max=40"`
	ReceiptURL    string          `validate:"omitempty,receiptref"`
	BankAccountID string          `validate:"omitempty,uuid"`
}

// AddTransaction records a transaction for the caller.
func (s *Service) AddTransaction(ctx context.Context, sc backend.Scope, in TransactionInput) (row.Row, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	if err := s.check(catalog.Transactions, in); err != nil {
		return nil, err
	}
	tx, err := s.db.Create(ctx, sc, catalog.Transactions, transactionValues(uid, in))
	if err != nil {
		return nil, fmt.Errorf("add transaction: %w", err)
	}
	return tx, nil
}

func transactionValues(uid string, in TransactionInput) row.Row {
	return row.Row{
		"user_id":         row.Text(uid),
		"date":            in.Date,
		"category":        row.Text(in.Category),
		"amount":          row.Dec(in.Amount),
		"type":            row.Text(in.Type),
		"description":     optional(in.Description),
		"payment_method":  optional(in.PaymentMethod),
		"receipt_url":     optional(in.ReceiptURL),
		"bank_account_id": optional(in.BankAccountID),
	}
}

// BulkAddTransactions records several transactions for the caller in one
// transaction. Entries with a zero amount are blank lines and are skipped;
// any other invalid entry rejects the whole batch.
func (s *Service) BulkAddTransactions(ctx context.Context, sc backend.Scope, ins []TransactionInput) ([]row.Row, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	ops := make([]backend.Op, 0, len(ins))
	for i, in := range ins {
		if in.Amount.IsZero() {
			continue
		}
		if err := s.check(catalog.Transactions, in); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		ops = append(ops, backend.CreateOp(catalog.Transactions, transactionValues(uid, in)))
	}
	if len(ops) == 0 {
		return nil, nil
	}
	rows, err := s.db.Transaction(ctx, sc, ops)
	if err != nil {
		return nil, fmt.Errorf("bulk add transactions: %w", err)
	}
	return rows, nil
}

// TransactionQuery narrows a transaction listing. Zero fields do not
// filter.
type TransactionQuery struct {
	From, To      row.Date
	Category      string
	BankAccountID string
	Limit         int
}

// Transactions lists the caller's transactions, newest first.
func (s *Service) Transactions(ctx context.Context, sc backend.Scope, q TransactionQuery) ([]row.Row, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	f := backend.Where(backend.Eq("user_id", row.Text(uid)))
	if !q.From.IsZero() {
		f = f.And(backend.Gte("date", q.From))
	}
	if !q.To.IsZero() {
		f = f.And(backend.Lte("date", q.To))
	}
	if q.Category != "" {
		f = f.And(backend.Eq("category", row.Text(q.Category)))
	}
	if q.BankAccountID != "" {
		f = f.And(backend.Eq("bank_account_id", row.Text(q.BankAccountID)))
	}
	rows, err := s.db.Read(ctx, sc, catalog.Transactions, f.OrderBy("date", true).Take(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return rows, nil
}
