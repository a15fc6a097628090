package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// HoldingInput describes a new receivable or payable.
type HoldingInput struct {
	Name         string          `validate:"required,max=200"`
	Type         string          `validate:"required,oneof=receivable payable"`
	Amount       decimal.Decimal `validate:"gt=0"`
	ExpectedDate row.Date
	MobileNo     string `validate:"omitempty,max=20"`
	Narrative    string `validate:"max=500"`
}

// CreateHolding records a holding payment in the scope's organization
// with nothing paid yet.
func (s *Service) CreateHolding(ctx context.Context, sc backend.Scope, in HoldingInput) (row.Row, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	if sc.OrgID == "" {
		return nil, backend.Invalid(catalog.HoldingPayments, "no active organization")
	}
	if err := s.check(catalog.HoldingPayments, in); err != nil {
		return nil, err
	}
	h, err := s.db.Create(ctx, sc, catalog.HoldingPayments, row.Row{
		"name":             row.Text(in.Name),
		"type":             row.Text(in.Type),
		"amount":           row.Dec(in.Amount),
		"paid_amount":      row.Dec(decimal.Zero),
		"remaining_amount": row.Dec(in.Amount),
		"status":           row.Text("pending"),
		"expected_date":    optionalDate(in.ExpectedDate),
		"mobile_no":        optional(in.MobileNo),
		"narrative":        optional(in.Narrative),
		"created_by":       row.Text(uid),
	})
	if err != nil {
		return nil, fmt.Errorf("create holding: %w", err)
	}
	return h, nil
}

// RecordPayment adds amount to the holding's paid amount. The store
// applies the payment in a single guarded statement, so concurrent
// payments cannot overshoot: a payment that would exceed the outstanding
// balance fails with OverpaymentRejected and changes nothing.
func (s *Service) RecordPayment(ctx context.Context, sc backend.Scope, holdingID string, amount decimal.Decimal) (row.Row, error) {
	if !amount.IsPositive() {
		return nil, backend.Invalid(catalog.HoldingPayments, "payment must be positive, got %s", amount)
	}
	rows, err := s.db.Call(ctx, sc, catalog.RecordHoldingPayment, row.Row{
		"id":     row.Text(holdingID),
		"amount": row.Dec(amount),
	})
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	return single(rows, catalog.HoldingPayments)
}

// SettleFull pays off whatever remains on the holding.
func (s *Service) SettleFull(ctx context.Context, sc backend.Scope, holdingID string) (row.Row, error) {
	rows, err := s.db.Call(ctx, sc, catalog.SettleHoldingPayment, row.Row{"id": row.Text(holdingID)})
	if err != nil {
		return nil, fmt.Errorf("settle holding: %w", err)
	}
	return single(rows, catalog.HoldingPayments)
}

func single(rows []row.Row, table string) (row.Row, error) {
	if len(rows) != 1 {
		return nil, backend.NotFound(table)
	}
	return rows[0], nil
}
