// Package row provides the typed column values that flow between the
// backend adapters, the reconciler and the domain operations.
//
// This package imports nothing internal. Every other internal package
// builds on it, so it stays the foundational layer.
//
// Key constraints:
//   - NO float types for money - amounts are Decimal (shopspring/decimal)
//   - Dates are calendar dates without a zone; timestamps are always UTC
//   - Row keys are physical column names (snake_case)
//   - Canonical JSON (RFC 8785 key order, NFC strings) is the only encoding
//     used for content-addressed reconciliation keys
package row
