// Package harness runs ledger scenarios: YAML descriptions of a sequence
// of ledger operations, the outcome each should have, and the state the
// database should end in.
//
// # Scenario Format
//
//	name: holding_settlement
//	description: "Partial payments settle a receivable"
//	today: "2026-03-01"
//	users: [asha, ravi]
//	setup:
//	  - op: provision_organization
//	    as: asha
//	    args: { name: Acme }
//	    save: acme
//	flow:
//	  - op: create_holding
//	    as: asha
//	    org: $acme
//	    args: { name: Invoice 7, type: receivable, amount: "100" }
//	    save: invoice
//	  - op: record_payment
//	    as: asha
//	    org: $acme
//	    args: { holding: $invoice, amount: "150" }
//	    expect:
//	      error: OVERPAYMENT_REJECTED
//	assertions:
//	  - type: final_state
//	    as: asha
//	    org: $acme
//	    table: ent_holding_payments
//	    where: { id: $invoice }
//	    expect: { status: pending }
//
// Users get the email <name>@example.test. A step with org enters that
// workspace first, with pin if given, exactly as a signed-in client would;
// a refused entry is the step's outcome. Outcomes are "ok", a backend
// error kind (NOT_FOUND, CONSTRAINT_VIOLATION, OVERPAYMENT_REJECTED,
// INVALID_INPUT, ...) or WRONG_PIN.
//
// # Assertion Types
//
//   - trace_contains: some step ran op (with outcome, if given)
//   - trace_order: ops first ran in the given order
//   - trace_count: op ran exactly count times
//   - final_state: rows read in a user's or the service scope match
//
// # Deterministic Testing
//
// Every scenario gets a fresh in-memory SQLite database, a clock starting
// at 09:00 UTC on today and sequential ids, so its trace can be compared
// with a golden file (see RunWithGolden).
package harness
