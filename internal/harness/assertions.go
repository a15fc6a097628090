package harness

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s as=%s -> %s\n", event.Seq, event.Op, event.As, event.Outcome)
		}
	}
	return buf.String()
}

// eventMatches reports whether ev is the op of a, with a's outcome when
// one is given.
func eventMatches(ev TraceEvent, op, outcome string) bool {
	return ev.Op == op && (outcome == "" || ev.Outcome == outcome)
}

// assertTraceContains checks that some step ran op, with the given
// outcome if set.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if eventMatches(event, assertion.Op, assertion.Outcome) {
			return nil
		}
	}
	expected := assertion.Op
	if assertion.Outcome != "" {
		expected += " with outcome " + assertion.Outcome
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of ops appear in
// the given order. Other steps may run in between.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		for _, op := range assertion.Ops {
			if event.Op == op && positions[op] == 0 {
				positions[op] = i + 1
			}
		}
	}

	for _, op := range assertion.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", assertion.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Ops); i++ {
		prev, curr := assertion.Ops[i-1], assertion.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that op ran exactly Count times, counting only
// the given outcome if set.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if eventMatches(event, assertion.Op, assertion.Outcome) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState reads the selected rows through the adapter, in the
// assertion's scope, and checks their count or the single row's fields.
// Reading as a user applies that user's row-level predicates.
func assertFinalState(ctx context.Context, h *Harness, assertion Assertion) error {
	t, ok := h.cat.Table(assertion.Table)
	if !ok {
		return fmt.Errorf("final_state: unknown table %q", assertion.Table)
	}

	sc := backend.Personal(identity.Service(""))
	if assertion.As != "" {
		caller, ok := h.users[assertion.As]
		if !ok {
			return fmt.Errorf("final_state: unknown user %q", assertion.As)
		}
		sc = backend.Personal(caller)
	}
	if assertion.Org != "" {
		orgID := h.resolve(assertion.Org)
		if orgID == "" {
			return fmt.Errorf("final_state: unbound reference %s", assertion.Org)
		}
		sc = sc.InOrg(orgID)
	}

	keys := sortedKeys(assertion.Where)
	conds := make([]backend.Cond, 0, len(keys))
	for _, col := range keys {
		typ, ok := t.TypeOf(col)
		if !ok {
			return fmt.Errorf("final_state: %s has no column %q", assertion.Table, col)
		}
		v, err := row.Coerce(typ, h.resolveValue(assertion.Where[col]))
		if err != nil {
			return fmt.Errorf("final_state: where %s: %w", col, err)
		}
		conds = append(conds, backend.Eq(col, v))
	}

	rows, err := h.store.Read(ctx, sc, assertion.Table, backend.Where(conds...))
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("read %s", assertion.Table),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}

	whereDesc := formatWhere(assertion.Where)
	if assertion.Rows != nil && len(rows) != *assertion.Rows {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d row(s) in %s where %s", *assertion.Rows, assertion.Table, whereDesc),
			Actual:   fmt.Sprintf("%d row(s)", len(rows)),
		}
	}
	if len(assertion.Expect) == 0 {
		return nil
	}

	switch len(rows) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actual := rows[0]
	for _, key := range sortedKeys(assertion.Expect) {
		got, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in columns: %v", key, actual.Columns()),
			}
		}
		want := h.resolveValue(assertion.Expect[key])
		if !valueMatches(got, want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", key, want),
				Actual:   fmt.Sprintf("field %q = %v", key, row.Plain(got)),
			}
		}
	}
	return nil
}

// resolveValue replaces a bound "$name" with its id.
func (h *Harness) resolveValue(v any) any {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "$") {
		return v
	}
	if id := h.resolve(s); id != "" {
		return id
	}
	return v
}

// valueMatches compares a stored value with a scenario literal, reading
// the literal as the stored value's type: "10" matches a decimal 10.00
// and 2026-03-01 matches a date.
func valueMatches(got row.Value, want any) bool {
	if want == nil {
		return row.IsNull(got)
	}
	if row.IsNull(got) {
		return false
	}
	typ, ok := typeOfValue(got)
	if !ok {
		return false
	}
	switch w := want.(type) {
	case float64:
		want = strconv.FormatFloat(w, 'f', -1, 64)
	}
	if typ == row.TypeText {
		want = fmt.Sprint(want)
	}
	w, err := row.Coerce(typ, want)
	if err != nil {
		return false
	}
	return row.Equal(got, w)
}

func typeOfValue(v row.Value) (row.Type, bool) {
	switch v.(type) {
	case row.Text:
		return row.TypeText, true
	case row.Int:
		return row.TypeInt, true
	case row.Bool:
		return row.TypeBool, true
	case row.Decimal:
		return row.TypeDecimal, true
	case row.Date:
		return row.TypeDate, true
	case row.Time:
		return row.TypeTime, true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatWhere creates a human-readable description of the selection.
func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Harness == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Harness, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
