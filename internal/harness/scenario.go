package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Scenario is a ledger flow with expected outcomes.
//
// Users are registered before setup runs; each gets the profile email
// <name>@example.test. Steps refer to users by name and to rows saved by
// earlier steps as "$name".
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Today is the clock's starting date. Defaults to 2026-01-01.
	Today string `yaml:"today,omitempty"`

	// CatchUp makes sweeps materialize every missed occurrence.
	CatchUp bool `yaml:"catch_up,omitempty"`

	// Users lists the profiles to create.
	Users []string `yaml:"users"`

	// Setup steps must all succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps are checked against their expect clauses.
	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step runs one ledger operation.
type Step struct {
	// Op names the operation, for example create_holding.
	Op string `yaml:"op"`

	// As names the acting user. Only advance_days runs without one.
	As string `yaml:"as,omitempty"`

	// Org enters an organization workspace before the op, using PIN.
	Org string `yaml:"org,omitempty"`
	PIN string `yaml:"pin,omitempty"`

	Args map[string]any `yaml:"args,omitempty"`

	// Save binds the id of the result row to $Save for later steps.
	Save string `yaml:"save,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause describes what a flow step should produce. Without one
// the step must succeed.
type ExpectClause struct {
	// Error is the expected outcome kind, for example
	// OVERPAYMENT_REJECTED or WRONG_PIN.
	Error string `yaml:"error,omitempty"`

	// Result fields are compared by value: decimals numerically, dates
	// as calendar days.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion checks the trace or the final database state.
type Assertion struct {
	Type string `yaml:"type"`

	// Op and Outcome select trace events.
	Op      string   `yaml:"op,omitempty"`
	Outcome string   `yaml:"outcome,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Ops     []string `yaml:"ops,omitempty"`

	// As, Org, Table and Where select rows for final_state. Without As
	// the service scope reads.
	As    string         `yaml:"as,omitempty"`
	Org   string         `yaml:"org,omitempty"`
	Table string         `yaml:"table,omitempty"`
	Where map[string]any `yaml:"where,omitempty"`

	// Expect fields must match the single selected row.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Rows, when set, is the expected number of selected rows instead.
	Rows *int `yaml:"rows,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

const defaultToday = "2026-01-01"

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Today != "" {
		if _, err := row.ParseDate(s.Today); err != nil {
			return fmt.Errorf("today: %w", err)
		}
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := map[string]bool{}
	for _, u := range s.Users {
		if u == "" {
			return fmt.Errorf("users: empty name")
		}
		if names[u] {
			return fmt.Errorf("users: duplicate name %q", u)
		}
		names[u] = true
	}

	check := func(where string, i int, step Step) error {
		if step.Op == "" {
			return fmt.Errorf("%s[%d]: op is required", where, i)
		}
		op, ok := ops[step.Op]
		if !ok {
			return fmt.Errorf("%s[%d]: unknown op %q", where, i, step.Op)
		}
		if op.anonymous != (step.As == "") {
			if op.anonymous {
				return fmt.Errorf("%s[%d]: %s takes no user", where, i, step.Op)
			}
			return fmt.Errorf("%s[%d]: as is required for %s", where, i, step.Op)
		}
		if step.As != "" && !names[step.As] {
			return fmt.Errorf("%s[%d]: unknown user %q", where, i, step.As)
		}
		if step.Org != "" && step.As == "" {
			return fmt.Errorf("%s[%d]: org needs a user", where, i)
		}
		if step.PIN != "" && step.Org == "" {
			return fmt.Errorf("%s[%d]: pin needs org", where, i)
		}
		if step.Save != "" {
			if names[step.Save] {
				return fmt.Errorf("%s[%d]: save name %q already bound", where, i, step.Save)
			}
			names[step.Save] = true
		}
		return nil
	}
	for i, step := range s.Setup {
		if err := check("setup", i, step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot carry expect", i)
		}
	}
	for i, step := range s.Flow {
		if err := check("flow", i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if a.Rows == nil && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: final_state needs expect or rows", index)
		}
		if a.Rows != nil && *a.Rows < 0 {
			return fmt.Errorf("assertions[%d]: rows must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
