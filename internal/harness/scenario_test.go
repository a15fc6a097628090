package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
name: minimal
description: "one sweep"
users: [asha]
flow:
  - op: sweep
    as: asha
assertions:
  - type: trace_count
    op: sweep
    count: 1
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, []string{"asha"}, s.Users)
	require.Len(t, s.Flow, 1)
	assert.Equal(t, "sweep", s.Flow[0].Op)
	assert.Equal(t, 1, s.Assertions[0].Count)
}

func TestParseScenarioRejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(minimal + "flow_token: abc\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidateScenario(t *testing.T) {
	base := func() *Scenario {
		return &Scenario{
			Name:        "s",
			Description: "d",
			Users:       []string{"asha"},
			Flow:        []Step{{Op: "sweep", As: "asha"}},
			Assertions:  []Assertion{{Type: AssertTraceContains, Op: "sweep"}},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Scenario)
		want   string
	}{
		{"missing name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"missing description", func(s *Scenario) { s.Description = "" }, "description is required"},
		{"bad today", func(s *Scenario) { s.Today = "March 1" }, "today"},
		{"empty flow", func(s *Scenario) { s.Flow = nil }, "flow list is required"},
		{"no assertions", func(s *Scenario) { s.Assertions = nil }, "assertions list is required"},
		{"duplicate user", func(s *Scenario) { s.Users = []string{"asha", "asha"} }, "duplicate name"},
		{"unknown op", func(s *Scenario) { s.Flow[0].Op = "transfer" }, `unknown op "transfer"`},
		{"missing actor", func(s *Scenario) { s.Flow[0].As = "" }, "as is required for sweep"},
		{"unknown actor", func(s *Scenario) { s.Flow[0].As = "ravi" }, `unknown user "ravi"`},
		{"anonymous op with actor", func(s *Scenario) {
			s.Flow = append(s.Flow, Step{Op: "advance_days", As: "asha", Args: map[string]any{"days": 1}})
		}, "advance_days takes no user"},
		{"pin without org", func(s *Scenario) { s.Flow[0].PIN = "1234" }, "pin needs org"},
		{"save shadows user", func(s *Scenario) { s.Flow[0].Save = "asha" }, "already bound"},
		{"expect in setup", func(s *Scenario) {
			s.Setup = []Step{{Op: "sweep", As: "asha", Expect: &ExpectClause{Error: "NOT_FOUND"}}}
		}, "setup steps cannot carry expect"},
		{"trace_order without ops", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertTraceOrder} }, "ops list is required"},
		{"final_state without table", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertFinalState} }, "table is required"},
		{"final_state without checks", func(s *Scenario) {
			s.Assertions[0] = Assertion{Type: AssertFinalState, Table: "expenses"}
		}, "needs expect or rows"},
		{"unknown assertion", func(s *Scenario) { s.Assertions[0] = Assertion{Type: "eventually"} }, "unknown assertion type"},
	}
	require.NoError(t, validateScenario(base()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(s)
			err := validateScenario(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarios(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(minimal), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(minimal), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	scenarios, err := LoadScenarios(dir)
	require.NoError(t, err)
	assert.Len(t, scenarios, 2)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("name: broken\n"), 0o644))
	_, err = LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c.yaml")
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
