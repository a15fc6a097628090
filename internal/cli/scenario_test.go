package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sweepScenario = `
name: monthly_rent
description: "a past-due rule materializes once per sweep"
today: "2026-03-01"
users: [asha]
flow:
  - op: create_rule
    as: asha
    args: { amount: "500", category: Rent, frequency: monthly, next_due_date: "2026-02-15" }
  - op: sweep
    as: asha
    expect:
      result: { materialized: 1 }
assertions:
  - type: trace_order
    ops: [create_rule, sweep]
`

func scenarioDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestScenarioCommandRunsAndUpdatesGolden(t *testing.T) {
	f := newFixture(t)
	dir := scenarioDir(t, map[string]string{"rent.yaml": sweepScenario})

	out, err := f.run(t, "scenario", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ monthly_rent")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	_, err = f.run(t, "scenario", dir, "--update")
	require.NoError(t, err)
	golden := filepath.Join(dir, "golden", "monthly_rent.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name":"monthly_rent"`)
	assert.Contains(t, string(data), `"result":{"materialized":1}`)

	_, err = f.run(t, "scenario", dir)
	require.NoError(t, err, "golden written by --update matches the next run")

	require.NoError(t, os.WriteFile(golden, []byte("{}"), 0o644))
	out, err = f.run(t, "scenario", dir)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestScenarioCommandReportsFailures(t *testing.T) {
	f := newFixture(t)
	broken := `
name: wrong_count
description: "expects two occurrences where one is due"
today: "2026-03-01"
users: [asha]
flow:
  - op: create_rule
    as: asha
    args: { amount: "500", category: Rent, frequency: monthly, next_due_date: "2026-02-15" }
  - op: sweep
    as: asha
    expect:
      result: { materialized: 2 }
assertions:
  - type: trace_contains
    op: sweep
`
	dir := scenarioDir(t, map[string]string{
		"a.yaml":     sweepScenario,
		"b.yaml":     broken,
		"c.yaml":     "name: incomplete\n",
		"readme.txt": "not a scenario",
	})

	resp, err := f.runJSON(t, "scenario", dir)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "2 scenario(s) failed", resp.Error.Message)

	out, err := f.run(t, "scenario", dir, "--filter", "a")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	out, _ = f.run(t, "scenario", dir, "--filter", "b")
	assert.Contains(t, out, "✗ wrong_count")
	assert.Contains(t, out, `result field "materialized" = 1, want 2`)
}

func TestScenarioCommandMissingDir(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "scenario", filepath.Join(t.TempDir(), "absent"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
