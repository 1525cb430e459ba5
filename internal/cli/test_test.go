package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	harnessScenarios = "../harness/testdata/scenarios"
	harnessGolden    = "../harness/testdata/golden"
)

const passingScenario = `name: lookup
steps:
  - find: Author
    where: { id: 1 }
    as: author
assertions:
  - type: entity_state
    path: author
    expect: { name: Ursula }
`

const failingScenario = `name: mismatch
steps:
  - find: Author
    where: { id: 1 }
    as: author
assertions:
  - type: entity_state
    path: author
    expect: { name: Frank }
`

func runTestCommand(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewTestCommand(opts)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeScenario(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

// ============================================================================
// Arguments and paths
// ============================================================================

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCommand(t, &RootOptions{Format: "text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := runTestCommand(t, &RootOptions{Format: "text"}, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := runTestCommand(t, &RootOptions{Format: "text"}, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := runTestCommand(t, &RootOptions{Format: "json"}, t.TempDir())
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Zero(t, resp.Data.Total)
}

// ============================================================================
// Running scenarios
// ============================================================================

func TestTestCommandHarnessFixtures(t *testing.T) {
	out, err := runTestCommand(t, &RootOptions{Format: "text"}, harnessScenarios, "--golden", harnessGolden)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ collections")
	assert.Contains(t, out, "✓ invariants")
	assert.Contains(t, out, "✓ references")
	assert.Contains(t, out, "3 passed, 0 failed, 3 total")
}

func TestTestCommandFilter(t *testing.T) {
	out, err := runTestCommand(t, &RootOptions{Format: "json"}, harnessScenarios, "--golden", harnessGolden, "--filter", "coll*")
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "collections", resp.Data.Scenarios[0].Name)
	assert.Equal(t, goldenMatched, resp.Data.Scenarios[0].Golden)
}

func TestTestCommandAssertionFailure(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "ok.yaml", passingScenario)
	writeScenario(t, dir, "bad.yaml", failingScenario)

	out, err := runTestCommand(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "✓ lookup")
	assert.Contains(t, out, "✗ mismatch")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\nstep: []\n")

	out, err := runTestCommand(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "load error")
}

// ============================================================================
// Golden files
// ============================================================================

func TestTestCommandUpdateThenMatch(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "lookup.yaml", passingScenario)

	out, err := runTestCommand(t, &RootOptions{Format: "text"}, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ lookup")
	assert.NoFileExists(t, filepath.Join(dir, "golden", "lookup.golden"))

	out, err = runTestCommand(t, &RootOptions{Format: "text"}, dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ lookup (golden updated)")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "lookup.golden"))
	require.NoError(t, err)
	assert.Equal(t, `{"scenario_name":"lookup","trace":[{"op":"find","result":[1],"seq":1,"target":"Author"}]}`, string(golden))

	_, err = runTestCommand(t, &RootOptions{Format: "text"}, dir)
	require.NoError(t, err)
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "lookup.yaml", passingScenario)
	goldenDir := filepath.Join(dir, "expected")
	require.NoError(t, os.MkdirAll(goldenDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "lookup.golden"), []byte(`{"scenario_name":"lookup","trace":[]}`), 0o644))

	out, err := runTestCommand(t, &RootOptions{Format: "text"}, dir, "--golden", goldenDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "does not match golden file")
}
