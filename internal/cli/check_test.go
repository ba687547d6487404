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

func writeProjectsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projects.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

const validProjectsYAML = `
projects:
  - id: checkout
    name: Checkout
    owners: [owner-1]
  - id: billing
    name: Billing
    owners: [owner-2]
`

func TestCheckCommand_Valid(t *testing.T) {
	path := writeProjectsFile(t, validProjectsYAML)

	out, err := runCommand(t, "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (2 projects)")
}

func TestCheckCommand_ValidJSON(t *testing.T) {
	path := writeProjectsFile(t, validProjectsYAML)

	out, err := runCommand(t, "--format", "json", "check", path)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCheckCommand_Invalid(t *testing.T) {
	// Blank owner plus a duplicate id: both problems must be reported.
	content := `
projects:
  - id: checkout
    name: Checkout
    owners: [owner-1, ""]
  - id: checkout
    name: Checkout Again
    owners: [owner-2]
`
	path := writeProjectsFile(t, content)

	out, err := runCommand(t, "check", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "invalid")
}

func TestCheckCommand_InvalidJSON(t *testing.T) {
	content := `
projects:
  - id: ""
    name: Nameless
    owners: [owner-1]
`
	path := writeProjectsFile(t, content)

	out, err := runCommand(t, "--format", "json", "check", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "C102", resp.Error.Code)
}

func TestCheckCommand_MissingFile(t *testing.T) {
	out, err := runCommand(t, "check", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "invalid")
}
