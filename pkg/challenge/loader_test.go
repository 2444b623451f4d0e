package challenge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validChallengeYAML = `
id: lvm-resize-01
name: Resize a logical volume
score: 100
setup:
  - type: run_command
    command: sudo vgcreate vg0 /dev/vdb
  - type: ensure_package_installed
    package: lvm2
user_action_simulation: sudo lvcreate -L 50M -n lv_data vg0
validation:
  final_state_checks:
    - type: check_lvm_state
      description: lv_data exists with the requested size
      check_type: lv_size
      volume_group: vg0
      logical_volume: lv_data
      min_size_mb: 48
      max_size_mb: 52
  process_validation_checks:
    - type: check_history
      description: lvcreate was used
      pattern: lvcreate
      operator: ">=1"
hints:
  - text: Look at lvcreate's -L flag.
    cost: 5
  - text: The volume group is vg0.
    cost: 10
flag: FLAG{lvm-resize-01}
`

func writeChallenge(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := writeChallenge(t, dir, "challenge.yaml", validChallengeYAML)

	def, err := NewLoader("").Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lvm-resize-01", def.ID)
	assert.Equal(t, "Resize a logical volume", def.Name)
	assert.Equal(t, 100, def.Score)
	require.Len(t, def.Setup, 2)
	assert.Equal(t, StepRunCommand, def.Setup[0].Type)
	assert.Equal(t, StepEnsurePackageInstalled, def.Setup[1].Type)
	assert.Equal(t, "lvm2", def.Setup[1].Package)
	assert.NotEmpty(t, def.UserActionSimulation)

	require.Len(t, def.Validation.FinalStateChecks, 1)
	lvCheck := def.Validation.FinalStateChecks[0]
	assert.Equal(t, "check_lvm_state", lvCheck.Type)
	require.NotNil(t, lvCheck.MinSizeMB)
	assert.InDelta(t, 48, *lvCheck.MinSizeMB, 0.001)

	require.Len(t, def.Validation.ProcessValidationChecks, 1)
	assert.Equal(t, ">=1", def.Validation.ProcessValidationChecks[0].Operator)

	require.Len(t, def.Hints, 2)
	assert.Equal(t, 5, def.Hints[0].Cost)
	assert.Equal(t, "FLAG{lvm-resize-01}", def.Flag)
}

func TestLoader_LoadRelativePath(t *testing.T) {
	dir := t.TempDir()
	writeChallenge(t, dir, "challenge.yaml", validChallengeYAML)

	def, err := NewLoader(dir).Load("challenge.yaml")
	require.NoError(t, err)
	assert.Equal(t, "lvm-resize-01", def.ID)
}

func TestLoader_LoadMissingFile(t *testing.T) {
	_, err := NewLoader(t.TempDir()).Load("nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Contains(t, err.Error(), "nope.yaml")
}

func TestLoader_LoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeChallenge(t, dir, "broken.yaml", "id: [unclosed")

	_, err := NewLoader("").Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing challenge YAML")
}

func TestLoader_LoadInvalidDefinition(t *testing.T) {
	dir := t.TempDir()
	path := writeChallenge(t, dir, "invalid.yaml", "name: missing pieces\n")

	_, err := NewLoader("").Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid challenge")
}

func TestLoader_LoadMultiple(t *testing.T) {
	dir := t.TempDir()
	good := writeChallenge(t, dir, "good.yaml", validChallengeYAML)
	bad := writeChallenge(t, dir, "bad.yaml", "name: missing pieces\n")

	defs, errs := NewLoader("").LoadMultiple([]string{good, bad})
	assert.Len(t, defs, 1)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "bad.yaml")
}
