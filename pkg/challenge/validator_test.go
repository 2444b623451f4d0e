package challenge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/labforge/pkg/check"
)

func floatPtr(v float64) *float64 { return &v }

func validDefinition() *Definition {
	return &Definition{
		ID:    "test-01",
		Name:  "Test challenge",
		Score: 100,
		Setup: []Step{
			{Type: StepRunCommand, Command: "true"},
		},
		Validation: Validation{
			FinalStateChecks: []check.Check{
				{Type: "check_file_exists", Path: "/etc/motd"},
			},
		},
	}
}

func TestValidate_ValidDefinition(t *testing.T) {
	require.NoError(t, Validate(validDefinition()))
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	def := &Definition{
		Score: -1,
		Setup: []Step{
			{Type: StepRunCommand},
		},
		Hints: []Hint{
			{Text: "", Cost: -5},
		},
	}

	err := Validate(def)
	require.Error(t, err)

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)

	// id, name, score, setup command, final checks, hint text, hint cost.
	assert.Len(t, errs, 7)
	assert.Contains(t, err.Error(), "id is required")
	assert.Contains(t, err.Error(), "at least one final state check is required")
	assert.Contains(t, err.Error(), "hints[0].cost")
}

func TestValidate_Steps(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr string
	}{
		{
			name: "run_command without command",
			step: Step{Type: StepRunCommand},

			wantErr: "command is required",
		},
		{
			name:    "ensure_package_installed without package",
			step:    Step{Type: StepEnsurePackageInstalled},
			wantErr: "package is required",
		},
		{
			name:    "missing type",
			step:    Step{Command: "true"},
			wantErr: "step type is required",
		},
		{
			name:    "unknown type",
			step:    Step{Type: "reboot_vm"},
			wantErr: "invalid step type",
		},
		{
			name: "valid package step",
			step: Step{Type: StepEnsurePackageInstalled, Package: "nginx"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			def.Setup = []Step{tt.step}

			err := Validate(def)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_Checks(t *testing.T) {
	tests := []struct {
		name    string
		check   check.Check
		wantErr string
	}{
		{
			name:    "missing type",
			check:   check.Check{},
			wantErr: "check type is required",
		},
		{
			name:    "unknown type",
			check:   check.Check{Type: "check_quantum_state"},
			wantErr: "invalid check type",
		},
		{
			name:    "run_command without command",
			check:   check.Check{Type: "run_command"},
			wantErr: "command is required",
		},
		{
			name:    "file exists without path",
			check:   check.Check{Type: "check_file_exists"},
			wantErr: "path is required",
		},
		{
			name:    "file exists with bad file_type",
			check:   check.Check{Type: "check_file_exists", Path: "/x", FileType: "symlink"},
			wantErr: "invalid file_type",
		},
		{
			name:    "bad expected_state",
			check:   check.Check{Type: "check_file_exists", Path: "/x", ExpectedState: "maybe"},
			wantErr: "invalid expected_state",
		},
		{
			name:    "file contains without pattern",
			check:   check.Check{Type: "check_file_contains", Path: "/x"},
			wantErr: "pattern is required",
		},
		{
			name:    "service status without expected_status",
			check:   check.Check{Type: "check_service_status", Service: "nginx"},
			wantErr: "expected_status is required",
		},
		{
			name:    "history without operator",
			check:   check.Check{Type: "check_history", Pattern: "lvcreate"},
			wantErr: "operator is required",
		},
		{
			name: "valid service check",
			check: check.Check{
				Type: "check_service_status", Service: "nginx", ExpectedStatus: "active",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			def.Validation.FinalStateChecks = []check.Check{tt.check}

			err := Validate(def)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_LVMChecks(t *testing.T) {
	base := check.Check{
		Type:          "check_lvm_state",
		VolumeGroup:   "vg0",
		LogicalVolume: "lv_data",
	}

	tests := []struct {
		name    string
		mutate  func(c *check.Check)
		wantErr string
	}{
		{
			name:   "valid lv_exists",
			mutate: func(c *check.Check) { c.CheckType = "lv_exists" },
		},
		{
			name: "valid lv_size",
			mutate: func(c *check.Check) {
				c.CheckType = "lv_size"
				c.MinSizeMB = floatPtr(48)
				c.MaxSizeMB = floatPtr(52)
			},
		},
		{
			name:    "missing volume group",
			mutate:  func(c *check.Check) { c.CheckType = "lv_exists"; c.VolumeGroup = "" },
			wantErr: "volume_group is required",
		},
		{
			name:    "lv_size without bounds",
			mutate:  func(c *check.Check) { c.CheckType = "lv_size" },
			wantErr: "min_size_mb and max_size_mb are required",
		},
		{
			name: "lv_size with inverted bounds",
			mutate: func(c *check.Check) {
				c.CheckType = "lv_size"
				c.MinSizeMB = floatPtr(52)
				c.MaxSizeMB = floatPtr(48)
			},
			wantErr: "min_size_mb must be <= max_size_mb",
		},
		{
			name:    "unknown check_type",
			mutate:  func(c *check.Check) { c.CheckType = "lv_striped" },
			wantErr: "invalid check_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)

			def := validDefinition()
			def.Validation.FinalStateChecks = []check.Check{c}

			err := Validate(def)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	withField := ValidationError{Field: "score", Message: "must be >= 0"}
	assert.Contains(t, withField.Error(), "score")

	withoutField := ValidationError{Message: "broken"}
	assert.Equal(t, "validation error: broken", withoutField.Error())
}
