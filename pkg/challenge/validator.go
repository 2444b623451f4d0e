package challenge

import (
	"fmt"
	"strings"

	"github.com/alexandremahdhaoui/labforge/pkg/check"
)

// ValidationError represents a validation error with detailed context.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error in field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors represents multiple validation errors. It carries every
// individual reason, not just the first one found.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validCheckTypes = map[string]bool{
	"run_command":          true,
	"check_file_exists":    true,
	"check_file_contains":  true,
	"check_service_status": true,
	"check_lvm_state":      true,
	"check_history":        true,
}

// Validate validates a challenge Definition and returns detailed validation
// errors.
func Validate(def *Definition) error {
	var errs ValidationErrors

	if def.ID == "" {
		errs = append(errs, ValidationError{Field: "id", Message: "id is required"})
	}
	if def.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required"})
	}
	if def.Score < 0 {
		errs = append(errs, ValidationError{Field: "score", Message: "score must be >= 0"})
	}

	for i, step := range def.Setup {
		errs = append(errs, validateStep(step, i)...)
	}

	if len(def.Validation.FinalStateChecks) == 0 {
		errs = append(errs, ValidationError{
			Field:   "validation.final_state_checks",
			Message: "at least one final state check is required",
		})
	}
	for i, c := range def.Validation.FinalStateChecks {
		errs = append(errs, validateCheck(c, fmt.Sprintf("validation.final_state_checks[%d]", i))...)
	}
	for i, c := range def.Validation.ProcessValidationChecks {
		errs = append(errs, validateCheck(c, fmt.Sprintf("validation.process_validation_checks[%d]", i))...)
	}

	for i, hint := range def.Hints {
		if hint.Text == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("hints[%d].text", i),
				Message: "hint text is required",
			})
		}
		if hint.Cost < 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("hints[%d].cost", i),
				Message: "hint cost must be >= 0",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateStep validates a single setup step.
func validateStep(step Step, index int) ValidationErrors {
	var errs ValidationErrors
	prefix := fmt.Sprintf("setup[%d]", index)

	switch step.Type {
	case StepRunCommand:
		if step.Command == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".command",
				Message: "command is required for run_command steps",
			})
		}
	case StepEnsurePackageInstalled:
		if step.Package == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".package",
				Message: "package is required for ensure_package_installed steps",
			})
		}
	case "":
		errs = append(errs, ValidationError{
			Field:   prefix + ".type",
			Message: "step type is required",
		})
	default:
		errs = append(errs, ValidationError{
			Field: prefix + ".type",
			Message: fmt.Sprintf(
				"invalid step type '%s', must be one of: %s, %s",
				step.Type, StepRunCommand, StepEnsurePackageInstalled),
		})
	}

	return errs
}

// validateCheck validates a single validation check.
func validateCheck(c check.Check, prefix string) ValidationErrors {
	var errs ValidationErrors

	if c.Type == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".type",
			Message: "check type is required",
		})
		return errs
	}
	if !validCheckTypes[c.Type] {
		errs = append(errs, ValidationError{
			Field:   prefix + ".type",
			Message: fmt.Sprintf("invalid check type '%s'", c.Type),
		})
		return errs
	}

	if c.ExpectedState != "" && c.ExpectedState != "present" && c.ExpectedState != "absent" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".expected_state",
			Message: fmt.Sprintf("invalid expected_state '%s', must be present or absent", c.ExpectedState),
		})
	}

	switch c.Type {
	case "run_command":
		if c.Command == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".command",
				Message: "command is required for run_command checks",
			})
		}
	case "check_file_exists":
		if c.Path == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".path",
				Message: "path is required for file checks",
			})
		}
		if c.FileType != "" && c.FileType != "file" && c.FileType != "directory" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".file_type",
				Message: fmt.Sprintf("invalid file_type '%s', must be file or directory", c.FileType),
			})
		}
	case "check_file_contains":
		if c.Path == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".path",
				Message: "path is required for file checks",
			})
		}
		if c.Pattern == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".pattern",
				Message: "pattern is required for check_file_contains checks",
			})
		}
	case "check_service_status":
		if c.Service == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".service",
				Message: "service is required for check_service_status checks",
			})
		}
		if c.ExpectedStatus == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".expected_status",
				Message: "expected_status is required for check_service_status checks",
			})
		}
	case "check_lvm_state":
		errs = append(errs, validateLVMCheck(c, prefix)...)
	case "check_history":
		if c.Pattern == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".pattern",
				Message: "pattern is required for check_history checks",
			})
		}
		if c.Operator == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".operator",
				Message: "operator is required for check_history checks",
			})
		}
	}

	return errs
}

func validateLVMCheck(c check.Check, prefix string) ValidationErrors {
	var errs ValidationErrors

	if c.VolumeGroup == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".volume_group",
			Message: "volume_group is required for check_lvm_state checks",
		})
	}
	if c.LogicalVolume == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".logical_volume",
			Message: "logical_volume is required for check_lvm_state checks",
		})
	}

	switch c.CheckType {
	case "lv_exists":
	case "lv_size":
		if c.MinSizeMB == nil || c.MaxSizeMB == nil {
			errs = append(errs, ValidationError{
				Field:   prefix + ".min_size_mb",
				Message: "min_size_mb and max_size_mb are required for lv_size checks",
			})
		} else if *c.MinSizeMB > *c.MaxSizeMB {
			errs = append(errs, ValidationError{
				Field:   prefix + ".min_size_mb",
				Message: "min_size_mb must be <= max_size_mb",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field: prefix + ".check_type",
			Message: fmt.Sprintf(
				"invalid check_type '%s', must be one of: lv_exists, lv_size", c.CheckType),
		})
	}

	return errs
}
