// Package check provides the polymorphic validation checks executed against
// a practice VM over SSH. Each check kind is a closed tagged variant
// dispatched through an explicit executor table; every check is read-only
// with respect to the scored outcome.
package check

import (
	"fmt"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/labforge/internal/util/ssh"
)

// Check is one atomic, independently pass/fail-able verification against
// remote VM state. Type selects the executor and determines which parameter
// fields apply; unused fields stay zero.
type Check struct {
	// Type is the check kind (run_command, check_file_exists,
	// check_file_contains, check_service_status, check_lvm_state,
	// check_history).
	Type string `json:"type"`

	// Description is a human-readable check description.
	Description string `json:"description,omitempty"`

	// Command is the remote command to execute (run_command).
	Command string `json:"command,omitempty"`

	// SuccessCriteria constrains the command outcome (run_command).
	SuccessCriteria *SuccessCriteria `json:"success_criteria,omitempty"`

	// Path is the remote file or directory path (file checks).
	Path string `json:"path,omitempty"`

	// ExpectedState is "present" or "absent" (file checks, lv_exists).
	// Defaults to "present".
	ExpectedState string `json:"expected_state,omitempty"`

	// FileType is "file" or "directory" (check_file_exists).
	FileType string `json:"file_type,omitempty"`

	// Pattern is the substring to search for (check_file_contains,
	// check_history).
	Pattern string `json:"pattern,omitempty"`

	// Service is the service unit name (check_service_status).
	Service string `json:"service,omitempty"`

	// ExpectedStatus is the expected service state, e.g. "active"
	// (check_service_status).
	ExpectedStatus string `json:"expected_status,omitempty"`

	// CheckType is "lv_exists" or "lv_size" (check_lvm_state).
	CheckType string `json:"check_type,omitempty"`

	// VolumeGroup and LogicalVolume name the LVM target (check_lvm_state).
	VolumeGroup   string `json:"volume_group,omitempty"`
	LogicalVolume string `json:"logical_volume,omitempty"`

	// MinSizeMB and MaxSizeMB bound the logical volume size inclusively,
	// accommodating extent rounding (check_lvm_state, lv_size).
	MinSizeMB *float64 `json:"min_size_mb,omitempty"`
	MaxSizeMB *float64 `json:"max_size_mb,omitempty"`

	// Operator is a count expression such as ">=1" (check_history).
	Operator string `json:"operator,omitempty"`
}

// SuccessCriteria constrains a run_command outcome. Unset fields are not
// checked.
type SuccessCriteria struct {
	ExitStatus     *int   `json:"exit_status,omitempty"`
	StdoutEquals   string `json:"stdout_equals,omitempty"`
	StdoutContains string `json:"stdout_contains,omitempty"`
	StderrEquals   string `json:"stderr_equals,omitempty"`
	StderrContains string `json:"stderr_contains,omitempty"`
}

// Result captures the outcome of executing a single check.
//
// A failed check is a first-class negative result, not an error: transport
// failures during execution also surface here as failed results so a report
// always covers every check.
type Result struct {
	Type        string
	Description string
	Passed      bool
	Message     string
}

// executorFunc executes one check kind against a remote host.
type executorFunc func(runner ssh.Runner, c Check) Result

// Registry dispatches checks to their executors.
type Registry struct {
	executors map[string]executorFunc
	timeout   time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the per-command timeout used by check executors.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.timeout = d
	}
}

// NewRegistry creates a registry with all built-in check kinds registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		timeout: ssh.DefaultCommandTimeout,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.executors = map[string]executorFunc{
		"run_command":          r.runCommand,
		"check_file_exists":    r.fileExists,
		"check_file_contains":  r.fileContains,
		"check_service_status": r.serviceStatus,
		"check_lvm_state":      r.lvmState,
		"check_history":        r.history,
	}

	return r
}

// Execute runs a single check and returns its result. Unknown check types
// produce a failed result rather than an error.
func (r *Registry) Execute(runner ssh.Runner, c Check) Result {
	executor, ok := r.executors[c.Type]
	if !ok {
		return Result{
			Type:        c.Type,
			Description: c.Description,
			Passed:      false,
			Message:     fmt.Sprintf("unknown check type: %s", c.Type),
		}
	}

	result := executor(runner, c)
	result.Type = c.Type
	result.Description = c.Description
	return result
}

// run executes a remote command with the registry's timeout and folds
// transport failures and timeouts into a failed result.
func (r *Registry) run(runner ssh.Runner, command string) (*ssh.Result, *Result) {
	res, err := runner.Run(command, ssh.RunOptions{Timeout: r.timeout})
	if err != nil {
		return nil, &Result{Passed: false, Message: fmt.Sprintf("command execution failed: %v", err)}
	}
	if res.TimedOut() {
		return nil, &Result{Passed: false, Message: res.Err}
	}
	return res, nil
}

// expectPresent interprets an expected_state field, defaulting to present.
func expectPresent(expectedState string) bool {
	return expectedState != "absent"
}

// shellQuote single-quotes s for safe interpolation into a remote shell
// command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func presence(present bool) string {
	if present {
		return "present"
	}
	return "absent"
}
