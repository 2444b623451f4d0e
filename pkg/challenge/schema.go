// Package challenge defines the declarative challenge format consumed by
// the workflow engine: ordered setup steps, an expected user action,
// validation checks, hints and a score.
package challenge

import (
	"github.com/alexandremahdhaoui/labforge/pkg/check"
)

// Step kinds.
const (
	StepRunCommand             = "run_command"
	StepEnsurePackageInstalled = "ensure_package_installed"
)

// Definition is a complete challenge loaded from YAML.
// It is immutable once loaded for a run.
type Definition struct {
	// ID uniquely identifies the challenge.
	ID string `json:"id"`

	// Name is the human-readable challenge name.
	Name string `json:"name"`

	// Score is the base score awarded when all final state checks pass,
	// before hint costs are deducted. Must be >= 0.
	Score int `json:"score"`

	// Setup is the ordered list of steps that bring the VM into the
	// challenge's starting state.
	Setup []Step `json:"setup,omitempty"`

	// UserActionSimulation optionally holds a command the engine executes
	// in place of a human performing the action (unattended/demo runs).
	UserActionSimulation string `json:"user_action_simulation,omitempty"`

	// Validation holds the checks scoring the run.
	Validation Validation `json:"validation"`

	// Hints are revealable at a fixed score cost.
	Hints []Hint `json:"hints,omitempty"`

	// Flag optionally holds a completion flag shown on success.
	Flag string `json:"flag,omitempty"`
}

// Step is a tagged variant executed against the VM during setup.
type Step struct {
	// Type is the step kind (run_command, ensure_package_installed).
	Type string `json:"type"`

	// Command is the remote command to execute (run_command).
	Command string `json:"command,omitempty"`

	// Package is the package name to install (ensure_package_installed).
	Package string `json:"package,omitempty"`
}

// Validation splits checks into final-state checks, which gate the score,
// and optional process checks, which are informational.
type Validation struct {
	FinalStateChecks        []check.Check `json:"final_state_checks"`
	ProcessValidationChecks []check.Check `json:"process_validation_checks,omitempty"`
}

// Hint is optional guidance revealable at a fixed score cost.
type Hint struct {
	Text string `json:"text"`
	Cost int    `json:"cost"`
}
