package check

import (
	"fmt"
	"strings"

	"github.com/alexandremahdhaoui/labforge/internal/util/ssh"
)

// runCommand executes a command and evaluates it against the check's
// success criteria. Without criteria, a zero exit status passes.
func (r *Registry) runCommand(runner ssh.Runner, c Check) Result {
	res, failed := r.run(runner, c.Command)
	if failed != nil {
		return *failed
	}

	criteria := c.SuccessCriteria
	if criteria == nil {
		criteria = &SuccessCriteria{ExitStatus: new(int)}
	}

	var mismatches []string

	if criteria.ExitStatus != nil {
		if res.ExitStatus == nil {
			mismatches = append(mismatches, fmt.Sprintf(
				"expected exit status %d, command did not report one", *criteria.ExitStatus))
		} else if *res.ExitStatus != *criteria.ExitStatus {
			mismatches = append(mismatches, fmt.Sprintf(
				"expected exit status %d, got %d", *criteria.ExitStatus, *res.ExitStatus))
		}
	}

	if criteria.StdoutEquals != "" && strings.TrimSpace(res.Stdout) != strings.TrimSpace(criteria.StdoutEquals) {
		mismatches = append(mismatches, fmt.Sprintf(
			"expected stdout %q, got %q", criteria.StdoutEquals, strings.TrimSpace(res.Stdout)))
	}
	if criteria.StdoutContains != "" && !strings.Contains(res.Stdout, criteria.StdoutContains) {
		mismatches = append(mismatches, fmt.Sprintf(
			"stdout does not contain %q", criteria.StdoutContains))
	}
	if criteria.StderrEquals != "" && strings.TrimSpace(res.Stderr) != strings.TrimSpace(criteria.StderrEquals) {
		mismatches = append(mismatches, fmt.Sprintf(
			"expected stderr %q, got %q", criteria.StderrEquals, strings.TrimSpace(res.Stderr)))
	}
	if criteria.StderrContains != "" && !strings.Contains(res.Stderr, criteria.StderrContains) {
		mismatches = append(mismatches, fmt.Sprintf(
			"stderr does not contain %q", criteria.StderrContains))
	}

	if len(mismatches) > 0 {
		return Result{Passed: false, Message: strings.Join(mismatches, "; ")}
	}

	return Result{Passed: true, Message: "command met all success criteria"}
}
