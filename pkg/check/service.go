package check

import (
	"fmt"
	"strings"

	"github.com/alexandremahdhaoui/labforge/internal/util/ssh"
)

// serviceStatus compares the service manager's reported state for a unit
// against the expected status.
func (r *Registry) serviceStatus(runner ssh.Runner, c Check) Result {
	cmd := fmt.Sprintf("systemctl is-active %s", shellQuote(c.Service))

	res, failed := r.run(runner, cmd)
	if failed != nil {
		return *failed
	}

	// systemctl is-active prints the unit state (active, inactive, failed)
	// regardless of exit status, so the output is what gets compared.
	actual := strings.TrimSpace(res.Stdout)
	if actual == "" {
		return Result{Passed: false, Message: fmt.Sprintf(
			"unable to query status of service %s: %s", c.Service, res.Stderr)}
	}

	if actual != c.ExpectedStatus {
		return Result{Passed: false, Message: fmt.Sprintf(
			"expected service %s to be %s, got %s", c.Service, c.ExpectedStatus, actual)}
	}

	return Result{Passed: true, Message: fmt.Sprintf(
		"service %s is %s", c.Service, actual)}
}
