package check

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alexandremahdhaoui/labforge/internal/util/ssh"
)

// history counts occurrences of a command pattern in the guest's shell
// history and compares the count against an operator expression.
//
// This is a process-level check: it observes how the user got to the final
// state, not the state itself.
func (r *Registry) history(runner ssh.Runner, c Check) Result {
	cmd := fmt.Sprintf("grep -c -- %s \"$HOME/.bash_history\"", shellQuote(c.Pattern))

	res, failed := r.run(runner, cmd)
	if failed != nil {
		return *failed
	}

	// grep -c prints 0 and exits 1 when nothing matches; only exit
	// statuses above 1 indicate a real error.
	if res.ExitStatus == nil || *res.ExitStatus > 1 {
		return Result{Passed: false, Message: fmt.Sprintf(
			"unable to read shell history: %s", strings.TrimSpace(res.Stderr))}
	}

	count, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return Result{Passed: false, Message: fmt.Sprintf(
			"unable to parse history match count from %q", strings.TrimSpace(res.Stdout))}
	}

	ok, err := compareCount(count, c.Operator)
	if err != nil {
		return Result{Passed: false, Message: err.Error()}
	}

	if !ok {
		return Result{Passed: false, Message: fmt.Sprintf(
			"found %d occurrence(s) of %q in history, expected %s",
			count, c.Pattern, c.Operator)}
	}

	return Result{Passed: true, Message: fmt.Sprintf(
		"found %d occurrence(s) of %q in history, satisfies %s",
		count, c.Pattern, c.Operator)}
}

// compareCount evaluates an operator expression such as ">=1" against a
// count. A bare number means equality.
func compareCount(count int, expr string) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, fmt.Errorf("history check requires an operator expression")
	}

	op := "=="
	operand := expr
	for _, candidate := range []string{">=", "<=", "==", "!=", ">", "<"} {
		if strings.HasPrefix(expr, candidate) {
			op = candidate
			operand = strings.TrimSpace(expr[len(candidate):])
			break
		}
	}

	threshold, err := strconv.Atoi(operand)
	if err != nil {
		return false, fmt.Errorf("invalid operator expression %q", expr)
	}

	switch op {
	case ">=":
		return count >= threshold, nil
	case "<=":
		return count <= threshold, nil
	case "==":
		return count == threshold, nil
	case "!=":
		return count != threshold, nil
	case ">":
		return count > threshold, nil
	case "<":
		return count < threshold, nil
	}

	return false, fmt.Errorf("invalid operator expression %q", expr)
}
