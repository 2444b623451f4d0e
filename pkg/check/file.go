package check

import (
	"fmt"

	"github.com/alexandremahdhaoui/labforge/internal/util/ssh"
)

// fileExists verifies presence or absence of a file or directory.
func (r *Registry) fileExists(runner ssh.Runner, c Check) Result {
	var flag string
	switch c.FileType {
	case "file":
		flag = "-f"
	case "directory":
		flag = "-d"
	default:
		flag = "-e"
	}

	res, failed := r.run(runner, fmt.Sprintf("test %s %s", flag, shellQuote(c.Path)))
	if failed != nil {
		return *failed
	}

	present := res.ExitStatus != nil && *res.ExitStatus == 0
	want := expectPresent(c.ExpectedState)

	if present != want {
		return Result{Passed: false, Message: fmt.Sprintf(
			"expected %s to be %s, found %s", c.Path, presence(want), presence(present))}
	}

	return Result{Passed: true, Message: fmt.Sprintf("%s is %s", c.Path, presence(present))}
}

// fileContains verifies that a file does or does not contain a substring.
func (r *Registry) fileContains(runner ssh.Runner, c Check) Result {
	cmd := fmt.Sprintf("grep -qF -- %s %s", shellQuote(c.Pattern), shellQuote(c.Path))

	res, failed := r.run(runner, cmd)
	if failed != nil {
		return *failed
	}

	// grep exits 0 on match, 1 on no match, >1 on error (e.g. missing file).
	if res.ExitStatus == nil || *res.ExitStatus > 1 {
		return Result{Passed: false, Message: fmt.Sprintf(
			"unable to search %s: %s", c.Path, res.Stderr)}
	}

	contains := *res.ExitStatus == 0
	want := expectPresent(c.ExpectedState)

	if contains != want {
		return Result{Passed: false, Message: fmt.Sprintf(
			"expected %q to be %s in %s, found %s",
			c.Pattern, presence(want), c.Path, presence(contains))}
	}

	return Result{Passed: true, Message: fmt.Sprintf(
		"%q is %s in %s", c.Pattern, presence(contains), c.Path)}
}
