package ssh

import "time"

// Runner defines the interface for executing commands on a remote host.
type Runner interface {
	Run(command string, opts RunOptions) (*Result, error)
}

// RunOptions configures a single remote command execution.
type RunOptions struct {
	// Timeout bounds the total time spent waiting for the command to
	// complete. Defaults to DefaultCommandTimeout when zero.
	Timeout time.Duration

	// Stdin is written to the remote command's standard input before
	// signalling end of input. Empty means no input.
	Stdin string
}

// Result holds the outcome of a remote command execution.
//
// ExitStatus is nil when the command never completed, e.g. when the
// timeout expired. Err carries the non-transport failure description in
// that case; output captured before the deadline is always preserved.
type Result struct {
	Stdout     string
	Stderr     string
	ExitStatus *int
	Err        string
}

// TimedOut reports whether the command was cut off by its timeout.
func (r *Result) TimedOut() bool {
	return r.ExitStatus == nil && r.Err != ""
}
