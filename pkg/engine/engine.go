// Package engine drives the challenge run lifecycle: acquire the target VM,
// snapshot it, execute setup steps, wait for (or simulate) the user action,
// run validation checks, score and clean up. Each run yields a RunReport
// regardless of how it ends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/alexandremahdhaoui/labforge/internal/util/ssh"
	"github.com/alexandremahdhaoui/labforge/pkg/challenge"
	"github.com/alexandremahdhaoui/labforge/pkg/check"
	"github.com/alexandremahdhaoui/labforge/pkg/runctx"
	"github.com/alexandremahdhaoui/labforge/pkg/vmm"
)

// State is a stage of the run lifecycle. Transitions are linear with three
// terminal states; a run never moves backwards.
type State string

const (
	StateLoaded         State = "Loaded"
	StateSettingUp      State = "SettingUp"
	StateAwaitingAction State = "AwaitingAction"
	StateValidating     State = "Validating"
	StateScored         State = "Scored"
	StateCleaningUp     State = "CleaningUp"
	StateDone           State = "Done"
	StateFailed         State = "Failed"
	StateAborted        State = "Aborted"
)

var (
	ErrSetupFailed      = errors.New("setup step failed")
	ErrUserActionFailed = errors.New("user action simulation failed")
	ErrRunAborted       = errors.New("run aborted")
	ErrHintOutOfRange   = errors.New("hint index out of range")
)

// Hypervisor is the VM lookup, network resolution and snapshot surface the
// engine drives. *vmm.Manager implements it.
type Hypervisor interface {
	LookupVM(name string) error
	ResolveVMIP(name string) (string, error)
	CreateVMSnapshot(vmName, snapshotName string) (*vmm.SnapshotDescriptor, error)
	RevertVMSnapshot(vmName, snapshotName string) error
	DeleteVMSnapshot(vmName, snapshotName string) error
}

// Remote is the command execution surface of a resolved VM.
type Remote interface {
	ssh.Runner

	// AwaitServer blocks until the remote SSH server accepts connections
	// or the timeout expires.
	AwaitServer(timeout, pollInterval time.Duration) error
}

// RemoteFactory builds the Remote for a resolved guest IP.
type RemoteFactory func(rctx runctx.Context, host string) (Remote, error)

// DefaultRemoteFactory connects over SSH with the run context's identity.
func DefaultRemoteFactory(rctx runctx.Context, host string) (Remote, error) {
	client, err := ssh.NewClient(host, rctx.User(), rctx.KeyPath(), rctx.SSHPort())
	if err != nil {
		return nil, err
	}

	client.ConnectTimeout = rctx.ConnectTimeout()
	return client, nil
}

// Engine executes challenge runs against VMs. It is safe for concurrent use;
// runs targeting the same VM are serialized through the lease registry.
type Engine struct {
	hypervisor    Hypervisor
	registry      *check.Registry
	leases        *vmm.LeaseRegistry
	remoteFactory RemoteFactory
	logger        logr.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRemoteFactory overrides how the engine connects to resolved VMs.
// Used by tests to substitute a fake remote.
func WithRemoteFactory(f RemoteFactory) EngineOption {
	return func(e *Engine) { e.remoteFactory = f }
}

// WithLeaseRegistry shares a lease registry across engines driving the same
// hypervisor.
func WithLeaseRegistry(l *vmm.LeaseRegistry) EngineOption {
	return func(e *Engine) { e.leases = l }
}

// WithLogger sets the logger run lifecycle events are written to.
// Without it the engine stays silent.
func WithLogger(l logr.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func New(hypervisor Hypervisor, registry *check.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		hypervisor:    hypervisor,
		registry:      registry,
		leases:        vmm.NewLeaseRegistry(),
		remoteFactory: DefaultRemoteFactory,
		logger:        logr.Discard(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RunSpec binds one challenge definition to one target VM.
type RunSpec struct {
	Definition *challenge.Definition
	VMName     string
	RunCtx     runctx.Context

	// BaselineSnapshot names the snapshot created before setup and used
	// during cleanup. Empty disables snapshotting.
	BaselineSnapshot string

	// RevertOnCleanup reverts the VM to the baseline snapshot during
	// cleanup, making runs repeatable.
	RevertOnCleanup bool

	// KeepSnapshot leaves the baseline snapshot in place after cleanup
	// instead of deleting it.
	KeepSnapshot bool

	// ActionDone signals completion of the user action when no simulation
	// command is defined. The run blocks in AwaitingAction until the
	// channel is closed or the run context is cancelled.
	ActionDone <-chan struct{}
}

// NewRun binds a run to the engine. Hints may be revealed on the returned
// Run at any point before scoring.
func (e *Engine) NewRun(spec RunSpec) *Run {
	return &Run{
		engine:        e,
		spec:          spec,
		state:         StateLoaded,
		hintsRevealed: make(map[int]struct{}),
	}
}

// RunAll executes the given runs concurrently. Runs against distinct VMs
// proceed in parallel; the per-VM lease serializes runs sharing a target.
// Every spec yields a report, in input order.
func (e *Engine) RunAll(ctx context.Context, specs []RunSpec) []*RunReport {
	reports := make([]*RunReport, len(specs))

	g := new(errgroup.Group)
	for i, spec := range specs {
		g.Go(func() error {
			reports[i] = e.NewRun(spec).Execute(ctx)
			return nil
		})
	}

	_ = g.Wait() // runs report failures through their reports, never errors
	return reports
}

// Run is a single bound challenge run. Execute may be called once.
type Run struct {
	engine *Engine
	spec   RunSpec

	mu              sync.Mutex
	state           State
	hintsRevealed   map[int]struct{}
	snapshotCreated bool
}

// State returns the run's current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RevealHint marks the hint at index as revealed and returns it. Revealing
// is monotonic: a hint's cost is deducted exactly once no matter how often
// it is requested.
func (r *Run) RevealHint(index int) (challenge.Hint, error) {
	hints := r.spec.Definition.Hints
	if index < 0 || index >= len(hints) {
		return challenge.Hint{}, fmt.Errorf("%w: index=%d len=%d", ErrHintOutOfRange, index, len(hints))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.hintsRevealed[index] = struct{}{}

	return hints[index], nil
}

func (r *Run) revealedIndexes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int, 0, len(r.hintsRevealed))
	for i := range r.hintsRevealed {
		out = append(out, i)
	}

	sort.Ints(out)
	return out
}

// Execute drives the run to a terminal state and returns its report. It
// never returns an error: failures and cancellations are folded into the
// report's outcome.
func (r *Run) Execute(ctx context.Context) *RunReport {
	rep := newRunReport(r.spec.Definition, r.spec.VMName)
	defer r.finalize(rep)

	r.transition(rep, StateLoaded, fmt.Sprintf("challenge %s bound to VM %s", r.spec.Definition.ID, r.spec.VMName))

	lease, err := r.engine.leases.Acquire(ctx, r.spec.VMName)
	if err != nil {
		if ctx.Err() != nil {
			return r.abort(rep, "cancelled while waiting for VM lease")
		}
		return r.fail(rep, err.Error())
	}
	defer lease.Release()

	remote, err := r.setUp(ctx, rep)
	if err != nil {
		r.cleanUp(rep)
		if errors.Is(err, ErrRunAborted) {
			return r.abort(rep, err.Error())
		}
		return r.fail(rep, err.Error())
	}

	if err := r.awaitAction(ctx, rep, remote); err != nil {
		r.cleanUp(rep)
		if errors.Is(err, ErrRunAborted) {
			return r.abort(rep, err.Error())
		}
		return r.fail(rep, err.Error())
	}

	finalPassed, err := r.validate(ctx, rep, remote)
	if err != nil {
		r.cleanUp(rep)
		return r.abort(rep, err.Error())
	}

	r.score(rep, finalPassed)
	r.cleanUp(rep)

	if finalPassed {
		rep.Outcome = OutcomeSuccess
		r.transition(rep, StateDone, fmt.Sprintf("final score: %d", rep.FinalScore))
	} else {
		rep.Outcome = OutcomeFailed
		rep.Message = "one or more final state checks failed"
		r.transition(rep, StateDone, rep.Message)
	}

	return rep
}

// setUp resolves the VM, waits for SSH, snapshots and runs setup steps.
func (r *Run) setUp(ctx context.Context, rep *RunReport) (Remote, error) {
	r.transition(rep, StateSettingUp, "")

	if err := r.engine.hypervisor.LookupVM(r.spec.VMName); err != nil {
		return nil, err
	}

	ip, err := r.engine.hypervisor.ResolveVMIP(r.spec.VMName)
	if err != nil {
		return nil, err
	}

	remote, err := r.engine.remoteFactory(r.spec.RunCtx, ip)
	if err != nil {
		return nil, err
	}

	if err := remote.AwaitServer(r.spec.RunCtx.ReadyTimeout(), r.spec.RunCtx.PollInterval()); err != nil {
		return nil, err
	}

	if r.spec.BaselineSnapshot != "" {
		if _, err := r.engine.hypervisor.CreateVMSnapshot(r.spec.VMName, r.spec.BaselineSnapshot); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.snapshotCreated = true
		r.mu.Unlock()
	}

	for i, step := range r.spec.Definition.Setup {
		if cancelled(ctx) {
			return nil, fmt.Errorf("%w: before setup step %d", ErrRunAborted, i)
		}

		if err := r.executeStep(remote, step); err != nil {
			return nil, fmt.Errorf("%w: step=%d type=%s: %v", ErrSetupFailed, i, step.Type, err)
		}
	}

	return remote, nil
}

// executeStep runs one setup step to completion. A timeout or a non-zero
// exit status fails the step.
func (r *Run) executeStep(remote Remote, step challenge.Step) error {
	var command string
	switch step.Type {
	case challenge.StepRunCommand:
		command = step.Command
	case challenge.StepEnsurePackageInstalled:
		command = installCommand(step.Package)
	default:
		return fmt.Errorf("unknown step type: %s", step.Type)
	}

	res, err := remote.Run(command, ssh.RunOptions{Timeout: r.spec.RunCtx.CommandTimeout()})
	if err != nil {
		return err
	}
	if res.TimedOut() {
		return errors.New(res.Err)
	}
	if res.ExitStatus == nil || *res.ExitStatus != 0 {
		return fmt.Errorf("command exited with status %d: %s", exitStatus(res), res.Stderr)
	}

	return nil
}

// awaitAction runs the simulation command when the challenge defines one,
// otherwise blocks until the caller signals completion.
func (r *Run) awaitAction(ctx context.Context, rep *RunReport, remote Remote) error {
	r.transition(rep, StateAwaitingAction, "")

	if sim := r.spec.Definition.UserActionSimulation; sim != "" {
		res, err := remote.Run(sim, ssh.RunOptions{Timeout: r.spec.RunCtx.CommandTimeout()})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUserActionFailed, err)
		}
		if res.TimedOut() {
			return fmt.Errorf("%w: %s", ErrUserActionFailed, res.Err)
		}
		if status := exitStatus(res); status != 0 {
			return fmt.Errorf("%w: exited with status %d: %s", ErrUserActionFailed, status, res.Stderr)
		}
		return nil
	}

	if r.spec.ActionDone == nil {
		return fmt.Errorf("%w: no simulation command and no completion signal", ErrUserActionFailed)
	}

	select {
	case <-r.spec.ActionDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: while awaiting user action", ErrRunAborted)
	}
}

// validate executes every configured check. All checks run even after
// failures so the report covers the full list; only final state checks gate
// the score.
func (r *Run) validate(ctx context.Context, rep *RunReport, remote Remote) (bool, error) {
	r.transition(rep, StateValidating, "")

	finalPassed := true
	for _, c := range r.spec.Definition.Validation.FinalStateChecks {
		if cancelled(ctx) {
			return false, fmt.Errorf("%w: during validation", ErrRunAborted)
		}

		res := r.engine.registry.Execute(remote, c)
		rep.CheckResults = append(rep.CheckResults, CheckResult{Result: res})
		observeCheck(res)

		if !res.Passed {
			finalPassed = false
		}
	}

	for _, c := range r.spec.Definition.Validation.ProcessValidationChecks {
		if cancelled(ctx) {
			return false, fmt.Errorf("%w: during validation", ErrRunAborted)
		}

		res := r.engine.registry.Execute(remote, c)
		rep.CheckResults = append(rep.CheckResults, CheckResult{Result: res, Process: true})
		observeCheck(res)
	}

	return finalPassed, nil
}

func (r *Run) score(rep *RunReport, finalPassed bool) {
	rep.HintsRevealed = r.revealedIndexes()
	rep.FinalScore = computeScore(r.spec.Definition, finalPassed, rep.HintsRevealed)

	if finalPassed {
		rep.Flag = r.spec.Definition.Flag
	}

	r.transition(rep, StateScored, fmt.Sprintf("score=%d hints_revealed=%d", rep.FinalScore, len(rep.HintsRevealed)))
}

// cleanUp reverts and removes the baseline snapshot according to the spec.
// Cleanup errors are recorded on the timeline but never change the outcome
// or score.
func (r *Run) cleanUp(rep *RunReport) {
	r.mu.Lock()
	created := r.snapshotCreated
	r.mu.Unlock()

	if !created {
		return
	}

	r.transition(rep, StateCleaningUp, "")

	if r.spec.RevertOnCleanup {
		if err := r.engine.hypervisor.RevertVMSnapshot(r.spec.VMName, r.spec.BaselineSnapshot); err != nil {
			r.engine.logger.Error(err, "failed to revert snapshot during cleanup",
				"vm", r.spec.VMName, "snapshot", r.spec.BaselineSnapshot)
			rep.Events = append(rep.Events, Event{
				Timestamp: time.Now(),
				State:     StateCleaningUp,
				Details:   fmt.Sprintf("snapshot revert failed: %v", err),
			})
		}
	}

	if !r.spec.KeepSnapshot {
		if err := r.engine.hypervisor.DeleteVMSnapshot(r.spec.VMName, r.spec.BaselineSnapshot); err != nil {
			r.engine.logger.Error(err, "failed to delete snapshot during cleanup",
				"vm", r.spec.VMName, "snapshot", r.spec.BaselineSnapshot)
			rep.Events = append(rep.Events, Event{
				Timestamp: time.Now(),
				State:     StateCleaningUp,
				Details:   fmt.Sprintf("snapshot delete failed: %v", err),
			})
		}
	}
}

func (r *Run) fail(rep *RunReport, message string) *RunReport {
	rep.Outcome = OutcomeFailed
	rep.Message = message
	rep.FinalScore = 0
	r.transition(rep, StateFailed, message)
	return rep
}

func (r *Run) abort(rep *RunReport, message string) *RunReport {
	rep.Outcome = OutcomeAborted
	rep.Message = message
	rep.FinalScore = 0
	r.transition(rep, StateAborted, message)
	return rep
}

func (r *Run) transition(rep *RunReport, state State, details string) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()

	rep.Events = append(rep.Events, Event{Timestamp: time.Now(), State: state, Details: details})

	r.engine.logger.Info("run state transition",
		"run_id", rep.RunID,
		"challenge_id", rep.ChallengeID,
		"vm", rep.VMName,
		"state", string(state),
		"details", details)
}

func (r *Run) finalize(rep *RunReport) {
	rep.EndTime = time.Now()
	observeRun(rep)
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func exitStatus(res *ssh.Result) int {
	if res.ExitStatus == nil {
		return -1
	}
	return *res.ExitStatus
}

// installCommand builds a step command installing a package on either
// apt or dnf based guests.
func installCommand(pkg string) string {
	q := quote(pkg)
	return fmt.Sprintf(
		"if command -v apt-get >/dev/null 2>&1; then sudo apt-get install -y %s; else sudo dnf install -y %s; fi",
		q, q)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
