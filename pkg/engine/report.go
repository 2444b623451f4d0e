package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/alexandremahdhaoui/labforge/pkg/challenge"
	"github.com/alexandremahdhaoui/labforge/pkg/check"
)

// Outcome is the terminal classification of a run.
type Outcome string

const (
	// OutcomeSuccess means the workflow completed and every final state
	// check passed.
	OutcomeSuccess Outcome = "Success"

	// OutcomeFailed means the workflow completed with failing final state
	// checks, or an engine step errored before validation.
	OutcomeFailed Outcome = "Failed"

	// OutcomeAborted means cancellation was observed at a step boundary.
	OutcomeAborted Outcome = "Aborted"
)

// CheckResult pairs a check result with whether it came from the
// informational process-level check list.
type CheckResult struct {
	Result check.Result `json:"result"`

	// Process is true for process-level checks, which never gate the score.
	Process bool `json:"process"`
}

// Event is one entry of the run's state transition timeline.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
	Details   string    `json:"details,omitempty"`
}

// RunReport is the complete outcome of one challenge run. A report is
// always produced, including for failed and aborted runs.
type RunReport struct {
	RunID         string `json:"run_id"`
	ChallengeID   string `json:"challenge_id"`
	ChallengeName string `json:"challenge_name"`
	VMName        string `json:"vm_name"`

	CheckResults []CheckResult `json:"check_results,omitempty"`

	// HintsRevealed holds the indexes of hints revealed before scoring,
	// in ascending order.
	HintsRevealed []int `json:"hints_revealed,omitempty"`

	// FinalScore is the awarded score. Zero whenever any final state check
	// failed or the run did not reach scoring.
	FinalScore int `json:"final_score"`

	Outcome Outcome `json:"outcome"`

	// Message describes why a run failed or was aborted. Empty on success.
	Message string `json:"message,omitempty"`

	// Flag is the completion flag, set only when the challenge defines one
	// and every final state check passed.
	Flag string `json:"flag,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// Events is the ordered state transition timeline.
	Events []Event `json:"events"`
}

func newRunReport(def *challenge.Definition, vmName string) *RunReport {
	return &RunReport{
		RunID:         uuid.NewString(),
		ChallengeID:   def.ID,
		ChallengeName: def.Name,
		VMName:        vmName,
		StartTime:     time.Now(),
	}
}

// computeScore applies the scoring rule: a run scores zero unless every
// final state check passed; otherwise the base score minus the cost of each
// revealed hint, floored at zero.
func computeScore(def *challenge.Definition, finalPassed bool, revealed []int) int {
	if !finalPassed {
		return 0
	}

	score := def.Score
	for _, i := range revealed {
		score -= def.Hints[i].Cost
	}

	if score < 0 {
		return 0
	}
	return score
}
