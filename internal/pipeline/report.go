package pipeline

import (
	"time"

	"marketflow/pkg/models"
)

// StepStatus is the outcome of one step
type StepStatus string

const (
	StatusSucceeded StepStatus = "succeeded"
	StatusFailed    StepStatus = "failed"
)

type StepResult struct {
	Name     string
	Status   StepStatus
	Rows     int64
	Duration time.Duration
	Err      error
}

// Report is what a run did
type Report struct {
	RunID      string
	AsOf       time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepResult
	Checks     []models.CheckResult
}

func (r *Report) add(result StepResult) {
	r.Steps = append(r.Steps, result)
}

// Failed reports whether any step failed
func (r *Report) Failed() bool {
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}

// FailedChecks returns the checks that did not pass
func (r *Report) FailedChecks() []models.CheckResult {
	var failed []models.CheckResult
	for _, c := range r.Checks {
		if c.Status != models.CheckPassed {
			failed = append(failed, c)
		}
	}
	return failed
}
