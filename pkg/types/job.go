package types

import "time"

// Job represents a user-defined scheduled job as stored by the panel
type Job struct {
	ID       int64      `json:"id" yaml:"id" db:"id"`
	Owner    string     `json:"owner" yaml:"owner" db:"username"`
	Schedule string     `json:"schedule" yaml:"schedule" db:"schedule"`
	Command  string     `json:"command" yaml:"command" db:"command"`
	Enabled  bool       `json:"enabled" yaml:"enabled" db:"enabled"`
	LastRun  *time.Time `json:"last_run,omitempty" yaml:"last_run,omitempty" db:"last_run"`

	LastExitCode *int   `json:"last_exit_code,omitempty" yaml:"last_exit_code,omitempty" db:"last_exit_code"`
	LastOutput   string `json:"last_output,omitempty" yaml:"last_output,omitempty" db:"last_output"`
}

// RunSummary is what gets persisted about a single execution
type RunSummary struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

// State is the terminal state a job reaches during one driver invocation
type State string

const (
	StateSkippedInvalidSchedule     State = "skipped_invalid_schedule"
	StateSkippedNotDue              State = "skipped_not_due"
	StateSkippedInvalidCommandShape State = "skipped_invalid_command_shape"
	StateSkippedOutsideSandbox      State = "skipped_outside_sandbox"
	StateSkippedLocked              State = "skipped_locked"
	StateExecuted                   State = "executed"
)

// Skipped reports whether the state is one of the skip variants
func (s State) Skipped() bool {
	return s != StateExecuted
}

// Outcome is the per-job result of one driver invocation
type Outcome struct {
	JobID    int64     `json:"job_id"`
	Owner    string    `json:"owner"`
	Schedule string    `json:"schedule"`
	State    State     `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	ExitCode *int      `json:"exit_code,omitempty"`
	Output   []string  `json:"output,omitempty"`
	Started  time.Time `json:"started_at,omitempty"`
	Duration string    `json:"duration,omitempty"`
}

// Report summarizes one driver invocation
type Report struct {
	Now      time.Time `json:"now"`
	Outcomes []Outcome `json:"outcomes"`
}

// Count returns how many outcomes reached the given state
func (r *Report) Count(state State) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}
