package executor

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a task within one run
type TaskStatus int

const (
	StatusPending TaskStatus = iota
	StatusRunning
	StatusSuccess
	StatusFailed
	StatusSkipped
	// StatusUpForRetry marks a failed attempt waiting out its backoff. The task
	// returns to pending once the backoff elapses.
	StatusUpForRetry
)

var statusNames = map[TaskStatus]string{
	StatusPending:    "pending",
	StatusRunning:    "running",
	StatusSuccess:    "success",
	StatusFailed:     "failed",
	StatusSkipped:    "skipped",
	StatusUpForRetry: "up_for_retry",
}

func (s TaskStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TaskStatus(%d)", int(s))
}

// IsTerminal reports whether no further transitions can happen in this run
func (s TaskStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TaskStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseTaskStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseTaskStatus is the inverse of TaskStatus.String
func ParseTaskStatus(name string) (TaskStatus, error) {
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return StatusPending, fmt.Errorf("unknown task status %q", name)
}

// RunStatus is the status of a whole pipeline run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run has finished
func (s RunStatus) IsTerminal() bool {
	return s == RunSuccess || s == RunFailed || s == RunCancelled
}

// Transition is a single status change of one task
type Transition struct {
	RunID   string     `json:"run_id"`
	Task    string     `json:"task"`
	From    TaskStatus `json:"from"`
	To      TaskStatus `json:"to"`
	Attempt int        `json:"attempt"`
	At      time.Time  `json:"at"`
	Err     error      `json:"-"`
}

// StatusListener observes every transition. Listeners are called from the
// executor's coordinator goroutine and must not block.
type StatusListener func(Transition)
