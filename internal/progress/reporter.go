package progress

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maxkimambo/bqflow/internal/executor"
	"github.com/maxkimambo/bqflow/internal/logger"
)

// ProgressInfo is a point-in-time view of a run
type ProgressInfo struct {
	TotalTasks        int
	CompletedTasks    int
	FailedTasks       int
	SkippedTasks      int
	RunningTasks      []string
	Retries           int
	ElapsedTime       time.Duration
	EstimatedTimeLeft time.Duration
}

// Reporter turns task transitions into user-facing progress lines
type Reporter struct {
	total          int
	statuses       map[string]executor.TaskStatus
	started        map[string]time.Time
	retries        int
	startTime      time.Time
	lastReportTime time.Time
	reportInterval time.Duration
	mu             sync.Mutex
}

// NewReporter creates a reporter for a run of total tasks
func NewReporter(total int) *Reporter {
	now := time.Now()
	return &Reporter{
		total:          total,
		statuses:       make(map[string]executor.TaskStatus),
		started:        make(map[string]time.Time),
		startTime:      now,
		lastReportTime: now,
		reportInterval: 5 * time.Second,
	}
}

// Listener reports each transition and, at most every report interval, the
// overall progress
func (r *Reporter) Listener() executor.StatusListener {
	return func(t executor.Transition) {
		r.mu.Lock()
		r.statuses[t.Task] = t.To
		var took time.Duration
		switch t.To {
		case executor.StatusRunning:
			r.started[t.Task] = t.At
		case executor.StatusUpForRetry:
			r.retries++
		case executor.StatusSuccess, executor.StatusFailed:
			if start, ok := r.started[t.Task]; ok {
				took = t.At.Sub(start)
			}
		}
		r.mu.Unlock()

		switch t.To {
		case executor.StatusRunning:
			if t.Attempt > 1 {
				logger.User.Startingf("%s (attempt %d)", t.Task, t.Attempt)
			} else {
				logger.User.Startingf("%s", t.Task)
			}
		case executor.StatusSuccess:
			logger.User.Successf("%s completed in %s", t.Task, FormatDuration(took))
		case executor.StatusUpForRetry:
			logger.User.Retryf("%s failed on attempt %d, will retry: %v", t.Task, t.Attempt, t.Err)
		case executor.StatusFailed:
			logger.User.Errorf("%s failed after %d attempt(s): %v", t.Task, t.Attempt, t.Err)
		case executor.StatusSkipped:
			logger.User.Skipf("%s skipped", t.Task)
		}

		if r.ShouldReport() {
			logger.User.Info(r.Report(r.Snapshot()))
		}
	}
}

// ShouldReport returns true if it's time to report progress
func (r *Reporter) ShouldReport() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastReportTime) >= r.reportInterval
}

// Snapshot summarizes the transitions seen so far
func (r *Reporter) Snapshot() ProgressInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := ProgressInfo{
		TotalTasks:  r.total,
		Retries:     r.retries,
		ElapsedTime: time.Since(r.startTime),
	}
	for task, status := range r.statuses {
		switch status {
		case executor.StatusSuccess:
			info.CompletedTasks++
		case executor.StatusFailed:
			info.FailedTasks++
		case executor.StatusSkipped:
			info.SkippedTasks++
		case executor.StatusRunning:
			info.RunningTasks = append(info.RunningTasks, task)
		}
	}
	sort.Strings(info.RunningTasks)
	info.EstimatedTimeLeft = CalculateETA(info.CompletedTasks, r.total, info.ElapsedTime)
	return info
}

// Report generates a formatted progress report
func (r *Reporter) Report(info ProgressInfo) string {
	r.mu.Lock()
	r.lastReportTime = time.Now()
	r.mu.Unlock()

	var sb strings.Builder

	percentage := 0.0
	if info.TotalTasks > 0 {
		percentage = float64(info.CompletedTasks) / float64(info.TotalTasks) * 100
	}

	sb.WriteString(fmt.Sprintf("Progress: %d/%d tasks completed (%.1f%%)",
		info.CompletedTasks, info.TotalTasks, percentage))
	if info.FailedTasks > 0 {
		sb.WriteString(fmt.Sprintf(", %d failed", info.FailedTasks))
	}
	if info.SkippedTasks > 0 {
		sb.WriteString(fmt.Sprintf(", %d skipped", info.SkippedTasks))
	}
	sb.WriteString(fmt.Sprintf(" | Elapsed: %s", FormatDuration(info.ElapsedTime)))
	if info.EstimatedTimeLeft > 0 {
		sb.WriteString(fmt.Sprintf(" | ETA: %s", FormatDuration(info.EstimatedTimeLeft)))
	}
	if len(info.RunningTasks) > 0 {
		sb.WriteString(fmt.Sprintf("\n   Running: %s", strings.Join(info.RunningTasks, ", ")))
	}
	if info.Retries > 0 {
		sb.WriteString(fmt.Sprintf("\n   Retries so far: %d", info.Retries))
	}

	return sb.String()
}

// CalculateETA estimates time remaining based on current progress
func CalculateETA(completed, total int, elapsed time.Duration) time.Duration {
	if completed <= 0 || total <= 0 || completed >= total {
		return 0
	}

	averageTimePerTask := elapsed / time.Duration(completed)
	remainingTasks := total - completed
	return averageTimePerTask * time.Duration(remainingTasks)
}

// FormatDuration formats a duration in a user-friendly way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
