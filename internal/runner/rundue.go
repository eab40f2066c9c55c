package runner

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/store"
)

// Summary is the aggregate outcome of one trigger invocation.
type Summary struct {
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Failure   int `json:"failure"`
}

// Runner claims due schedules and executes each claimed one. It is the
// entry point for both the HTTP trigger endpoint and the in-process cron
// loop; overlapping invocations partition the due set via ClaimDue.
type Runner struct {
	schedules *store.ScheduleStore
	executor  *Executor
}

func NewRunner(schedules *store.ScheduleStore, executor *Executor) *Runner {
	return &Runner{schedules: schedules, executor: executor}
}

// RunDue claims up to limit due schedules and runs them sequentially. A
// failed run never prevents the remaining claimed schedules from being
// processed; the only error returned is a claim-time storage failure.
func (r *Runner) RunDue(limit int, now time.Time) (Summary, error) {
	claimed, err := r.schedules.ClaimDue(limit, now)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for i := range claimed {
		result := r.executor.Execute(&claimed[i], now)
		summary.Processed++
		if result.Status == models.RunStatusSuccess {
			summary.Success++
		} else {
			summary.Failure++
		}
	}

	if summary.Processed > 0 {
		logrus.WithFields(logrus.Fields{
			"processed": summary.Processed,
			"success":   summary.Success,
			"failure":   summary.Failure,
		}).Info("due schedules processed")
	}
	return summary, nil
}
