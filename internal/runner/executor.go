package runner

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reportmill/internal/artifact"
	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/report"
	"github.com/reportmill/internal/store"
)

// ReportSource produces the uncompressed report artifact for a request.
// Satisfied by report.Registry.
type ReportSource interface {
	Generate(req report.Request) (*report.Result, error)
}

// Transport delivers a finished report to the schedule's recipients and
// returns the subset that succeeded. Satisfied by delivery.Mailer.
type Transport interface {
	DeliverReport(sch *models.ReportSchedule, run *models.ReportRun, rawToken string) (delivered []string, failures map[string]error)
}

// FailureNotifier is told about failed runs. Satisfied by
// notify.SlackNotifier; may be nil.
type FailureNotifier interface {
	NotifyRunFailure(sch *models.ReportSchedule, run *models.ReportRun) error
}

// Observer records run outcome metrics. Satisfied by metrics.RunMetrics;
// may be nil.
type Observer interface {
	ObserveRun(reportKind, outcome string, elapsed time.Duration)
}

// Result is what Execute always returns: the run's id (0 if the run row
// itself could not be created) and its terminal status.
type Result struct {
	RunID  uint
	Status models.RunStatus
}

// Executor drives one schedule through a single run: create the run row,
// generate, compress, mint the download token, deliver, persist the
// terminal state, then advance the schedule. Errors never escape Execute;
// every path ends in a terminal run status.
type Executor struct {
	schedules *store.ScheduleStore
	runs      *store.RunStore
	reports   ReportSource
	transport Transport
	notifier  FailureNotifier
	observer  Observer
	tokenTTL  time.Duration
}

func NewExecutor(
	schedules *store.ScheduleStore,
	runs *store.RunStore,
	reports ReportSource,
	transport Transport,
	notifier FailureNotifier,
	observer Observer,
	tokenTTL time.Duration,
) *Executor {
	if tokenTTL <= 0 {
		tokenTTL = 30 * 24 * time.Hour
	}
	return &Executor{
		schedules: schedules,
		runs:      runs,
		reports:   reports,
		transport: transport,
		notifier:  notifier,
		observer:  observer,
		tokenTTL:  tokenTTL,
	}
}

// Execute runs one claimed schedule. The schedule's NextRunAt advances on
// success and failure alike, so a broken schedule retries on its next
// occurrence instead of tight-looping.
func (e *Executor) Execute(sch *models.ReportSchedule, now time.Time) Result {
	log := logrus.WithFields(logrus.Fields{
		"schedule_id": sch.ID,
		"report":      sch.ReportKind,
	})

	run, err := e.runs.Begin(sch.ID, now)
	if err != nil {
		log.WithError(err).Error("failed to create run record")
		e.advance(sch, now, log)
		e.observe(sch.ReportKind, string(models.RunStatusFailure), 0)
		return Result{Status: models.RunStatusFailure}
	}
	log = log.WithField("run_id", run.ID)

	e.executeRun(sch, run)

	finished := time.Now()
	run.FinishedAt = &finished
	if err := e.runs.Complete(run); err != nil {
		// A run whose terminal write failed must not count as success.
		log.WithError(err).Error("failed to persist run outcome")
		run.Status = models.RunStatusFailure
	}

	e.advance(sch, now, log)
	e.observe(sch.ReportKind, string(run.Status), finished.Sub(run.StartedAt))

	if run.Status == models.RunStatusFailure {
		log.WithField("error", run.Error).Warn("run failed")
		if e.notifier != nil {
			if err := e.notifier.NotifyRunFailure(sch, run); err != nil {
				log.WithError(err).Warn("failure notification not sent")
			}
		}
	} else {
		log.WithField("delivered", len(run.DeliveredTo)).Info("run succeeded")
	}

	return Result{RunID: run.ID, Status: run.Status}
}

// executeRun fills in the run's terminal fields: artifact + token hash on
// success, error message on failure. It does not persist.
func (e *Executor) executeRun(sch *models.ReportSchedule, run *models.ReportRun) {
	result, err := e.generate(report.Request{
		Kind:   sch.ReportKind,
		Scope:  sch.Scope,
		Format: sch.Format,
		Now:    run.StartedAt,
	})
	if err != nil {
		run.Status = models.RunStatusFailure
		run.Error = fmt.Sprintf("report generation failed: %v", err)
		return
	}

	encoded, encoding, err := artifact.Compress(result.Data)
	if err != nil {
		run.Status = models.RunStatusFailure
		run.Error = fmt.Sprintf("artifact compression failed: %v", err)
		return
	}

	rawToken, tokenHash, err := artifact.MintToken()
	if err != nil {
		run.Status = models.RunStatusFailure
		run.Error = fmt.Sprintf("download token minting failed: %v", err)
		return
	}

	expiresAt := run.StartedAt.Add(e.tokenTTL)
	run.Filename = result.Filename
	run.ContentType = result.ContentType
	run.OutputBytes = encoded
	run.Encoding = encoding
	run.RawSize = int64(len(result.Data))
	run.TokenHash = tokenHash
	run.TokenExpiresAt = &expiresAt
	run.Status = models.RunStatusSuccess

	// Partial delivery still counts as success; the shorter DeliveredTo
	// list is the record of what actually went out.
	if e.transport != nil {
		delivered, _ := e.transport.DeliverReport(sch, run, rawToken)
		run.DeliveredTo = delivered
	}
}

// generate shields the executor from a panicking report generator.
func (e *Executor) generate(req report.Request) (result *report.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("report generator panic: %v", r)
		}
	}()
	return e.reports.Generate(req)
}

func (e *Executor) advance(sch *models.ReportSchedule, now time.Time, log *logrus.Entry) {
	if err := e.schedules.Complete(sch, now); err != nil {
		log.WithError(err).Error("failed to advance schedule")
	}
}

// observe is best-effort: a misbehaving metrics backend must never alter
// a run's outcome.
func (e *Executor) observe(reportKind, outcome string, elapsed time.Duration) {
	if e.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Warn("metrics observation failed")
		}
	}()
	e.observer.ObserveRun(reportKind, outcome, elapsed)
}
