package runner

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reportmill/internal/artifact"
	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/report"
	"github.com/reportmill/internal/store"
)

var testDBSeq atomic.Uint64

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:runnertest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ReportSchedule{}, &models.ReportRun{}))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type fakeReports struct {
	err    error
	panics bool
	result *report.Result
}

func (f *fakeReports) Generate(req report.Request) (*report.Result, error) {
	if f.panics {
		panic("generator exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &report.Result{
		Filename:    fmt.Sprintf("%s-%s.%s", req.Kind, req.Now.Format("2006-01-02"), req.Format),
		ContentType: "text/csv",
		Data:        []byte("id,name\n1,test\n"),
	}, nil
}

type fakeTransport struct {
	rawToken string
	fail     map[string]error
	calls    int
}

func (f *fakeTransport) DeliverReport(sch *models.ReportSchedule, run *models.ReportRun, rawToken string) ([]string, map[string]error) {
	f.calls++
	f.rawToken = rawToken
	var delivered []string
	failures := make(map[string]error)
	for _, r := range sch.Recipients {
		if err, ok := f.fail[r]; ok {
			failures[r] = err
			continue
		}
		delivered = append(delivered, r)
	}
	return delivered, failures
}

type fakeNotifier struct {
	failures int
}

func (f *fakeNotifier) NotifyRunFailure(sch *models.ReportSchedule, run *models.ReportRun) error {
	f.failures++
	return nil
}

type fakeObserver struct {
	observations []string
	panics       bool
}

func (f *fakeObserver) ObserveRun(reportKind, outcome string, elapsed time.Duration) {
	if f.panics {
		panic("metrics backend down")
	}
	f.observations = append(f.observations, reportKind+"/"+outcome)
}

type fixture struct {
	db        *gorm.DB
	schedules *store.ScheduleStore
	runs      *store.RunStore
	reports   *fakeReports
	transport *fakeTransport
	notifier  *fakeNotifier
	observer  *fakeObserver
	executor  *Executor
}

func newFixture(t *testing.T) *fixture {
	db := openTestDB(t)
	f := &fixture{
		db:        db,
		schedules: store.NewScheduleStore(db, 10*time.Minute),
		runs:      store.NewRunStore(db),
		reports:   &fakeReports{},
		transport: &fakeTransport{},
		notifier:  &fakeNotifier{},
		observer:  &fakeObserver{},
	}
	f.executor = NewExecutor(f.schedules, f.runs, f.reports, f.transport, f.notifier, f.observer, 30*24*time.Hour)
	return f
}

func (f *fixture) createSchedule(t *testing.T, name string, recipients ...string) *models.ReportSchedule {
	t.Helper()
	if len(recipients) == 0 {
		recipients = []string{"ops@example.com"}
	}
	sch := &models.ReportSchedule{
		Name:       name,
		ReportKind: report.KindRunActivity,
		Cadence:    models.CadenceDaily,
		TimeOfDay:  "09:00",
		Format:     models.FormatCSV,
		Recipients: recipients,
		Enabled:    true,
	}
	require.NoError(t, f.schedules.Create(sch, time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)))
	return sch
}

func TestExecuteSuccess(t *testing.T) {
	f := newFixture(t)
	sch := f.createSchedule(t, "success")
	now := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)

	result := f.executor.Execute(sch, now)
	assert.Equal(t, models.RunStatusSuccess, result.Status)
	require.NotZero(t, result.RunID)

	run, err := f.runs.Get(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Empty(t, run.Error)
	assert.NotEmpty(t, run.OutputBytes)
	assert.Equal(t, artifact.EncodingGzip, run.Encoding)
	assert.Equal(t, int64(len("id,name\n1,test\n")), run.RawSize)
	assert.Equal(t, []string{"ops@example.com"}, run.DeliveredTo)
	require.NotNil(t, run.FinishedAt)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	// Stored artifact decodes back to the generator output.
	decoded, err := artifact.Decompress(run.OutputBytes, run.Encoding)
	require.NoError(t, err)
	assert.Equal(t, []byte("id,name\n1,test\n"), decoded)

	// The raw token went to the transport, only its hash was stored.
	require.NotEmpty(t, f.transport.rawToken)
	assert.NotEqual(t, f.transport.rawToken, run.TokenHash)
	assert.True(t, artifact.VerifyToken(f.transport.rawToken, run.TokenHash))
	require.NotNil(t, run.TokenExpiresAt)
	assert.True(t, run.TokenExpiresAt.Equal(now.Add(30*24*time.Hour)))

	// Schedule advanced past now.
	got, err := f.schedules.Get(sch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.UTC().Equal(now))
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(now))

	assert.Equal(t, []string{"run-activity/success"}, f.observer.observations)
	assert.Zero(t, f.notifier.failures)
}

func TestExecuteGenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.reports.err = errors.New("upstream data source unavailable")
	sch := f.createSchedule(t, "failing")
	now := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)

	result := f.executor.Execute(sch, now)
	assert.Equal(t, models.RunStatusFailure, result.Status)

	run, err := f.runs.Get(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailure, run.Status)
	assert.Contains(t, run.Error, "upstream data source unavailable")
	assert.Empty(t, run.OutputBytes)
	assert.Empty(t, run.TokenHash)
	assert.Empty(t, run.DeliveredTo)

	// Failure still advances the schedule: no tight retry loop.
	got, err := f.schedules.Get(sch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(now))

	assert.Zero(t, f.transport.calls)
	assert.Equal(t, 1, f.notifier.failures)
	assert.Equal(t, []string{"run-activity/failure"}, f.observer.observations)
}

func TestExecuteGeneratorPanicBecomesFailure(t *testing.T) {
	f := newFixture(t)
	f.reports.panics = true
	sch := f.createSchedule(t, "panicking")

	result := f.executor.Execute(sch, time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, models.RunStatusFailure, result.Status)

	run, err := f.runs.Get(result.RunID)
	require.NoError(t, err)
	assert.Contains(t, run.Error, "generator exploded")
}

func TestExecutePartialDeliveryIsStillSuccess(t *testing.T) {
	f := newFixture(t)
	f.transport.fail = map[string]error{"bounce@example.com": errors.New("mailbox full")}
	sch := f.createSchedule(t, "partial", "ops@example.com", "bounce@example.com", "dev@example.com")

	result := f.executor.Execute(sch, time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, models.RunStatusSuccess, result.Status)

	run, err := f.runs.Get(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, run.DeliveredTo)
}

func TestExecuteRunRecordFailureCountsInMetrics(t *testing.T) {
	f := newFixture(t)
	sch := f.createSchedule(t, "no-run-row")
	now := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)

	// Creating the run record fails outright.
	require.NoError(t, f.db.Migrator().DropTable(&models.ReportRun{}))

	result := f.executor.Execute(sch, now)
	assert.Equal(t, models.RunStatusFailure, result.Status)
	assert.Zero(t, result.RunID)

	// The failure is still counted, and the schedule still advances.
	assert.Equal(t, []string{"run-activity/failure"}, f.observer.observations)
	got, err := f.schedules.Get(sch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(now))
}

func TestExecuteSurvivesMetricsPanic(t *testing.T) {
	f := newFixture(t)
	f.observer.panics = true
	sch := f.createSchedule(t, "metrics-down")

	result := f.executor.Execute(sch, time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, models.RunStatusSuccess, result.Status)
}

func TestRunDueTally(t *testing.T) {
	f := newFixture(t)
	dueRunner := NewRunner(f.schedules, f.executor)

	f.createSchedule(t, "good")
	bad := f.createSchedule(t, "bad")
	bad.ReportKind = report.KindScheduleInventory
	require.NoError(t, f.db.Save(bad).Error)

	// Fail only the second schedule's report kind.
	original := f.reports
	f.executor.reports = reportSourceFunc(func(req report.Request) (*report.Result, error) {
		if req.Kind == report.KindScheduleInventory {
			return nil, errors.New("no inventory today")
		}
		return original.Generate(req)
	})

	summary, err := dueRunner.RunDue(10, time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 2, Success: 1, Failure: 1}, summary)
}

func TestRunDueRespectsLimit(t *testing.T) {
	f := newFixture(t)
	dueRunner := NewRunner(f.schedules, f.executor)

	f.createSchedule(t, "one")
	f.createSchedule(t, "two")

	now := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)
	summary, err := dueRunner.RunDue(1, now)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Success: 1}, summary)

	// The other schedule is still due for the next invocation.
	summary, err = dueRunner.RunDue(1, now)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Success: 1}, summary)

	// Nothing left.
	summary, err = dueRunner.RunDue(1, now)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
}

type reportSourceFunc func(req report.Request) (*report.Result, error)

func (f reportSourceFunc) Generate(req report.Request) (*report.Result, error) {
	return f(req)
}
