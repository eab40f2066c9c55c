package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/reportmill/internal/models"
)

// Known report kinds. The set is closed: schedules referencing anything
// else are rejected at creation time.
const (
	KindRunActivity       = "run-activity"
	KindScheduleInventory = "schedule-inventory"
)

func KnownKind(kind string) bool {
	switch kind {
	case KindRunActivity, KindScheduleInventory:
		return true
	}
	return false
}

// Request identifies one report to produce.
type Request struct {
	Kind   string
	Scope  string
	Format models.OutputFormat
	Now    time.Time
}

// Result is the produced artifact, uncompressed.
type Result struct {
	Filename    string
	ContentType string
	Data        []byte
}

type generateFunc func(req Request) ([]row, error)

type row struct {
	cells  []string
	object map[string]interface{}
}

// Registry resolves a report kind to its generator once, at the
// execution boundary, and renders the result in the requested format.
type Registry struct {
	db         *gorm.DB
	generators map[string]generateFunc
}

func NewRegistry(db *gorm.DB) *Registry {
	r := &Registry{db: db, generators: make(map[string]generateFunc)}
	r.generators[KindRunActivity] = r.runActivity
	r.generators[KindScheduleInventory] = r.scheduleInventory
	return r
}

func (r *Registry) Generate(req Request) (*Result, error) {
	gen, ok := r.generators[req.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown report kind: %s", req.Kind)
	}
	if !req.Format.Valid() {
		return nil, fmt.Errorf("unknown output format: %s", req.Format)
	}

	header, err := headerFor(req.Kind)
	if err != nil {
		return nil, err
	}
	rows, err := gen(req)
	if err != nil {
		return nil, fmt.Errorf("generate %s report: %w", req.Kind, err)
	}

	data, contentType, err := render(req.Format, header, rows)
	if err != nil {
		return nil, err
	}

	return &Result{
		Filename:    fmt.Sprintf("%s-%s.%s", req.Kind, req.Now.Format("2006-01-02"), req.Format),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func headerFor(kind string) ([]string, error) {
	switch kind {
	case KindRunActivity:
		return []string{"schedule_id", "schedule_name", "report_kind", "runs", "success", "failure", "last_run_at", "avg_duration_seconds"}, nil
	case KindScheduleInventory:
		return []string{"id", "name", "report_kind", "cadence", "time_of_day", "format", "recipients", "enabled", "last_run_at", "next_run_at"}, nil
	default:
		return nil, fmt.Errorf("unknown report kind: %s", kind)
	}
}

// runActivity summarizes the last 30 days of runs per schedule, busiest
// schedules first.
func (r *Registry) runActivity(req Request) ([]row, error) {
	since := req.Now.AddDate(0, 0, -30)

	schedules, err := r.scopedSchedules(req.Scope)
	if err != nil {
		return nil, err
	}

	var runs []models.ReportRun
	if err := r.db.Omit("output_bytes").
		Where("started_at >= ?", since).
		Find(&runs).Error; err != nil {
		return nil, err
	}

	type activity struct {
		runs, success, failure int
		lastRun                time.Time
		totalDuration          time.Duration
		finished               int
	}
	perSchedule := make(map[uint]*activity)
	for _, run := range runs {
		a, ok := perSchedule[run.ScheduleID]
		if !ok {
			a = &activity{}
			perSchedule[run.ScheduleID] = a
		}
		a.runs++
		switch run.Status {
		case models.RunStatusSuccess:
			a.success++
		case models.RunStatusFailure:
			a.failure++
		}
		if run.StartedAt.After(a.lastRun) {
			a.lastRun = run.StartedAt
		}
		if run.FinishedAt != nil {
			a.totalDuration += run.FinishedAt.Sub(run.StartedAt)
			a.finished++
		}
	}

	var rows []row
	for _, sch := range schedules {
		a := perSchedule[sch.ID]
		if a == nil {
			a = &activity{}
		}
		var avgSeconds float64
		if a.finished > 0 {
			avgSeconds = (a.totalDuration / time.Duration(a.finished)).Seconds()
		}
		lastRun := ""
		if !a.lastRun.IsZero() {
			lastRun = a.lastRun.Format(time.RFC3339)
		}
		rows = append(rows, row{
			cells: []string{
				strconv.FormatUint(uint64(sch.ID), 10),
				sch.Name,
				sch.ReportKind,
				strconv.Itoa(a.runs),
				strconv.Itoa(a.success),
				strconv.Itoa(a.failure),
				lastRun,
				fmt.Sprintf("%.2f", avgSeconds),
			},
			object: map[string]interface{}{
				"schedule_id":          sch.ID,
				"schedule_name":        sch.Name,
				"report_kind":          sch.ReportKind,
				"runs":                 a.runs,
				"success":              a.success,
				"failure":              a.failure,
				"last_run_at":          lastRun,
				"avg_duration_seconds": avgSeconds,
			},
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		ri, _ := strconv.Atoi(rows[i].cells[3])
		rj, _ := strconv.Atoi(rows[j].cells[3])
		return ri > rj
	})
	return rows, nil
}

// scheduleInventory lists the configured schedules.
func (r *Registry) scheduleInventory(req Request) ([]row, error) {
	schedules, err := r.scopedSchedules(req.Scope)
	if err != nil {
		return nil, err
	}

	var rows []row
	for _, sch := range schedules {
		rows = append(rows, row{
			cells: []string{
				strconv.FormatUint(uint64(sch.ID), 10),
				sch.Name,
				sch.ReportKind,
				string(sch.Cadence),
				sch.TimeOfDay,
				string(sch.Format),
				strconv.Itoa(len(sch.Recipients)),
				strconv.FormatBool(sch.Enabled),
				formatTimePtr(sch.LastRunAt),
				formatTimePtr(sch.NextRunAt),
			},
			object: map[string]interface{}{
				"id":          sch.ID,
				"name":        sch.Name,
				"report_kind": sch.ReportKind,
				"cadence":     sch.Cadence,
				"time_of_day": sch.TimeOfDay,
				"format":      sch.Format,
				"recipients":  len(sch.Recipients),
				"enabled":     sch.Enabled,
				"last_run_at": formatTimePtr(sch.LastRunAt),
				"next_run_at": formatTimePtr(sch.NextRunAt),
			},
		})
	}
	return rows, nil
}

func (r *Registry) scopedSchedules(scope string) ([]models.ReportSchedule, error) {
	query := r.db.Order("id")
	if scope != "" {
		query = query.Where("scope = ?", scope)
	}
	var schedules []models.ReportSchedule
	if err := query.Find(&schedules).Error; err != nil {
		return nil, err
	}
	return schedules, nil
}

func render(format models.OutputFormat, header []string, rows []row) ([]byte, string, error) {
	switch format {
	case models.FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(header); err != nil {
			return nil, "", fmt.Errorf("render csv: %w", err)
		}
		for _, r := range rows {
			if err := w.Write(r.cells); err != nil {
				return nil, "", fmt.Errorf("render csv: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, "", fmt.Errorf("render csv: %w", err)
		}
		return buf.Bytes(), "text/csv", nil

	case models.FormatJSON:
		objects := make([]map[string]interface{}, 0, len(rows))
		for _, r := range rows {
			objects = append(objects, r.object)
		}
		data, err := json.MarshalIndent(objects, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("render json: %w", err)
		}
		return data, "application/json", nil

	default:
		return nil, "", fmt.Errorf("unknown output format: %s", format)
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
