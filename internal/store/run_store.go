package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/reportmill/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

type RunStore struct {
	db *gorm.DB
}

func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// Begin creates a run row in the running state.
func (s *RunStore) Begin(scheduleID uint, now time.Time) (*models.ReportRun, error) {
	run := &models.ReportRun{
		ScheduleID: scheduleID,
		Status:     models.RunStatusRunning,
		StartedAt:  now,
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// Complete persists the run's terminal state. Storage errors here are
// always surfaced to the caller; a run whose terminal write failed must
// not look successful.
func (s *RunStore) Complete(run *models.ReportRun) error {
	if run.Status != models.RunStatusSuccess && run.Status != models.RunStatusFailure {
		return fmt.Errorf("complete run %d: non-terminal status %q", run.ID, run.Status)
	}
	if err := s.db.Save(run).Error; err != nil {
		return fmt.Errorf("complete run %d: %w", run.ID, err)
	}
	return nil
}

func (s *RunStore) Get(id uint) (*models.ReportRun, error) {
	var run models.ReportRun
	if err := s.db.First(&run, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// List returns runs newest-first, optionally filtered by schedule.
// Artifact bytes are omitted; Get loads them for the download path.
func (s *RunStore) List(scheduleID uint, limit, offset int) ([]models.ReportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := s.db.Omit("output_bytes").Order("id desc").Limit(limit).Offset(offset)
	if scheduleID != 0 {
		query = query.Where("schedule_id = ?", scheduleID)
	}
	var runs []models.ReportRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
