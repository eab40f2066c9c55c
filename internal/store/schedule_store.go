package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/schedule"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidSchedule  = errors.New("invalid schedule")
)

type ScheduleStore struct {
	db    *gorm.DB
	lease time.Duration
}

func NewScheduleStore(db *gorm.DB, claimLease time.Duration) *ScheduleStore {
	if claimLease <= 0 {
		claimLease = 10 * time.Minute
	}
	return &ScheduleStore{db: db, lease: claimLease}
}

// Create validates and persists a new schedule, computing its initial
// NextRunAt when enabled.
func (s *ScheduleStore) Create(sch *models.ReportSchedule, now time.Time) error {
	if err := normalizeSchedule(sch); err != nil {
		return err
	}

	if sch.Enabled {
		next, err := schedule.Next(schedule.SpecFor(sch), now)
		if err != nil {
			return err
		}
		sch.NextRunAt = &next
	} else {
		sch.NextRunAt = nil
	}

	if err := s.db.Create(sch).Error; err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// ScheduleUpdate carries the operator-updatable fields; nil means leave
// the field unchanged.
type ScheduleUpdate struct {
	Name       *string
	ReportKind *string
	Scope      *string
	Cadence    *models.Cadence
	TimeOfDay  *string
	DayOfWeek  *int
	DayOfMonth *int
	Format     *models.OutputFormat
	Recipients *[]string
	Enabled    *bool
}

func (u *ScheduleUpdate) affectsCadence() bool {
	return u.Cadence != nil || u.TimeOfDay != nil || u.DayOfWeek != nil || u.DayOfMonth != nil
}

// Update applies a partial update. Cadence-affecting changes recompute
// NextRunAt; disabling clears it; enabling computes one if missing. The
// read-merge-write runs in a transaction and writes only the changed
// columns, so a run completing concurrently cannot have its advanced
// NextRunAt or released claim overwritten with stale values.
func (s *ScheduleStore) Update(id uint, upd ScheduleUpdate, now time.Time) (*models.ReportSchedule, error) {
	var sch *models.ReportSchedule
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var current models.ReportSchedule
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrScheduleNotFound
			}
			return fmt.Errorf("get schedule: %w", err)
		}

		changes := map[string]interface{}{}
		if upd.Name != nil {
			current.Name = *upd.Name
			changes["name"] = *upd.Name
		}
		if upd.ReportKind != nil {
			current.ReportKind = *upd.ReportKind
			changes["report_kind"] = *upd.ReportKind
		}
		if upd.Scope != nil {
			current.Scope = *upd.Scope
			changes["scope"] = *upd.Scope
		}
		if upd.Cadence != nil {
			current.Cadence = *upd.Cadence
			changes["cadence"] = *upd.Cadence
		}
		if upd.TimeOfDay != nil {
			current.TimeOfDay = *upd.TimeOfDay
			changes["time_of_day"] = *upd.TimeOfDay
		}
		if upd.DayOfWeek != nil {
			current.DayOfWeek = upd.DayOfWeek
			changes["day_of_week"] = *upd.DayOfWeek
		}
		if upd.DayOfMonth != nil {
			current.DayOfMonth = upd.DayOfMonth
			changes["day_of_month"] = *upd.DayOfMonth
		}
		if upd.Format != nil {
			current.Format = *upd.Format
			changes["format"] = *upd.Format
		}
		if upd.Recipients != nil {
			current.Recipients = *upd.Recipients
		}
		if upd.Enabled != nil {
			current.Enabled = *upd.Enabled
			changes["enabled"] = *upd.Enabled
		}

		if err := normalizeSchedule(&current); err != nil {
			return err
		}
		if upd.Recipients != nil {
			changes["recipients"] = current.Recipients
		}

		switch {
		case !current.Enabled:
			current.NextRunAt = nil
			changes["next_run_at"] = nil
		case upd.affectsCadence() || current.NextRunAt == nil:
			next, err := schedule.Next(schedule.SpecFor(&current), now)
			if err != nil {
				return err
			}
			current.NextRunAt = &next
			changes["next_run_at"] = next
		}

		if len(changes) > 0 {
			if err := tx.Model(&current).Updates(changes).Error; err != nil {
				return fmt.Errorf("update schedule: %w", err)
			}
		}
		sch = &current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sch, nil
}

// Delete removes a schedule. Existing runs are untouched.
func (s *ScheduleStore) Delete(id uint) error {
	res := s.db.Delete(&models.ReportSchedule{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete schedule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (s *ScheduleStore) Get(id uint) (*models.ReportSchedule, error) {
	var sch models.ReportSchedule
	if err := s.db.First(&sch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return &sch, nil
}

func (s *ScheduleStore) List() ([]models.ReportSchedule, error) {
	var schedules []models.ReportSchedule
	if err := s.db.Order("id").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

// ClaimDue atomically selects up to limit enabled schedules whose
// NextRunAt has passed and marks them claimed, so that two overlapping
// runner invocations partition the due set instead of overlapping it.
//
// The select takes row locks where the engine supports them; the per-row
// compare-and-swap on NextRunAt guarantees the partition property even on
// engines where FOR UPDATE is a no-op. A claim older than the lease is
// considered abandoned (crashed worker) and may be taken over.
func (s *ScheduleStore) ClaimDue(limit int, now time.Time) ([]models.ReportSchedule, error) {
	if limit <= 0 {
		return nil, nil
	}
	staleBefore := now.Add(-s.lease)

	var claimed []models.ReportSchedule
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var due []models.ReportSchedule
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
			Where("claimed_at IS NULL OR claimed_at <= ?", staleBefore).
			Order("next_run_at").
			Limit(limit).
			Find(&due).Error; err != nil {
			return fmt.Errorf("select due schedules: %w", err)
		}

		for i := range due {
			res := tx.Model(&models.ReportSchedule{}).
				Where("id = ? AND next_run_at = ? AND (claimed_at IS NULL OR claimed_at <= ?)",
					due[i].ID, due[i].NextRunAt, staleBefore).
				Update("claimed_at", now)
			if res.Error != nil {
				return fmt.Errorf("claim schedule %d: %w", due[i].ID, res.Error)
			}
			if res.RowsAffected == 1 {
				ts := now
				due[i].ClaimedAt = &ts
				claimed = append(claimed, due[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete records that a claimed schedule finished a run: LastRunAt is
// set, the claim is released, and NextRunAt advances to the next
// occurrence (or nil if the schedule was disabled mid-run). It advances
// on failure as much as on success, so a failing schedule retries on its
// next occurrence instead of looping.
func (s *ScheduleStore) Complete(sch *models.ReportSchedule, now time.Time) error {
	current, err := s.Get(sch.ID)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			// Deleted mid-run; the run row stays for audit.
			return nil
		}
		return err
	}

	updates := map[string]interface{}{
		"last_run_at": now,
		"claimed_at":  nil,
	}
	if current.Enabled {
		next, err := schedule.Next(schedule.SpecFor(current), now)
		if err != nil {
			return err
		}
		updates["next_run_at"] = next
	} else {
		updates["next_run_at"] = nil
	}

	if err := s.db.Model(&models.ReportSchedule{}).Where("id = ?", sch.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("complete schedule %d: %w", sch.ID, err)
	}
	return nil
}

func normalizeSchedule(sch *models.ReportSchedule) error {
	if sch.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	if sch.ReportKind == "" {
		return fmt.Errorf("%w: report_kind is required", ErrInvalidSchedule)
	}
	if !sch.Cadence.Valid() {
		return fmt.Errorf("%w: unknown cadence %q", ErrInvalidSchedule, sch.Cadence)
	}
	if !sch.Format.Valid() {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidSchedule, sch.Format)
	}

	sch.Recipients = normalizeRecipients(sch.Recipients)
	if len(sch.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidSchedule)
	}
	if len(sch.Recipients) > models.MaxRecipients {
		return fmt.Errorf("%w: at most %d recipients allowed", ErrInvalidSchedule, models.MaxRecipients)
	}
	return nil
}

// normalizeRecipients lower-cases, trims and de-duplicates while keeping
// first-seen order.
func normalizeRecipients(recipients []string) []string {
	seen := make(map[string]bool, len(recipients))
	var out []string
	for _, r := range recipients {
		addr := strings.ToLower(strings.TrimSpace(r))
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}
