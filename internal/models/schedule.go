package models

import (
	"time"

	"gorm.io/gorm"
)

type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

type OutputFormat string

const (
	FormatCSV  OutputFormat = "csv"
	FormatJSON OutputFormat = "json"
)

const MaxRecipients = 25

// ReportSchedule is a recurring intent to generate and deliver a report.
// NextRunAt is nil while the schedule is disabled; ClaimedAt marks the
// schedule as being processed by a runner invocation and is cleared when
// the run completes.
type ReportSchedule struct {
	gorm.Model
	Name       string       `json:"name" gorm:"not null"`
	ReportKind string       `json:"report_kind" gorm:"not null"`
	Scope      string       `json:"scope"`
	Cadence    Cadence      `json:"cadence" gorm:"not null"`
	TimeOfDay  string       `json:"time_of_day" gorm:"not null"` // "HH:MM", local time
	DayOfWeek  *int         `json:"day_of_week,omitempty"`       // 0-6, weekly only
	DayOfMonth *int         `json:"day_of_month,omitempty"`      // 1-31, monthly only
	Format     OutputFormat `json:"format" gorm:"not null"`
	Recipients []string     `json:"recipients" gorm:"serializer:json"`
	Enabled    bool         `json:"enabled" gorm:"default:true"`
	LastRunAt  *time.Time   `json:"last_run_at"`
	NextRunAt  *time.Time   `json:"next_run_at" gorm:"index"`
	ClaimedAt  *time.Time   `json:"-"`
}

func (c Cadence) Valid() bool {
	switch c {
	case CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	}
	return false
}

func (f OutputFormat) Valid() bool {
	return f == FormatCSV || f == FormatJSON
}
