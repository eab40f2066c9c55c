package models

import (
	"time"

	"gorm.io/gorm"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
)

// ReportRun is one execution attempt of a ReportSchedule. ScheduleID is a
// plain back-reference, not an enforced foreign key: runs outlive schedule
// deletion for audit purposes.
//
// Exactly one of OutputBytes or Error is set once the run is terminal.
// TokenHash stores the SHA-256 of the download token; the raw token is
// only ever handed to the delivery transport.
type ReportRun struct {
	gorm.Model
	ScheduleID     uint       `json:"schedule_id" gorm:"index"`
	Status         RunStatus  `json:"status" gorm:"not null;default:running"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	Filename       string     `json:"filename"`
	ContentType    string     `json:"content_type"`
	OutputBytes    []byte     `json:"-"`
	Encoding       string     `json:"encoding"`
	RawSize        int64      `json:"raw_size"`
	TokenHash      string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
	DeliveredTo    []string   `json:"delivered_to" gorm:"serializer:json"`
	Error          string     `json:"error,omitempty"`
}

// HasOutput reports whether the run produced a downloadable artifact.
func (r *ReportRun) HasOutput() bool {
	return r.Status == RunStatusSuccess && len(r.OutputBytes) > 0
}
