package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/reportmill/internal/models"
)

func TestDownloadURL(t *testing.T) {
	m := NewMailer(&Config{PublicBaseURL: "https://reports.example.com/"})
	url := m.DownloadURL(42, "abc123")
	assert.Equal(t, "https://reports.example.com/scheduled-reports/runs/42/download?token=abc123", url)
}

func TestBodyMentionsLinkAndExpiry(t *testing.T) {
	m := NewMailer(&Config{PublicBaseURL: "https://reports.example.com"})

	expires := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	sch := &models.ReportSchedule{Name: "weekly digest", ReportKind: "run-activity"}
	run := &models.ReportRun{
		StartedAt:      time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC),
		Filename:       "run-activity-2025-01-02.csv",
		TokenExpiresAt: &expires,
	}

	body := m.body(sch, run, m.DownloadURL(7, "tok"))
	assert.Contains(t, body, "weekly digest")
	assert.Contains(t, body, "run-activity-2025-01-02.csv")
	assert.Contains(t, body, "/scheduled-reports/runs/7/download?token=tok")
	assert.Contains(t, body, expires.Format(time.RFC1123))
}
