package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/reportmill/internal/models"
)

type Config struct {
	SMTPHost      string
	SMTPPort      int
	From          string
	Password      string
	PublicBaseURL string
}

// Mailer delivers generated reports by email, one message per recipient
// so that a bounce for one address never blocks the others.
type Mailer struct {
	dialer  *gomail.Dialer
	from    string
	baseURL string
}

func NewMailer(config *Config) *Mailer {
	return &Mailer{
		dialer:  gomail.NewDialer(config.SMTPHost, config.SMTPPort, config.From, config.Password),
		from:    config.From,
		baseURL: strings.TrimRight(config.PublicBaseURL, "/"),
	}
}

// DeliverReport sends the download link to every recipient independently
// and returns the subset of addresses that were delivered to. Failures
// are logged and returned; they are never fatal here.
func (m *Mailer) DeliverReport(sch *models.ReportSchedule, run *models.ReportRun, rawToken string) ([]string, map[string]error) {
	link := m.DownloadURL(run.ID, rawToken)

	var delivered []string
	failures := make(map[string]error)
	for _, recipient := range sch.Recipients {
		msg := gomail.NewMessage()
		msg.SetHeader("From", m.from)
		msg.SetHeader("To", recipient)
		msg.SetHeader("Subject", fmt.Sprintf("Scheduled report: %s (%s)", sch.Name, run.StartedAt.Format("2006-01-02")))
		msg.SetBody("text/plain", m.body(sch, run, link))

		if err := m.dialer.DialAndSend(msg); err != nil {
			logrus.WithFields(logrus.Fields{
				"run_id":    run.ID,
				"recipient": recipient,
			}).WithError(err).Warn("report delivery failed")
			failures[recipient] = err
			continue
		}
		delivered = append(delivered, recipient)
	}
	return delivered, failures
}

// DownloadURL builds the tokenized link embedded in delivery emails.
func (m *Mailer) DownloadURL(runID uint, rawToken string) string {
	return fmt.Sprintf("%s/scheduled-reports/runs/%d/download?token=%s", m.baseURL, runID, rawToken)
}

func (m *Mailer) body(sch *models.ReportSchedule, run *models.ReportRun, link string) string {
	expiry := ""
	if run.TokenExpiresAt != nil {
		expiry = run.TokenExpiresAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(`Your scheduled report %q is ready.

	Report:    %s
	Generated: %s
	File:      %s

Download it here:
%s

The link expires on %s.
`, sch.Name, sch.ReportKind, run.StartedAt.Format(time.RFC1123), run.Filename, link, expiry)
}
