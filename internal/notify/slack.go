package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"github.com/reportmill/internal/models"
)

type SlackNotifier struct {
	WebhookURL string
	Channel    string
	Username   string
}

func NewSlackNotifier(webhookURL, channel, username string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Channel:    channel,
		Username:   username,
	}
}

// NotifyRunFailure posts a failed run to the configured channel. A nil
// notifier or empty webhook is a no-op so callers can treat notification
// as optional.
func (s *SlackNotifier) NotifyRunFailure(sch *models.ReportSchedule, run *models.ReportRun) error {
	if s == nil || s.WebhookURL == "" {
		return nil
	}

	msg := &slack.WebhookMessage{
		Channel:     s.Channel,
		Username:    s.Username,
		IconEmoji:   ":red_circle:",
		Attachments: []slack.Attachment{s.failureAttachment(sch, run)},
	}

	if err := slack.PostWebhook(s.WebhookURL, msg); err != nil {
		return fmt.Errorf("failed to send slack message: %v", err)
	}

	return nil
}

func (s *SlackNotifier) failureAttachment(sch *models.ReportSchedule, run *models.ReportRun) slack.Attachment {
	return slack.Attachment{
		Color: "#FF0000",
		Title: fmt.Sprintf("Scheduled report failed: %s", sch.Name),
		Text:  run.Error,
		Fields: []slack.AttachmentField{
			{
				Title: "Report",
				Value: sch.ReportKind,
				Short: true,
			},
			{
				Title: "Run",
				Value: fmt.Sprintf("#%d", run.ID),
				Short: true,
			},
			{
				Title: "Started",
				Value: run.StartedAt.Format(time.RFC3339),
				Short: true,
			},
			{
				Title: "Recipients",
				Value: fmt.Sprintf("%d", len(sch.Recipients)),
				Short: true,
			},
		},
		Footer: "reportmill",
		Ts:     json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}
}
