package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/reportmill/internal/api"
	"github.com/reportmill/internal/auth"
	"github.com/reportmill/internal/config"
	"github.com/reportmill/internal/database"
	"github.com/reportmill/internal/delivery"
	"github.com/reportmill/internal/metrics"
	"github.com/reportmill/internal/notify"
	"github.com/reportmill/internal/report"
	"github.com/reportmill/internal/runner"
	"github.com/reportmill/internal/store"
)

func main() {
	// Initialize configuration
	cfg := config.LoadConfig()

	// Initialize database
	if err := database.Initialize(cfg.Database.Path); err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	db := database.GetDB()

	auth.Configure(cfg.Auth.JWTSecret)

	// Stores
	scheduleStore := store.NewScheduleStore(db, time.Duration(cfg.Runner.ClaimLeaseMinutes)*time.Minute)
	runStore := store.NewRunStore(db)

	// Collaborators
	reports := report.NewRegistry(db)
	mailer := delivery.NewMailer(&delivery.Config{
		SMTPHost:      cfg.SMTP.Host,
		SMTPPort:      cfg.SMTP.Port,
		From:          cfg.SMTP.From,
		Password:      cfg.SMTP.Password,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	})
	notifier := notify.NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Slack.Channel, cfg.Slack.Username)
	runMetrics := metrics.NewRunMetrics(prometheus.DefaultRegisterer)

	// Executor + due-schedule runner
	tokenTTL := time.Duration(cfg.Artifact.RetentionDays) * 24 * time.Hour
	executor := runner.NewExecutor(scheduleStore, runStore, reports, mailer, notifier, runMetrics, tokenTTL)
	dueRunner := runner.NewRunner(scheduleStore, executor)

	// In-process trigger loop: every minute, process whatever is due.
	// External cron hitting the run-due endpoint partitions the due set
	// with this loop rather than racing it.
	trigger := cron.New()
	if _, err := trigger.AddFunc("* * * * *", func() {
		if _, err := dueRunner.RunDue(cfg.Trigger.DefaultLimit, time.Now()); err != nil {
			logrus.WithError(err).Error("trigger cycle failed")
		}
	}); err != nil {
		logrus.Fatalf("Failed to schedule trigger loop: %v", err)
	}
	trigger.Start()
	defer trigger.Stop()

	// Initialize and start API server
	server := api.NewServer(cfg, scheduleStore, runStore, dueRunner)
	if err := server.Start(cfg.Server.Port); err != nil {
		logrus.Fatalf("Failed to start server: %v", err)
	}
}
