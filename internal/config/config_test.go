package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/reportmill.db", cfg.Database.Path)
	assert.Equal(t, 10, cfg.Trigger.DefaultLimit)
	assert.Equal(t, 50, cfg.Trigger.MaxLimit)
	assert.Equal(t, 30, cfg.Artifact.RetentionDays)
	assert.Equal(t, 10, cfg.Runner.ClaimLeaseMinutes)
	assert.Equal(t, "reportmill", cfg.Slack.Username)
	assert.Empty(t, cfg.Trigger.Secret)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("REPORTMILL_TRIGGER_SECRET", "env-secret")
	t.Setenv("REPORTMILL_AUTH_JWTSECRET", "env-jwt")
	t.Setenv("REPORTMILL_SMTP_HOST", "smtp.example.com")
	t.Setenv("REPORTMILL_SLACK_WEBHOOKURL", "https://hooks.slack.com/services/T/B/x")
	t.Setenv("REPORTMILL_SERVER_PORT", "9090")

	cfg := LoadConfig()

	assert.Equal(t, "env-secret", cfg.Trigger.Secret)
	assert.Equal(t, "env-jwt", cfg.Auth.JWTSecret)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, "https://hooks.slack.com/services/T/B/x", cfg.Slack.WebhookURL)
	assert.Equal(t, 9090, cfg.Server.Port)
}
