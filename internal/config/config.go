package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port int
		// PublicBaseURL is the externally reachable base URL used to
		// build download links embedded in delivery emails.
		PublicBaseURL string
	}
	Database struct {
		Path string
	}
	Trigger struct {
		// Secret authenticates calls to the run-due endpoint. Empty
		// means the endpoint is not configured and answers 501.
		Secret       string
		DefaultLimit int
		MaxLimit     int
	}
	Artifact struct {
		// RetentionDays bounds how long a download token stays valid.
		RetentionDays int
	}
	Runner struct {
		// ClaimLeaseMinutes is how long a claimed schedule stays
		// invisible to other runner invocations before it may be
		// claimed again.
		ClaimLeaseMinutes int
	}
	SMTP struct {
		Host     string
		Port     int
		From     string
		Password string
	}
	Slack struct {
		WebhookURL string
		Channel    string
		Username   string
	}
	Auth struct {
		JWTSecret string
	}
}

// LoadConfig loads the configuration from config.yaml, with environment
// overrides prefixed REPORTMILL_ (e.g. REPORTMILL_TRIGGER_SECRET).
func LoadConfig() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("reportmill")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Every key needs a default: AutomaticEnv only surfaces env values
	// for keys viper already knows about, so a key without one would be
	// invisible to Unmarshal when set purely through the environment.
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.publicbaseurl", "http://localhost:8080")
	viper.SetDefault("database.path", "data/reportmill.db")
	viper.SetDefault("trigger.secret", "")
	viper.SetDefault("trigger.defaultlimit", 10)
	viper.SetDefault("trigger.maxlimit", 50)
	viper.SetDefault("artifact.retentiondays", 30)
	viper.SetDefault("runner.claimleaseminutes", 10)
	viper.SetDefault("smtp.host", "")
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.from", "")
	viper.SetDefault("smtp.password", "")
	viper.SetDefault("slack.webhookurl", "")
	viper.SetDefault("slack.channel", "")
	viper.SetDefault("slack.username", "reportmill")
	viper.SetDefault("auth.jwtsecret", "")

	var config Config

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error reading config file: %v\n", err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		fmt.Printf("Error unmarshaling config: %v\n", err)
	}

	return &config
}
