package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reportmill/cmd/cli/client"
)

var rootCmd = &cobra.Command{
	Use:   "reportmill",
	Short: "reportmill CLI - manage scheduled reports",
	Long: `reportmill CLI is a command-line tool for the scheduled-report engine.
It manages report schedules, inspects runs, and triggers due-schedule cycles.`,
}

func init() {
	viper.SetConfigName(".reportmill")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")
	viper.ReadInConfig()

	baseURL := os.Getenv("REPORTMILL_API")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	apiClient = client.NewAPIClient(baseURL)

	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newScheduleCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newRunDueCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
