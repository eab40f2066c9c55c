package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reportmill/cmd/cli/client"
)

var apiClient *client.APIClient

func newLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login and store the API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")

			token, err := apiClient.Login(username, password)
			if err != nil {
				return fmt.Errorf("login failed: %v", err)
			}

			viper.Set("token", token)
			if err := viper.WriteConfig(); err != nil {
				if err := viper.SafeWriteConfig(); err != nil {
					return fmt.Errorf("failed to save token: %v", err)
				}
			}
			fmt.Println("Login successful")
			return nil
		},
	}
	cmd.Flags().String("username", "", "Username")
	cmd.Flags().String("password", "", "Password")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newScheduleCommand() *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedules",
		Short: "Manage report schedules",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List report schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := apiClient.ListSchedules()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "ID\tNAME\tREPORT\tCADENCE\tTIME\tFORMAT\tENABLED\tNEXT RUN\t")
			for _, s := range schedules {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%t\t%s\t\n",
					s.ID, s.Name, s.ReportKind, s.Cadence, s.TimeOfDay, s.Format, s.Enabled, formatTime(s.NextRunAt))
			}
			return w.Flush()
		},
	}

	var createReq struct {
		name, reportKind, scope, cadence, timeOfDay, format string
		dayOfWeek, dayOfMonth                               int
		recipients                                          []string
		disabled                                            bool
	}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a report schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]interface{}{
				"name":        createReq.name,
				"report_kind": createReq.reportKind,
				"scope":       createReq.scope,
				"cadence":     createReq.cadence,
				"time_of_day": createReq.timeOfDay,
				"format":      createReq.format,
				"recipients":  createReq.recipients,
				"enabled":     !createReq.disabled,
			}
			if cmd.Flags().Changed("day-of-week") {
				req["day_of_week"] = createReq.dayOfWeek
			}
			if cmd.Flags().Changed("day-of-month") {
				req["day_of_month"] = createReq.dayOfMonth
			}

			sch, err := apiClient.CreateSchedule(req)
			if err != nil {
				return err
			}
			fmt.Printf("Created schedule %d (next run %s)\n", sch.ID, formatTime(sch.NextRunAt))
			return nil
		},
	}
	createCmd.Flags().StringVar(&createReq.name, "name", "", "Schedule name")
	createCmd.Flags().StringVar(&createReq.reportKind, "report", "", "Report kind")
	createCmd.Flags().StringVar(&createReq.scope, "scope", "", "Optional scope")
	createCmd.Flags().StringVar(&createReq.cadence, "cadence", "daily", "daily, weekly or monthly")
	createCmd.Flags().StringVar(&createReq.timeOfDay, "time", "09:00", "Time of day (HH:MM)")
	createCmd.Flags().IntVar(&createReq.dayOfWeek, "day-of-week", 0, "Day of week 0-6 (weekly)")
	createCmd.Flags().IntVar(&createReq.dayOfMonth, "day-of-month", 1, "Day of month 1-31 (monthly)")
	createCmd.Flags().StringVar(&createReq.format, "format", "csv", "csv or json")
	createCmd.Flags().StringSliceVar(&createReq.recipients, "recipients", nil, "Recipient addresses")
	createCmd.Flags().BoolVar(&createReq.disabled, "disabled", false, "Create disabled")
	createCmd.MarkFlagRequired("name")
	createCmd.MarkFlagRequired("report")
	createCmd.MarkFlagRequired("recipients")

	enableCmd := &cobra.Command{
		Use:   "enable [id]",
		Short: "Enable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE:  setEnabled(true),
	}
	disableCmd := &cobra.Command{
		Use:   "disable [id]",
		Short: "Disable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE:  setEnabled(false),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := apiClient.DeleteSchedule(id); err != nil {
				return err
			}
			fmt.Println("Schedule deleted")
			return nil
		},
	}

	scheduleCmd.AddCommand(listCmd, createCmd, enableCmd, disableCmd, deleteCmd)
	return scheduleCmd
}

func newRunsCommand() *cobra.Command {
	var scheduleID uint
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List report runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := apiClient.ListRuns(scheduleID, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "ID\tSCHEDULE\tSTATUS\tSTARTED\tFILE\tDELIVERED\tERROR\t")
			for _, r := range runs {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%d\t%s\t\n",
					r.ID, r.ScheduleID, r.Status, r.StartedAt.Format(time.RFC3339),
					r.Filename, len(r.DeliveredTo), truncate(r.Error, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().UintVar(&scheduleID, "schedule", 0, "Filter by schedule id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	return cmd
}

func newRunDueCommand() *cobra.Command {
	var secret string
	var limit int
	cmd := &cobra.Command{
		Use:   "run-due",
		Short: "Trigger a due-schedule cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := apiClient.RunDue(secret, limit)
			if err != nil {
				return err
			}
			fmt.Printf("processed=%d success=%d failure=%d\n", summary.Processed, summary.Success, summary.Failure)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Trigger secret")
	cmd.Flags().IntVar(&limit, "limit", 0, "Claim limit (0 = server default)")
	cmd.MarkFlagRequired("secret")
	return cmd
}

func setEnabled(enabled bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := apiClient.SetScheduleEnabled(id, enabled); err != nil {
			return err
		}
		if enabled {
			fmt.Println("Schedule enabled")
		} else {
			fmt.Println("Schedule disabled")
		}
		return nil
	}
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule ID: %v", err)
	}
	return uint(id), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
