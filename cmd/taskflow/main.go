package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stellarlinkco/taskflow/internal/config"
	"github.com/stellarlinkco/taskflow/internal/cron"
	"github.com/stellarlinkco/taskflow/internal/deadline"
	"github.com/stellarlinkco/taskflow/internal/gateway"
	"github.com/stellarlinkco/taskflow/internal/messages"
	"github.com/stellarlinkco/taskflow/internal/notify"
	"github.com/stellarlinkco/taskflow/internal/store"
	"github.com/stellarlinkco/taskflow/internal/task"
)

var rootCmd = &cobra.Command{
	Use:   "taskflow",
	Short: "taskflow - task tracking bot for team chats",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the bot (telegram + deadline reminders)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show config and task counts",
	RunE:  runStatus,
}

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "List the deadline reminders a scan would send now",
	RunE:  runRemind,
}

func init() {
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, remindCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !cfg.Channels.Telegram.Enabled {
		return fmt.Errorf("telegram is not enabled. Run 'taskflow onboard' and set a token, or set TASKFLOW_TELEGRAM_TOKEN")
	}
	if len(cfg.Workflow.Admins) == 0 {
		fmt.Fprintln(os.Stderr, "warning: no admins configured, nobody can run /set_reviewer")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		printStatus("✓", "Created config: "+cfgPath, color.FgGreen)
	} else {
		printStatus("•", "Config already exists: "+cfgPath, color.FgYellow)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set channels.telegram.token and workflow.admins\n", cfgPath)
	fmt.Println("  2. Or set TASKFLOW_TELEGRAM_TOKEN and TASKFLOW_ADMINS")
	fmt.Println("  3. Run 'taskflow gateway'")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		printStatus("✗", fmt.Sprintf("Config: error (%v)", err), color.FgRed)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Database: %s\n", cfg.Store.DBPath)
	fmt.Printf("Timezone: %s\n", cfg.Deadline.Timezone)
	fmt.Printf("Locale: %s\n", cfg.Messages.Locale)

	if cfg.Channels.Telegram.Enabled {
		printStatus("✓", "Telegram: enabled (token "+maskToken(cfg.Channels.Telegram.Token)+")", color.FgGreen)
	} else {
		printStatus("✗", "Telegram: disabled", color.FgRed)
	}
	if len(cfg.Workflow.Admins) > 0 {
		printStatus("✓", fmt.Sprintf("Admins: %v", cfg.Workflow.Admins), color.FgGreen)
	} else {
		printStatus("⚠", "Admins: none", color.FgYellow)
	}
	if cfg.Deadline.Enabled {
		line := "Deadline reminders: " + cfg.Deadline.Schedule
		if loc, err := cfg.Location(); err == nil {
			if next, err := cron.NextAfter(cfg.Deadline.Schedule, loc, time.Now()); err == nil {
				line += " (next " + next.Format("2006-01-02 15:04 MST") + ")"
			}
		}
		printStatus("✓", line, color.FgGreen)
	} else {
		printStatus("⚠", "Deadline reminders: disabled", color.FgYellow)
	}

	if _, err := os.Stat(cfg.Store.DBPath); err != nil {
		fmt.Println("Tasks: no database yet (run 'taskflow gateway')")
		return nil
	}

	st, err := store.New(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	reviewer, err := st.Reviewer(ctx)
	if err != nil {
		return err
	}
	if reviewer != "" {
		printStatus("✓", "Reviewer: "+reviewer, color.FgGreen)
	} else {
		printStatus("⚠", "Reviewer: not set (an admin must run /set_reviewer)", color.FgYellow)
	}

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Tasks:")
	for _, s := range task.Statuses() {
		fmt.Printf("  %-22s %d\n", s, counts[s])
	}
	return nil
}

func runRemind(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	catalog, err := messages.Load(cfg.Messages.Locale, cfg.Messages.Path)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	st, err := store.New(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer st.Close()

	r := deadline.NewReminder(st, nil, loc)
	due, err := r.Due(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Due %s (%s): %d task(s)\n", r.Tomorrow(), loc, len(due))
	render := notify.NewDispatcher(nil, "", catalog)
	for _, t := range due {
		msg := render.Render(notify.Event{Kind: notify.KindDeadline, Recipient: t.Assignee, Task: t})
		fmt.Printf("  -> %s: %s\n", t.Assignee, msg)
	}
	return nil
}

func maskToken(token string) string {
	if len(token) > 8 {
		return token[:4] + "..." + token[len(token)-4:]
	}
	if token != "" {
		return "set"
	}
	return "not set"
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
