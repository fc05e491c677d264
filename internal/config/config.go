package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	// SQLite
	DBPath string `json:"db_path"`

	// FreeScout
	FreeScout FreeScoutConfig `json:"freescout"`

	// Slack
	Slack SlackConfig `json:"slack"`

	// Tray
	Tray TrayConfig `json:"tray"`

	// Business Hours
	BusinessHours BusinessHoursConfig `json:"business_hours"`

	// Cleanup
	RetentionDays   int    `json:"retention_days"`
	AutoVacuum      bool   `json:"auto_vacuum"`
	CleanupSchedule string `json:"cleanup_schedule"`

	// Operational
	LockFile         string `json:"lock_file"`
	Verbose          bool   `json:"verbose"`
	LogFormat        string `json:"log_format"`
	ShowVersion      bool   `json:"-"`
	CheckConnections bool   `json:"-"`
	InitDB           bool   `json:"-"`
	StatsOnly        bool   `json:"-"`
	Cleanup          bool   `json:"-"`
	ResetOption      string `json:"-"`
	SetOption        string `json:"-"`
	WriteConfig      string `json:"-"`
}

type FreeScoutConfig struct {
	DSN     string   `json:"dsn"`     // Database connection string
	Timeout Duration `json:"timeout"` // Query and ping timeout
	URL     string   `json:"url"`     // Base URL for dashboard and conversation links
}

type SlackConfig struct {
	WebhookURL    string   `json:"webhook_url"`
	Timeout       Duration `json:"timeout"`
	RetryAttempts int      `json:"retry_attempts"`
}

type TrayConfig struct {
	PollInterval  Duration `json:"poll_interval"`  // How often the mailbox is re-read
	TickInterval  Duration `json:"tick_interval"`  // Countdown refresh
	ProbeInterval Duration `json:"probe_interval"` // Connectivity polling while offline
	DesktopAlerts bool     `json:"desktop_alerts"`
}

type BusinessHoursConfig struct {
	Enabled      bool           `json:"enabled"`
	StartHour    int            `json:"start_hour"`
	EndHour      int            `json:"end_hour"`
	Timezone     string         `json:"timezone"`
	WorkDays     []time.Weekday `json:"work_days"`
	NotifyOnOpen bool           `json:"notify_on_open"`
	HolidaysFile string         `json:"holidays_file"`
}

func ParseFlags() *Config {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) *Config {
	cfg := &Config{}

	// Config file flag
	configFile := fs.String("config-file", "", "Path to JSON configuration file")

	// SQLite flags
	fs.StringVar(&cfg.DBPath, "db-path", defaultDBPath(), "Path to SQLite database")

	// FreeScout flags
	fs.StringVar(&cfg.FreeScout.DSN, "freescout-dsn", "user:password@tcp(localhost:3306)/freescout?parseTime=true&timeout=30s", "FreeScout database DSN (required)")
	fs.DurationVar(&cfg.FreeScout.Timeout.Duration, "freescout-timeout", 30*time.Second, "FreeScout query timeout")
	fs.StringVar(&cfg.FreeScout.URL, "freescout-url", "https://support.example.com", "FreeScout base URL (required)")

	// Slack flags
	fs.StringVar(&cfg.Slack.WebhookURL, "slack-webhook", "", "Slack webhook URL for SLA breach alerts")
	fs.DurationVar(&cfg.Slack.Timeout.Duration, "slack-timeout", 10*time.Second, "Slack request timeout")
	fs.IntVar(&cfg.Slack.RetryAttempts, "slack-retry-attempts", 3, "Slack retry attempts")

	// Tray flags
	fs.DurationVar(&cfg.Tray.PollInterval.Duration, "poll-interval", time.Minute, "Mailbox refresh interval")
	fs.DurationVar(&cfg.Tray.TickInterval.Duration, "tick-interval", 5*time.Second, "Countdown refresh interval")
	fs.DurationVar(&cfg.Tray.ProbeInterval.Duration, "probe-interval", time.Second, "Connectivity probe interval while offline")
	fs.BoolVar(&cfg.Tray.DesktopAlerts, "desktop-alerts", true, "Show a desktop notification when a ticket breaches its SLA")

	// Business hours flags
	fs.BoolVar(&cfg.BusinessHours.Enabled, "business-hours-enabled", true, "Only send Slack alerts during business hours")
	fs.IntVar(&cfg.BusinessHours.StartHour, "business-hours-start", 9, "Business hours start (0-23)")
	fs.IntVar(&cfg.BusinessHours.EndHour, "business-hours-end", 17, "Business hours end (0-23)")
	fs.StringVar(&cfg.BusinessHours.Timezone, "business-hours-timezone", "America/Chicago", "Business hours timezone")
	workDaysStr := fs.String("business-hours-days", "1,2,3,4,5", "Business days (1=Mon, 7=Sun)")
	fs.BoolVar(&cfg.BusinessHours.NotifyOnOpen, "notify-on-hours-start", true, "Send queued alerts when business hours start")
	fs.StringVar(&cfg.BusinessHours.HolidaysFile, "holidays-file", "", "Path to holidays JSON file")

	// Cleanup flags
	fs.IntVar(&cfg.RetentionDays, "retention-days", 90, "Days to retain breach history")
	fs.BoolVar(&cfg.AutoVacuum, "auto-vacuum", false, "Automatically vacuum database after cleanup")
	fs.StringVar(&cfg.CleanupSchedule, "cleanup-schedule", "@daily", "Cron schedule for history cleanup while running")

	// Operational flags
	fs.StringVar(&cfg.LockFile, "lock-file", filepath.Join(os.TempDir(), "freescout-sla-tray.lock"), "Single instance lock file")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", "text", "Log format (text or json)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	fs.BoolVar(&cfg.CheckConnections, "check-connections", false, "Test connections and exit")
	fs.BoolVar(&cfg.InitDB, "init-db", false, "Initialize database and exit")
	fs.BoolVar(&cfg.StatsOnly, "stats-only", false, "Print breach statistics and exit")
	fs.BoolVar(&cfg.Cleanup, "cleanup", false, "Clean up old records and exit")
	fs.StringVar(&cfg.ResetOption, "reset-option", "", "Reset a tray option to its default and exit")
	fs.StringVar(&cfg.SetOption, "set-option", "", "Set a tray option (name=value) and exit")
	fs.StringVar(&cfg.WriteConfig, "write-config", "", "Write the effective configuration to a JSON file and exit")

	fs.Parse(args)

	// Load config file if specified
	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
			os.Exit(1)
		}
	}

	if cfg.BusinessHours.WorkDays == nil {
		cfg.BusinessHours.WorkDays = parseWorkDays(*workDaysStr)
	}

	return cfg
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./freescout-sla-tray.db"
	}
	return filepath.Join(dir, "freescout-sla-tray", "state.db")
}

func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (c *Config) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	if c.FreeScout.DSN == "" {
		return fmt.Errorf("--freescout-dsn is required")
	}

	if err := c.validateDSN(); err != nil {
		return fmt.Errorf("invalid DSN: %w", err)
	}

	if c.FreeScout.URL == "" {
		return fmt.Errorf("--freescout-url is required")
	}
	u, err := url.Parse(c.FreeScout.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("--freescout-url must be an absolute URL")
	}

	if c.Tray.PollInterval.Duration < time.Second {
		return fmt.Errorf("--poll-interval must be at least 1s")
	}
	if c.Tray.TickInterval.Duration <= 0 || c.Tray.ProbeInterval.Duration <= 0 {
		return fmt.Errorf("--tick-interval and --probe-interval must be positive")
	}

	if c.BusinessHours.StartHour < 0 || c.BusinessHours.StartHour > 23 {
		return fmt.Errorf("--business-hours-start must be 0-23")
	}
	if c.BusinessHours.EndHour < 0 || c.BusinessHours.EndHour > 23 {
		return fmt.Errorf("--business-hours-end must be 0-23")
	}
	if c.BusinessHours.StartHour >= c.BusinessHours.EndHour {
		return fmt.Errorf("--business-hours-start must be before --business-hours-end")
	}

	return nil
}

// DashboardURL is the FreeScout root, the default mailbox folder URL.
func (c *Config) DashboardURL() string {
	return strings.TrimRight(c.FreeScout.URL, "/") + "/"
}

// validateDSN performs basic validation on the MySQL DSN format
func (c *Config) validateDSN() error {
	dsn := c.FreeScout.DSN

	if !strings.Contains(dsn, "@") || !strings.Contains(dsn, "/") {
		return fmt.Errorf("DSN must be in format 'user:password@tcp(host:port)/database?options'")
	}

	if strings.HasPrefix(dsn, "tcp://") {
		return fmt.Errorf("DSN should not include 'tcp://' scheme, use format: 'user:password@tcp(host:port)/database'")
	}

	// Timestamps are scanned into time.Time.
	if !strings.Contains(dsn, "parseTime=true") {
		return fmt.Errorf("DSN must set parseTime=true")
	}

	return nil
}

// GetDSNInfo returns parsed information from the DSN for display purposes
func (c *Config) GetDSNInfo() map[string]string {
	info := make(map[string]string)
	dsn := c.FreeScout.DSN

	parts := strings.Split(dsn, "@")
	if len(parts) >= 2 {
		// Extract user (hide password)
		userPass := strings.Split(parts[0], ":")
		if len(userPass) >= 1 {
			info["user"] = userPass[0]
		}

		remaining := parts[1]
		if strings.HasPrefix(remaining, "tcp(") {
			end := strings.Index(remaining, ")")
			if end > 4 {
				hostPort := remaining[4:end]
				info["host_port"] = hostPort

				hostPortParts := strings.Split(hostPort, ":")
				if len(hostPortParts) >= 2 {
					info["host"] = hostPortParts[0]
					info["port"] = hostPortParts[1]
				}
			}

			remaining = remaining[end+1:]
			if strings.HasPrefix(remaining, "/") {
				dbParts := strings.Split(remaining[1:], "?")
				if len(dbParts) >= 1 {
					info["database"] = dbParts[0]
				}
			}
		}
	}

	return info
}

func parseWorkDays(s string) []time.Weekday {
	parts := strings.Split(s, ",")
	days := make([]time.Weekday, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		switch p {
		case "1":
			days = append(days, time.Monday)
		case "2":
			days = append(days, time.Tuesday)
		case "3":
			days = append(days, time.Wednesday)
		case "4":
			days = append(days, time.Thursday)
		case "5":
			days = append(days, time.Friday)
		case "6":
			days = append(days, time.Saturday)
		case "7":
			days = append(days, time.Sunday)
		}
	}

	return days
}
