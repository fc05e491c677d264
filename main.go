package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/voicetel/freescout-sla-tray/internal/config"
	"github.com/voicetel/freescout-sla-tray/internal/database"
	"github.com/voicetel/freescout-sla-tray/internal/logging"
	"github.com/voicetel/freescout-sla-tray/internal/notifier"
	"github.com/voicetel/freescout-sla-tray/internal/options"
	"github.com/voicetel/freescout-sla-tray/internal/slack"
)

// Version information - these will be set at build time via ldflags
var (
	Version   = "dev"     // Version number
	GitCommit = "unknown" // Git commit hash
	BuildDate = "unknown" // Build date
	GoVersion = "unknown" // Go version used to build
)

const lockTimeout = 2 * time.Second

func main() {
	cfg := config.ParseFlags()

	// Check for version flag before other validation
	if cfg.ShowVersion {
		printVersion()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if cfg.WriteConfig != "" {
		if err := cfg.SaveToFile(cfg.WriteConfig); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Configuration written to %s\n", cfg.WriteConfig)
		os.Exit(0)
	}

	logger := logging.NewLogger(cfg.LogFormat, cfg.Verbose, nil, logging.BuildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildDate: BuildDate,
	})
	logger.SetAsDefault()

	logger.Verbose("Starting FreeScout SLA tray",
		"freescout_url", cfg.FreeScout.URL,
		"db_path", cfg.DBPath,
		"business_hours_enabled", cfg.BusinessHours.Enabled,
		"slack_enabled", cfg.Slack.WebhookURL != "",
	)

	if cfg.CheckConnections {
		if err := checkConnections(cfg, logger); err != nil {
			logger.LogError("Connection check failed", err)
			os.Exit(1)
		}
		fmt.Println("All connections successful!")
		os.Exit(0)
	}

	db, err := database.InitSQLite(cfg.DBPath)
	if err != nil {
		logger.LogError("Failed to initialize SQLite", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.InitSchema(db); err != nil {
		logger.LogError("Failed to initialize database schema", err)
		os.Exit(1)
	}

	if cfg.InitDB {
		fmt.Println("Database initialized successfully!")
		return
	}

	store := options.NewStore(db, options.Schema(cfg.DashboardURL()))

	switch {
	case cfg.Cleanup:
		if err := performCleanup(db, cfg, logger); err != nil {
			logger.LogError("Failed to perform cleanup", err)
			os.Exit(1)
		}
		fmt.Println("Cleanup completed successfully!")
		return

	case cfg.StatsOnly:
		if err := printStats(db); err != nil {
			logger.LogError("Failed to print stats", err)
			os.Exit(1)
		}
		return

	case cfg.ResetOption != "":
		if err := store.Reset(cfg.ResetOption); err != nil {
			logger.LogError("Failed to reset option", err, "option", cfg.ResetOption)
			os.Exit(1)
		}
		fmt.Printf("%s reset to default\n", cfg.ResetOption)
		return

	case cfg.SetOption != "":
		name, value, ok := strings.Cut(cfg.SetOption, "=")
		if !ok {
			log.Fatalf("Configuration error: --set-option expects name=value")
		}
		if err := store.Set(name, value); err != nil {
			logger.LogError("Failed to set option", err, "option", name)
			os.Exit(1)
		}
		fmt.Printf("%s = %s\n", name, value)
		return
	}

	lock, err := acquireInstanceLock(cfg.LockFile)
	if err != nil {
		logger.LogError("Another instance is running", err)
		os.Exit(1)
	}
	defer lock.Unlock()

	if err := runTray(cfg, db, store, logger); err != nil {
		logger.LogError("Tray exited with error", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("FreeScout SLA Tray\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Go Version: %s\n", GoVersion)
}

// acquireInstanceLock keeps a second tray from fighting over the same state.
// The caller must Unlock the returned lock.
func acquireInstanceLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock held: %s", path)
	}

	return lock, nil
}

func checkConnections(cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Checking connections...")

	logger.Info("Testing FreeScout database connection...", "database", cfg.GetDSNInfo()["database"], "host", cfg.GetDSNInfo()["host_port"])
	fsDB, err := database.ConnectFreeScout(cfg.FreeScout)
	if err != nil {
		return fmt.Errorf("FreeScout connection failed: %w", err)
	}
	fsDB.Close()
	logger.Info("FreeScout database connection successful")

	if cfg.Slack.WebhookURL != "" {
		logger.Info("Testing Slack webhook...")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Slack.Timeout.Or(10*time.Second))
		defer cancel()
		if err := slack.TestWebhook(ctx, cfg.Slack); err != nil {
			return fmt.Errorf("Slack webhook test failed: %w", err)
		}
		logger.Info("Slack webhook test successful")
	}

	return nil
}

func printStats(db *database.DB) error {
	stats, err := db.GetBreachStats()
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	printHumanReadableStats(stats)
	return nil
}

func printHumanReadableStats(stats map[string]interface{}) {
	fmt.Printf("\n=== FreeScout SLA Breach Statistics ===\n\n")

	if total, ok := stats["total_breaches"].(int); ok {
		fmt.Printf("Total Breaches: %d\n\n", total)
	}

	if statusMap, ok := stats["by_status"].(map[string]int); ok {
		fmt.Printf("By Status:\n")
		for status, count := range statusMap {
			fmt.Printf("  %s: %d\n", status, count)
		}
		fmt.Println()
	}

	if last24h, ok := stats["breaches_last_24h"].(int); ok {
		fmt.Printf("Breaches in Last 24 Hours: %d\n", last24h)
	}

	if queueSize, ok := stats["current_queue_size"].(int); ok {
		fmt.Printf("Current Queue Size: %d\n\n", queueSize)
	}

	if burstEvents, ok := stats["burst_events_7d"].(int); ok {
		if burstSent, ok := stats["burst_notifications_7d"].(int); ok {
			fmt.Printf("Business Hours Bursts (Last 7 Days):\n")
			fmt.Printf("  Events: %d\n", burstEvents)
			fmt.Printf("  Alerts Sent: %d\n\n", burstSent)
		}
	}
}

func performCleanup(db *database.DB, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting database cleanup",
		"retention_days", cfg.RetentionDays,
		"auto_vacuum", cfg.AutoVacuum,
	)

	removed, err := notifier.CleanupOldBreaches(db, cfg.RetentionDays)
	if err != nil {
		return fmt.Errorf("failed to cleanup old breaches: %w", err)
	}

	if cfg.AutoVacuum {
		if err := notifier.VacuumDatabase(db); err != nil {
			return fmt.Errorf("failed to vacuum database: %w", err)
		}
	}

	logger.LogStats("Cleanup finished", map[string]interface{}{
		"breaches_removed": removed,
	})
	return nil
}
