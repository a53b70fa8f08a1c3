package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/voicetel/suitecrm-notifier/internal/config"
	"github.com/voicetel/suitecrm-notifier/internal/database"
	"github.com/voicetel/suitecrm-notifier/internal/httpapi"
	"github.com/voicetel/suitecrm-notifier/internal/jobs"
	"github.com/voicetel/suitecrm-notifier/internal/logging"
	"github.com/voicetel/suitecrm-notifier/internal/models"
	"github.com/voicetel/suitecrm-notifier/internal/notifier"
	"github.com/voicetel/suitecrm-notifier/internal/suitecrm"
	"github.com/voicetel/suitecrm-notifier/internal/webhook"
)

// Version information - these will be set at build time via ldflags
var (
	Version   = "dev"     // Version number
	GitCommit = "unknown" // Git commit hash
	BuildDate = "unknown" // Build date
)

func main() {
	// Parse command line flags
	cfg := config.ParseFlags()

	// Check for version flag before other validation
	if cfg.ShowVersion {
		printVersion()
		os.Exit(0)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Set up logging
	logger := logging.NewLogger(cfg.LogFormat, cfg.Verbose, nil)
	logger.SetAsDefault()

	if cfg.Verbose {
		logger.Info("Starting SuiteCRM Notifier",
			"version", Version,
			"git_commit", GitCommit,
			"store_backend", cfg.StoreBackend,
			"poll_interval", cfg.PollInterval.String(),
			"dry_run", cfg.DryRun,
		)
	}

	// Open the token store
	store, sqliteStore, err := openStore(cfg)
	if err != nil {
		logger.LogError("Failed to open token store", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize database schema if requested
	if cfg.InitDB {
		if sqliteStore == nil {
			logger.Error("-init-db only applies to the sqlite backend")
			os.Exit(1)
		}
		if err := sqliteStore.InitSchema(); err != nil {
			logger.LogError("Failed to initialize database schema", err)
			os.Exit(1)
		}
		fmt.Println("Database initialized successfully!")
		os.Exit(0)
	}

	// Cleanup mode
	if cfg.Cleanup {
		if sqliteStore == nil {
			logger.Error("-cleanup only applies to the sqlite backend")
			os.Exit(1)
		}
		if err := performCleanup(sqliteStore, cfg, logger); err != nil {
			logger.LogError("Failed to perform cleanup", err)
			os.Exit(1)
		}
		fmt.Println("Cleanup completed successfully!")
		os.Exit(0)
	}

	// Stats only mode
	if cfg.StatsOnly {
		if sqliteStore == nil {
			logger.Error("-stats-only only applies to the sqlite backend")
			os.Exit(1)
		}
		if err := printStats(sqliteStore); err != nil {
			logger.LogError("Failed to print stats", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Check connections mode
	if cfg.CheckConnections {
		if err := checkConnections(store, cfg, logger); err != nil {
			logger.LogError("Connection check failed", err)
			os.Exit(1)
		}
		fmt.Println("All connections successful!")
		os.Exit(0)
	}

	// Wire up the dispatcher
	crm := suitecrm.NewClient(store, cfg.APITimeout, logger)
	sink := webhook.NewClient(cfg.Webhook)
	var recorder database.NotificationRecorder
	if sqliteStore != nil {
		recorder = sqliteStore
	}
	n := notifier.New(store, crm, sink, recorder, cfg, logger)

	if cfg.Daemon {
		if err := runDaemon(cfg, store, crm, n, logger); err != nil {
			logger.LogError("Daemon failed", err)
			os.Exit(1)
		}
		return
	}

	// One-shot run (cron-friendly)
	stats, err := n.Run(context.Background())
	if err != nil {
		logger.LogError("Notification run failed", err)
		os.Exit(1)
	}

	// Print statistics if requested
	if cfg.Stats || cfg.Verbose {
		printRunStats(stats, logger)
	}
}

func openStore(cfg *config.Config) (database.TokenStore, *database.SQLiteStore, error) {
	switch cfg.StoreBackend {
	case config.BackendHostDB:
		store, err := database.ConnectHostDB(cfg.HostDB.DSN, cfg.HostDB.TablePrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("hostdb connection failed: %w", err)
		}
		return store, nil, nil
	default:
		store, err := database.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		if err := store.InitSchema(); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("sqlite schema init failed: %w", err)
		}
		return store, store, nil
	}
}

func runDaemon(cfg *config.Config, store database.TokenStore, crm *suitecrm.Client, n *notifier.Notifier, logger *logging.Logger) error {
	trigger, err := jobs.New(cfg.PollInterval.Duration, n, logger)
	if err != nil {
		return err
	}
	trigger.Start()
	defer trigger.Stop()

	api := httpapi.NewServer(store, crm, cfg, logger)
	srv := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.HTTP.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	}

	return srv.Shutdown(context.Background())
}

func printVersion() {
	fmt.Printf("SuiteCRM Notifier\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Date: %s\n", BuildDate)
}

func checkConnections(store database.TokenStore, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Checking connections...")

	if cfg.StoreBackend == config.BackendHostDB {
		info := cfg.GetDSNInfo()
		logger.Info("Host platform database reachable",
			"host", info["host"],
			"database", info["database"],
		)
	}

	// An incomplete credential set means the admin setup is not done yet.
	creds, err := database.LoadCredentials(store)
	if err != nil {
		return fmt.Errorf("token store read failed: %w", err)
	}
	if !creds.Complete() {
		logger.Info("OAuth app credentials are not fully configured yet")
	} else {
		logger.Info("OAuth app configured", "instance_url", creds.BaseURL)
	}

	if cfg.Webhook.URL != "" {
		logger.Info("Testing notification webhook...")
		if err := webhook.Test(cfg.Webhook.URL); err != nil {
			return fmt.Errorf("webhook test failed: %w", err)
		}
		logger.Info("Notification webhook test successful")
	}

	return nil
}

func printStats(store *database.SQLiteStore) error {
	stats, err := store.GetNotificationStats()
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	// Always use human-readable format for --stats-only
	printHumanReadableStats(stats)
	return nil
}

func printHumanReadableStats(stats map[string]interface{}) {
	fmt.Printf("\n=== SuiteCRM Notifier Statistics ===\n\n")

	if total, ok := stats["total_notifications"].(int); ok {
		fmt.Printf("Total Notifications: %d\n", total)
	}
	if linked, ok := stats["linked_users"].(int); ok {
		fmt.Printf("Linked Users: %d\n\n", linked)
	}

	if subjectMap, ok := stats["by_subject"].(map[string]int); ok {
		fmt.Printf("By Subject:\n")
		for subject, count := range subjectMap {
			fmt.Printf("  %s: %d\n", subject, count)
		}
		fmt.Println()
	}

	if sent24h, ok := stats["sent_last_24h"].(int); ok {
		fmt.Printf("Sent in Last 24 Hours: %d\n\n", sent24h)
	}

	if openStats, ok := stats["open_tickets_7d"].(map[string]interface{}); ok {
		fmt.Printf("Open Tickets per Notification (Last 7 Days):\n")
		if avg, ok := openStats["average"].(float64); ok {
			fmt.Printf("  Average: %.1f\n", avg)
		}
		if max, ok := openStats["maximum"].(float64); ok {
			fmt.Printf("  Maximum: %.0f\n", max)
		}
	}
}

func printRunStats(stats *models.RunStats, logger *logging.Logger) {
	statsMap := map[string]interface{}{
		"users_checked":      stats.UsersChecked,
		"users_skipped":      stats.UsersSkipped,
		"alerts_seen":        stats.AlertsSeen,
		"notifications_sent": stats.NotificationsSent,
		"errors":             stats.Errors,
		"duration":           stats.Duration.String(),
	}

	// Use the logger's structured logging capability
	logger.LogRunStats(statsMap)

	// Also print human-readable format for console output
	fmt.Printf("\n=== Run Statistics ===\n")
	fmt.Printf("Users checked: %d\n", stats.UsersChecked)
	fmt.Printf("Users skipped: %d\n", stats.UsersSkipped)
	fmt.Printf("Alerts seen: %d\n", stats.AlertsSeen)
	fmt.Printf("Notifications sent: %d\n", stats.NotificationsSent)
	fmt.Printf("Errors: %d\n", stats.Errors)
	fmt.Printf("Duration: %s\n", stats.Duration)
}

func performCleanup(store *database.SQLiteStore, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting database cleanup",
		"retention_days", cfg.RetentionDays,
		"auto_vacuum", cfg.AutoVacuum,
	)

	if err := notifier.CleanupOldNotifications(store, cfg.RetentionDays); err != nil {
		return fmt.Errorf("failed to cleanup old notifications: %w", err)
	}

	if cfg.AutoVacuum {
		if err := notifier.VacuumDatabase(store); err != nil {
			return fmt.Errorf("failed to vacuum database: %w", err)
		}
	}

	return nil
}
