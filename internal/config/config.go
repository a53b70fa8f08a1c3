package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	BackendSQLite = "sqlite"
	BackendHostDB = "hostdb"
)

type Config struct {
	// Token store
	StoreBackend string       `json:"store_backend"` // sqlite or hostdb
	DBPath       string       `json:"db_path"`
	HostDB       HostDBConfig `json:"hostdb"`

	// SuiteCRM
	APITimeout time.Duration `json:"api_timeout"`

	// Host notification webhook
	Webhook WebhookConfig `json:"webhook"`

	// Polling
	PollInterval Duration `json:"poll_interval"`

	// HTTP API
	HTTP HTTPConfig `json:"http"`

	// Cleanup
	RetentionDays int  `json:"retention_days"`
	AutoVacuum    bool `json:"auto_vacuum"`

	// Operational
	Daemon           bool   `json:"daemon"`
	DryRun           bool   `json:"dry_run"`
	Verbose          bool   `json:"verbose"`
	LogFormat        string `json:"log_format"`
	Stats            bool   `json:"stats"`
	ShowVersion      bool   `json:"-"`
	CheckConnections bool   `json:"-"`
	InitDB           bool   `json:"-"`
	StatsOnly        bool   `json:"-"`
	Cleanup          bool   `json:"-"`
}

type HostDBConfig struct {
	DSN         string `json:"dsn"`          // Host platform database connection string
	TablePrefix string `json:"table_prefix"` // Prefix of the preferences/appconfig tables
}

type WebhookConfig struct {
	URL           string        `json:"url"`
	Timeout       time.Duration `json:"timeout"`
	RetryAttempts int           `json:"retry_attempts"`
}

type HTTPConfig struct {
	ListenAddr string `json:"listen_addr"`
	APIKey     string `json:"api_key"`
}

func ParseFlags() *Config {
	cfg := &Config{PollInterval: Duration{15 * time.Minute}}

	// Config file flag
	configFile := flag.String("config-file", "", "Path to JSON configuration file")

	// Token store flags
	flag.StringVar(&cfg.StoreBackend, "store-backend", BackendSQLite, "Token store backend (sqlite or hostdb)")
	flag.StringVar(&cfg.DBPath, "db-path", "./suitecrm-notifier.db", "Path to SQLite database")
	flag.StringVar(&cfg.HostDB.DSN, "hostdb-dsn", "", "Host platform database DSN (required with -store-backend=hostdb)")
	flag.StringVar(&cfg.HostDB.TablePrefix, "hostdb-table-prefix", "oc_", "Host platform table prefix")

	// SuiteCRM flags
	flag.DurationVar(&cfg.APITimeout, "api-timeout", 30*time.Second, "SuiteCRM API request timeout")

	// Webhook flags
	flag.StringVar(&cfg.Webhook.URL, "webhook-url", "", "Host notification webhook URL (required)")
	flag.DurationVar(&cfg.Webhook.Timeout, "webhook-timeout", 10*time.Second, "Webhook request timeout")
	flag.IntVar(&cfg.Webhook.RetryAttempts, "webhook-retry-attempts", 3, "Webhook retry attempts")

	// Polling flags
	flag.DurationVar(&cfg.PollInterval.Duration, "poll-interval", 15*time.Minute, "Interval between open-ticket checks")

	// HTTP API flags
	flag.StringVar(&cfg.HTTP.ListenAddr, "listen-addr", ":8480", "HTTP API listen address (daemon mode)")
	flag.StringVar(&cfg.HTTP.APIKey, "api-key", "", "Shared secret required on HTTP API requests")

	// Cleanup flags
	flag.IntVar(&cfg.RetentionDays, "retention-days", 90, "Days to retain notification history")
	flag.BoolVar(&cfg.AutoVacuum, "auto-vacuum", false, "Automatically vacuum database after cleanup")

	// Operational flags
	flag.BoolVar(&cfg.Daemon, "daemon", false, "Run the periodic trigger and HTTP API until interrupted")
	flag.BoolVar(&cfg.DryRun, "dry-run", false, "Check tickets but don't push notifications")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	flag.StringVar(&cfg.LogFormat, "log-format", "text", "Log format (text or json)")
	flag.BoolVar(&cfg.Stats, "stats", false, "Print statistics at end")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	flag.BoolVar(&cfg.CheckConnections, "check-connections", false, "Test connections and exit")
	flag.BoolVar(&cfg.InitDB, "init-db", false, "Initialize database and exit")
	flag.BoolVar(&cfg.StatsOnly, "stats-only", false, "Print statistics and exit")
	flag.BoolVar(&cfg.Cleanup, "cleanup", false, "Clean up old records and exit")

	flag.Parse()

	// Load config file if specified
	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
			os.Exit(1)
		}
	}

	return cfg
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
	switch c.StoreBackend {
	case BackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("--db-path is required with --store-backend=sqlite")
		}
	case BackendHostDB:
		if c.HostDB.DSN == "" {
			return fmt.Errorf("--hostdb-dsn is required with --store-backend=hostdb")
		}
		if err := c.validateDSN(); err != nil {
			return fmt.Errorf("invalid DSN: %w", err)
		}
	default:
		return fmt.Errorf("--store-backend must be %s or %s", BackendSQLite, BackendHostDB)
	}

	if c.Webhook.URL == "" && !c.DryRun && !c.CheckConnections && !c.InitDB && !c.StatsOnly && !c.Cleanup {
		return fmt.Errorf("--webhook-url is required")
	}

	if c.PollInterval.Duration < time.Minute {
		return fmt.Errorf("--poll-interval must be at least one minute")
	}

	if c.Daemon && c.HTTP.ListenAddr == "" {
		return fmt.Errorf("--listen-addr is required in daemon mode")
	}

	return nil
}

// validateDSN performs basic validation on the MySQL DSN format
func (c *Config) validateDSN() error {
	dsn := c.HostDB.DSN

	// Basic format check: should contain @ and /
	if !strings.Contains(dsn, "@") || !strings.Contains(dsn, "/") {
		return fmt.Errorf("DSN must be in format 'user:password@tcp(host:port)/database?options'")
	}

	// Try to parse as URL to catch common formatting errors
	if strings.HasPrefix(dsn, "tcp://") {
		return fmt.Errorf("DSN should not include 'tcp://' scheme, use format: 'user:password@tcp(host:port)/database'")
	}

	return nil
}

// GetDSNInfo returns parsed information from the DSN for display purposes
func (c *Config) GetDSNInfo() map[string]string {
	info := make(map[string]string)
	dsn := c.HostDB.DSN

	// Parse DSN components
	parts := strings.Split(dsn, "@")
	if len(parts) >= 2 {
		// Extract user (hide password)
		userPass := strings.Split(parts[0], ":")
		if len(userPass) >= 1 {
			info["user"] = userPass[0]
		}

		// Extract host/port/database
		remaining := parts[1]
		if strings.HasPrefix(remaining, "tcp(") {
			end := strings.Index(remaining, ")")
			if end > 4 {
				hostPort := remaining[4:end]
				info["host_port"] = hostPort

				// Extract host and port separately
				hostPortParts := strings.Split(hostPort, ":")
				if len(hostPortParts) >= 2 {
					info["host"] = hostPortParts[0]
					info["port"] = hostPortParts[1]
				}
			}

			// Extract database
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
