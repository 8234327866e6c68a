// Package config handles loading and validating diskstats configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} placeholders in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ErrConfigFileNotFound is returned by Load when the specified config file does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// Config is the top-level diskstats configuration.
type Config struct {
	DBPath        string               `yaml:"db_path"`
	StatePath     string               `yaml:"state_path"`
	LockPath      string               `yaml:"lock_path"`
	LogLevel      string               `yaml:"log_level"`
	LogFormat     string               `yaml:"log_format"`
	LogFile       string               `yaml:"log_file"`
	Hostname      string               `yaml:"hostname"`
	Partitions    PartitionsConfig     `yaml:"partitions"`
	Folders       FoldersConfig        `yaml:"folders"`
	Alerts        AlertsConfig         `yaml:"alerts"`
	Reports       ReportsConfig        `yaml:"reports"`
	Notifications []NotificationConfig `yaml:"notifications"`
}

// PartitionsConfig selects which partitions are sampled.
type PartitionsConfig struct {
	IncludePseudo  bool     `yaml:"include_pseudo"`
	ExcludeDevices []string `yaml:"exclude_devices"`
}

// FoldersConfig lists the folder trees that are measured.
type FoldersConfig struct {
	WatchedPaths     []string `yaml:"watched_paths"`
	VirtualFilesName string   `yaml:"virtual_files_name"`
}

// AlertsConfig holds the per-device usage alert rule.
type AlertsConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Threshold float64  `yaml:"threshold"`
	Interval  Duration `yaml:"interval"`
}

// ReportsConfig holds the digest report rule.
type ReportsConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
}

// NotificationConfig describes a notification target.
type NotificationConfig struct {
	Type string `yaml:"type"` // "smtp", "ntfy" or "webhook"

	// smtp
	Server   string   `yaml:"server,omitempty"`
	From     string   `yaml:"from,omitempty"`
	To       []string `yaml:"to,omitempty"`
	Cc       []string `yaml:"cc,omitempty"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`

	// ntfy and webhook
	URL     string            `yaml:"url,omitempty"`
	Topic   string            `yaml:"topic,omitempty"`   // ntfy only
	Method  string            `yaml:"method,omitempty"`  // webhook only
	Headers map[string]string `yaml:"headers,omitempty"` // webhook only
}

// Duration wraps time.Duration with YAML string parsing support.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads configuration from a YAML file. An empty path yields the
// defaults plus environment overrides. If a path is given and the file does
// not exist, ErrConfigFileNotFound is returned.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.StatePath == "" {
		return fmt.Errorf("state_path is required")
	}
	if c.LockPath == "" {
		return fmt.Errorf("lock_path is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of: text, json")
	}

	for i, p := range c.Folders.WatchedPaths {
		if p == "" {
			return fmt.Errorf("folders.watched_paths[%d]: path is empty", i)
		}
	}
	if v := c.Folders.VirtualFilesName; v == "" || strings.ContainsRune(v, '/') {
		return fmt.Errorf("folders.virtual_files_name must be a non-empty name without '/'")
	}

	if c.Alerts.Enabled {
		if c.Alerts.Threshold <= 0 || c.Alerts.Threshold > 100 {
			return fmt.Errorf("alerts: threshold must be in (0, 100]")
		}
		if c.Alerts.Interval.Duration <= 0 {
			return fmt.Errorf("alerts: interval must be > 0")
		}
	}
	if c.Reports.Enabled && c.Reports.Interval.Duration <= 0 {
		return fmt.Errorf("reports: interval must be > 0")
	}

	for i, n := range c.Notifications {
		switch n.Type {
		case "smtp":
			if n.Server == "" {
				return fmt.Errorf("notifications[%d]: server is required for smtp", i)
			}
			if _, _, err := net.SplitHostPort(n.Server); err != nil {
				return fmt.Errorf("notifications[%d]: server must be host:port: %w", i, err)
			}
			if n.From == "" {
				return fmt.Errorf("notifications[%d]: from is required for smtp", i)
			}
			if len(n.To) == 0 {
				return fmt.Errorf("notifications[%d]: at least one to address is required for smtp", i)
			}
		case "ntfy":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for ntfy", i)
			}
			if n.Topic == "" {
				return fmt.Errorf("notifications[%d]: topic is required for ntfy", i)
			}
		case "webhook":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for webhook", i)
			}
		default:
			return fmt.Errorf("notifications[%d]: unknown type %q (expected smtp, ntfy or webhook)", i, n.Type)
		}
	}

	return nil
}

func defaults() *Config {
	return &Config{
		DBPath:    "/var/lib/diskstats/diskstats.db",
		StatePath: "/var/lib/diskstats/throttle.json",
		LockPath:  "/var/lib/diskstats/diskstats.lock",
		LogLevel:  "info",
		LogFormat: "text",
		Partitions: PartitionsConfig{
			IncludePseudo: true,
		},
		Folders: FoldersConfig{
			VirtualFilesName: "<files>",
		},
		Alerts: AlertsConfig{
			Enabled:   true,
			Threshold: 80,
			Interval:  Duration{24 * time.Hour},
		},
		Reports: ReportsConfig{
			Enabled:  true,
			Interval: Duration{24 * time.Hour},
		},
	}
}

// expandEnvVars replaces ${VAR_NAME} placeholders in raw YAML with the
// corresponding environment variable values. Unset variables are replaced
// with an empty string, which will then fail validation with a clear error.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		key := string(match[2 : len(match)-1]) // strip ${ and }
		return []byte(os.Getenv(key))
	})
}

func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"DISKSTATS_DB_PATH":    &cfg.DBPath,
		"DISKSTATS_STATE_PATH": &cfg.StatePath,
		"DISKSTATS_LOCK_PATH":  &cfg.LockPath,
		"DISKSTATS_LOG_LEVEL":  &cfg.LogLevel,
		"DISKSTATS_LOG_FORMAT": &cfg.LogFormat,
		"DISKSTATS_LOG_FILE":   &cfg.LogFile,
		"DISKSTATS_HOSTNAME":   &cfg.Hostname,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("DISKSTATS_WATCHED_PATHS"); v != "" {
		cfg.Folders.WatchedPaths = splitList(v)
	}
	if v := os.Getenv("DISKSTATS_EXCLUDE_DEVICES"); v != "" {
		cfg.Partitions.ExcludeDevices = splitList(v)
	}

	bools := map[string]*bool{
		"DISKSTATS_INCLUDE_PSEUDO":  &cfg.Partitions.IncludePseudo,
		"DISKSTATS_ALERTS_ENABLED":  &cfg.Alerts.Enabled,
		"DISKSTATS_REPORTS_ENABLED": &cfg.Reports.Enabled,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	if v := os.Getenv("DISKSTATS_ALERT_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("DISKSTATS_ALERT_THRESHOLD: %w", err)
		}
		cfg.Alerts.Threshold = f
	}

	durations := map[string]*Duration{
		"DISKSTATS_ALERT_INTERVAL":  &cfg.Alerts.Interval,
		"DISKSTATS_REPORT_INTERVAL": &cfg.Reports.Interval,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			dst.Duration = d
		}
	}

	// Single mail target from env vars (only if no YAML notifications configured).
	if len(cfg.Notifications) == 0 {
		if server := os.Getenv("DISKSTATS_SMTP_SERVER"); server != "" {
			cfg.Notifications = append(cfg.Notifications, NotificationConfig{
				Type:     "smtp",
				Server:   server,
				From:     os.Getenv("DISKSTATS_SMTP_FROM"),
				To:       splitList(os.Getenv("DISKSTATS_SMTP_TO")),
				Username: os.Getenv("DISKSTATS_SMTP_USERNAME"),
				Password: os.Getenv("DISKSTATS_SMTP_PASSWORD"),
			})
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
