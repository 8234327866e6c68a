package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/afero"

	"github.com/darshan-rambhia/diskstats/internal/alerter"
	"github.com/darshan-rambhia/diskstats/internal/collector"
	"github.com/darshan-rambhia/diskstats/internal/config"
	"github.com/darshan-rambhia/diskstats/internal/notify"
	"github.com/darshan-rambhia/diskstats/internal/runlock"
	"github.com/darshan-rambhia/diskstats/internal/runner"
	"github.com/darshan-rambhia/diskstats/internal/store"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// buildInfo returns version, commit, build time, and VCS details from the
// embedded Go build info. ldflags-injected values take priority; VCS info
// from debug.ReadBuildInfo fills in anything left as default.
func buildInfo() (ver, sha, built, dirty string) {
	ver = version
	sha = commit
	built = buildTime
	dirty = "clean"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if sha == "none" {
				sha = s.Value
			}
		case "vcs.time":
			if built == "unknown" {
				built = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "dirty"
			}
		}
	}

	return
}

func main() {
	os.Exit(run())
}

// run returns the process exit code. Only failures before the run starts
// are non-zero; a run that hits errors still exits 0.
func run() int {
	configPath := flag.String("config", "", "path to diskstats.yml config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	dryRun := flag.Bool("dry-run", false, "measure and store, but log notifications instead of sending them")
	flag.Parse()

	ver, sha, built, dirty := buildInfo()

	if *showVersion {
		fmt.Printf("diskstats %s\n  commit:    %s (%s)\n  built:     %s\n  go:        %s\n  platform:  %s/%s\n",
			ver, sha, dirty, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return 0
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileNotFound) {
			fmt.Fprintf(os.Stderr, "error: %s\n\n", err)
			fmt.Fprintf(os.Stderr, "Copy the example config to get started:\n")
			fmt.Fprintf(os.Stderr, "  cp diskstats.example.yml %s\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "error: loading config (%s): %s\n", *configPath, err)
		}
		return 1
	}

	// Configure logging
	out := io.Writer(os.Stderr)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: opening log file: %s\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}
	slog.SetDefault(slog.New(newHandler(out, cfg.LogLevel, cfg.LogFormat)))

	host := cfg.Hostname
	if host == "" {
		host, _ = os.Hostname()
	}

	slog.Info("starting diskstats",
		"version", ver,
		"commit", sha,
		"built", built,
		"dirty", dirty,
		"go", runtime.Version(),
		"host", host,
	)

	lock, err := runlock.Acquire(cfg.LockPath)
	if errors.Is(err, runlock.ErrLocked) {
		slog.Warn("previous run still in progress, skipping", "lock", cfg.LockPath)
		return 0
	}
	if err != nil {
		slog.Error("acquiring run lock", "error", err)
		return 1
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Error("releasing run lock", "error", err)
		}
	}()

	// Initialize store. Without one the run still measures and alerts.
	var notifLog alerter.NotificationLog
	st, err := store.New(cfg.DBPath)
	if err != nil {
		slog.Error("opening database, running without storage", "path", cfg.DBPath, "error", err)
		st = nil
	} else {
		defer st.Close()
		notifLog = st
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	disks := collector.NewDiskCollector(collector.DiskConfig{
		ExcludeDevices: cfg.Partitions.ExcludeDevices,
		IncludePseudo:  cfg.Partitions.IncludePseudo,
	}, collector.HostPartitions{})

	folders := collector.NewFolderCollector(collector.FolderConfig{
		WatchedPaths:     cfg.Folders.WatchedPaths,
		VirtualFilesName: cfg.Folders.VirtualFilesName,
	}, collector.NewFSLister(afero.NewOsFs()))

	providers := buildProviders(cfg.Notifications)
	a := alerter.NewAlerter(notifLog, providers, alerterConfig(cfg, host, *dryRun))

	r := runner.New(st, disks, folders, a, runner.Options{
		StatePath: cfg.StatePath,
		DryRun:    *dryRun,
	})
	report := r.Run(ctx)

	slog.Info("diskstats finished", "run_id", report.RunID, "errors", report.ErrorCount(), "notifications", len(providers))
	return 0
}

func newHandler(w io.Writer, level, format string) slog.Handler {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func alerterConfig(cfg *config.Config, host string, dryRun bool) alerter.Config {
	return alerter.Config{
		Alerts: alerter.AlertConfig{
			Enabled:   cfg.Alerts.Enabled,
			Threshold: cfg.Alerts.Threshold,
			Interval:  cfg.Alerts.Interval.Duration,
		},
		Reports: alerter.ReportConfig{
			Enabled:  cfg.Reports.Enabled,
			Interval: cfg.Reports.Interval.Duration,
		},
		Host:   host,
		DryRun: dryRun,
	}
}

// buildProviders maps validated notification entries to providers.
func buildProviders(entries []config.NotificationConfig) []notify.Provider {
	var providers []notify.Provider
	for _, ncfg := range entries {
		switch ncfg.Type {
		case "smtp":
			providers = append(providers, notify.NewSMTP(notify.SMTPConfig{
				Server:   ncfg.Server,
				From:     ncfg.From,
				To:       ncfg.To,
				Cc:       ncfg.Cc,
				Username: ncfg.Username,
				Password: ncfg.Password,
				Timeout:  ncfg.Timeout.Duration,
			}))
		case "ntfy":
			providers = append(providers, notify.NewNtfy(ncfg.URL, ncfg.Topic))
		case "webhook":
			providers = append(providers, notify.NewWebhook(ncfg.URL, ncfg.Method, ncfg.Headers))
		}
	}
	return providers
}
