// Package alerter decides which usage alerts and digest reports a run sends.
package alerter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/darshan-rambhia/diskstats/internal/model"
	"github.com/darshan-rambhia/diskstats/internal/notify"
	"github.com/darshan-rambhia/diskstats/internal/throttle"
	"github.com/darshan-rambhia/diskstats/internal/units"
)

// AlertConfig holds the per-device usage alert rule.
type AlertConfig struct {
	Enabled   bool
	Threshold float64 // percent
	Interval  time.Duration
}

// ReportConfig holds the digest report rule.
type ReportConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Config configures an Alerter.
type Config struct {
	Alerts  AlertConfig
	Reports ReportConfig
	Host    string
	// DryRun logs notifications instead of delivering them.
	DryRun bool
}

// DefaultConfig returns sensible alerter defaults.
func DefaultConfig() Config {
	return Config{
		Alerts:  AlertConfig{Enabled: true, Threshold: 80, Interval: 24 * time.Hour},
		Reports: ReportConfig{Enabled: true, Interval: 24 * time.Hour},
	}
}

// NotificationLog records every attempted notification.
type NotificationLog interface {
	InsertNotification(ts time.Time, runID string, n model.Notification, delivered bool) error
}

// Alerter renders and sends notifications for a run.
type Alerter struct {
	log       NotificationLog
	providers []notify.Provider
	config    Config
}

// NewAlerter creates a new alerter. log may be nil.
func NewAlerter(log NotificationLog, providers []notify.Provider, cfg Config) *Alerter {
	return &Alerter{
		log:       log,
		providers: providers,
		config:    cfg,
	}
}

// DecideAndSend evaluates the alert and report rules for report and returns
// the updated throttle state. state is not modified. A key is marked as soon
// as its notification is staged, whether or not delivery succeeds.
func (a *Alerter) DecideAndSend(ctx context.Context, report model.RunReport, state throttle.State, now time.Time) throttle.State {
	next := state.Clone()

	if a.config.Alerts.Enabled {
		if n, ok := a.alert(report, next, now); ok {
			for _, dev := range n.Devices {
				next.Devices[dev] = now
			}
			a.dispatch(ctx, report.RunID, n)
		}
	}

	if a.config.Reports.Enabled && a.reportDue(next, now) {
		body := RenderReport(report)
		if body != "" {
			next.Mark(throttle.ReportKey, now)
			a.dispatch(ctx, report.RunID, model.Notification{
				Kind:      model.KindReport,
				Host:      a.config.Host,
				Subject:   a.subject("Disk usage report"),
				Body:      body,
				Timestamp: now,
			})
		} else {
			slog.Debug("report skipped, nothing to report")
		}
	}

	return next
}

// alert stages one line per device at or above the threshold whose alert
// window has elapsed.
func (a *Alerter) alert(report model.RunReport, state throttle.State, now time.Time) (model.Notification, bool) {
	interval := a.config.Alerts.Interval
	var (
		lines   []string
		devices []string
	)
	seen := make(map[string]bool)
	for _, s := range report.Disks.Samples {
		if s.Size <= 0 || seen[s.Device] {
			continue
		}
		pct := s.UsagePct()
		if pct < a.config.Alerts.Threshold {
			continue
		}
		last, ok := state.Devices[s.Device]
		if !ok {
			last = now.Add(-2 * interval)
		}
		if now.Sub(last) < interval {
			slog.Debug("alert throttled", "device", s.Device, "last_sent", last)
			continue
		}
		seen[s.Device] = true
		devices = append(devices, s.Device)
		lines = append(lines, fmt.Sprintf("%s mounted on %s is %s full (%s used of %s)",
			s.Device, s.MountPath, units.FormatPct(pct), units.FormatSize(s.UsedSpace), units.FormatSize(s.Size)))
	}
	if len(devices) == 0 {
		return model.Notification{}, false
	}

	body := fmt.Sprintf("The following partitions are above %s usage:\n\n%s\n\nThese partitions will not be reported again for %s.\n",
		units.FormatPct(a.config.Alerts.Threshold), strings.Join(lines, "\n"), units.FormatDuration(interval))
	return model.Notification{
		Kind:      model.KindAlert,
		Host:      a.config.Host,
		Subject:   a.subject("Disk usage alert"),
		Body:      body,
		Devices:   devices,
		Timestamp: now,
	}, true
}

// reportDue compares strictly, unlike the alert window.
func (a *Alerter) reportDue(state throttle.State, now time.Time) bool {
	interval := a.config.Reports.Interval
	last := state.LastSentOr(throttle.ReportKey, now.Add(-2*interval))
	return now.Sub(last) > interval
}

func (a *Alerter) subject(s string) string {
	if a.config.Host == "" {
		return s
	}
	return "[" + a.config.Host + "] " + s
}

// dispatch sends n to every provider concurrently and records the outcome.
func (a *Alerter) dispatch(ctx context.Context, runID string, n model.Notification) {
	if a.config.DryRun {
		slog.Info("dry run, notification not sent",
			"kind", n.Kind,
			"subject", n.Subject,
			"devices", n.Devices,
			"body", n.Body,
		)
		return
	}

	delivered := a.deliver(ctx, n)

	if a.log != nil {
		if err := a.log.InsertNotification(n.Timestamp, runID, n, delivered); err != nil {
			slog.Error("storing notification", "kind", n.Kind, "error", err)
		}
	}

	level := slog.LevelInfo
	if n.Kind == model.KindAlert {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "notification sent",
		"kind", n.Kind,
		"subject", n.Subject,
		"devices", n.Devices,
		"delivered", delivered,
	)
}

// deliver reports whether at least one provider accepted n. Failures are
// logged per provider and never returned.
func (a *Alerter) deliver(ctx context.Context, n model.Notification) bool {
	if len(a.providers) == 0 {
		slog.Warn("no notification providers configured", "kind", n.Kind)
		return false
	}

	var ok atomic.Int32
	var g errgroup.Group
	for _, p := range a.providers {
		g.Go(func() error {
			if err := p.Send(ctx, n); err != nil {
				slog.Error("sending notification", "provider", p.Name(), "kind", n.Kind, "error", err)
				return err
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return ok.Load() > 0
}
