// Package runner executes one measurement run: disk samples, folder sizes,
// then alert and report decisions.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/darshan-rambhia/diskstats/internal/alerter"
	"github.com/darshan-rambhia/diskstats/internal/collector"
	"github.com/darshan-rambhia/diskstats/internal/model"
	"github.com/darshan-rambhia/diskstats/internal/store"
	"github.com/darshan-rambhia/diskstats/internal/throttle"
)

// Options configures a Runner.
type Options struct {
	StatePath string
	// DryRun leaves the throttle state file untouched.
	DryRun bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Runner wires the collectors, the store and the alerter together.
type Runner struct {
	store     *store.Store
	disks     *collector.DiskCollector
	folders   *collector.FolderCollector
	alerter   *alerter.Alerter
	statePath string
	dryRun    bool
	now       func() time.Time
}

// New creates a Runner. st may be nil when the database could not be opened;
// the run then measures and notifies without storing anything.
func New(st *store.Store, disks *collector.DiskCollector, folders *collector.FolderCollector, al *alerter.Alerter, opts Options) *Runner {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		store:     st,
		disks:     disks,
		folders:   folders,
		alerter:   al,
		statePath: opts.StatePath,
		dryRun:    opts.DryRun,
		now:       now,
	}
}

// Run performs one run. Each stream is written in its own transaction, so a
// storage failure in one leaves the other intact. Run never fails; every
// error ends up in the returned report and in the log.
func (r *Runner) Run(ctx context.Context) model.RunReport {
	start := time.Now()
	report := model.RunReport{
		RunID: uuid.NewString(),
		Time:  r.now(),
	}
	log := slog.With("run_id", report.RunID)
	log.Info("run started", "dry_run", r.dryRun)

	err := r.stream(func(w streamStore) error {
		res, err := r.disks.Collect(ctx, w, report.Time)
		report.Disks = res
		return err
	})
	if err != nil {
		log.Error("disk stream aborted", "error", err)
		report.Disks.Errors = append(report.Disks.Errors, err)
	}

	err = r.stream(func(w streamStore) error {
		res, err := r.folders.Collect(w, report.Time)
		report.Folders = res
		return err
	})
	if err != nil {
		log.Error("folder stream aborted", "error", err)
		report.Folders.Errors = append(report.Folders.Errors, err)
	}

	state, err := throttle.Load(r.statePath)
	if err != nil {
		log.Warn("throttle state unusable, starting empty", "error", err)
	}

	next := r.alerter.DecideAndSend(ctx, report, state, report.Time)

	if r.dryRun {
		log.Info("dry run, throttle state not saved", "path", r.statePath)
	} else if err := throttle.Save(r.statePath, next); err != nil {
		log.Error("saving throttle state", "error", err)
	}

	log.Info("run complete",
		"disk_samples", len(report.Disks.Samples),
		"folder_samples", len(report.Folders.Samples),
		"errors", report.ErrorCount(),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return report
}

var errNoStore = errors.New("database not open")

// streamStore is what one collector stream writes through.
type streamStore interface {
	collector.DiskStore
	collector.FolderStore
}

// stream runs collect inside its own transaction. When no transaction can be
// opened, collect still runs against a store that rejects every write, so the
// report keeps the measurements.
func (r *Runner) stream(collect func(w streamStore) error) error {
	if r.store == nil {
		err := &store.StorageError{Op: "opening transaction", Err: errNoStore}
		_ = collect(unavailable{err: err})
		return err
	}

	began := false
	err := r.store.Update(func(tx *store.Tx) error {
		began = true
		return collect(tx)
	})
	if err != nil && !began {
		_ = collect(unavailable{err: err})
	}
	return err
}

// unavailable fails every write with err.
type unavailable struct{ err error }

func (u unavailable) GetOrCreateFileSystem(string) (int64, error) {
	return 0, u.err
}

func (u unavailable) GetOrCreateMountPoint(string) (int64, error) {
	return 0, u.err
}

func (u unavailable) InsertDiskSample(*model.DiskSample) error {
	return u.err
}

func (u unavailable) EnsureFolder(string, *int64, time.Time) (int64, error) {
	return 0, u.err
}

func (u unavailable) UpdateFolderSize(int64, int64, time.Time) error {
	return u.err
}

func (u unavailable) UpsertFolder(string, *int64, int64, time.Time) (int64, error) {
	return 0, u.err
}

func (u unavailable) PruneFolders(int64, []string) (int64, error) {
	return 0, u.err
}

func (u unavailable) InsertFolderSample(*model.FolderSizeSample) error {
	return u.err
}
