package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/darshan-rambhia/diskstats/internal/model"
	"github.com/dustin/go-humanize"
)

// DiskConfig selects the partitions to sample.
type DiskConfig struct {
	ExcludeDevices []string
	IncludePseudo  bool
}

// DiskCollector records one usage sample per monitored partition.
type DiskCollector struct {
	source   PartitionSource
	pseudo   bool
	excluded map[string]bool
}

// NewDiskCollector creates a disk collector reading from source.
func NewDiskCollector(cfg DiskConfig, source PartitionSource) *DiskCollector {
	excluded := make(map[string]bool, len(cfg.ExcludeDevices))
	for _, d := range cfg.ExcludeDevices {
		excluded[d] = true
	}
	return &DiskCollector{
		source:   source,
		pseudo:   cfg.IncludePseudo,
		excluded: excluded,
	}
}

func (d *DiskCollector) Name() string { return "disk" }

// Collect samples every partition not excluded by device name. Unreadable
// partitions are reported in the result and skipped. The first storage error
// stops all further writes and is returned; sampling continues so the result
// still reflects the host.
func (d *DiskCollector) Collect(ctx context.Context, st DiskStore, now time.Time) (model.DiskResult, error) {
	var res model.DiskResult

	parts, err := d.source.Partitions(ctx, d.pseudo)
	if err != nil {
		err = fmt.Errorf("enumerating partitions: %w", err)
		res.Errors = append(res.Errors, err)
		if len(parts) == 0 {
			slog.Error("enumerating partitions", "error", err)
			return res, nil
		}
		slog.Warn("partition list incomplete", "partitions", len(parts), "error", err)
	}

	var storeErr error
	seen := make(map[model.Partition]bool, len(parts))
	for _, p := range parts {
		if d.excluded[p.Device] {
			slog.Debug("skipping excluded device", "device", p.Device, "mount", p.MountPath)
			continue
		}
		key := model.Partition{Device: p.Device, MountPath: p.MountPath}
		if seen[key] {
			continue
		}
		seen[key] = true

		usage, err := d.source.Usage(ctx, p.MountPath)
		if err != nil {
			uerr := &UsageQueryError{Device: p.Device, MountPath: p.MountPath, Err: err}
			slog.Error("reading partition usage", "device", p.Device, "mount", p.MountPath, "error", err)
			res.Errors = append(res.Errors, uerr)
			continue
		}

		sample := model.DiskSample{
			Size:      usage.Total,
			UsedSpace: usage.Used,
			Device:    p.Device,
			MountPath: p.MountPath,
			Timestamp: now,
		}
		if storeErr == nil {
			storeErr = d.persist(st, &sample)
			if storeErr != nil {
				slog.Error("storing disk sample", "device", p.Device, "error", storeErr)
			}
		}
		res.Samples = append(res.Samples, sample)

		slog.Debug("sampled partition",
			"device", p.Device,
			"mount", p.MountPath,
			"used", humanize.IBytes(uint64(max(usage.Used, 0))),
			"size", humanize.IBytes(uint64(max(usage.Total, 0))),
		)
	}

	slog.Info("disk collection complete", "samples", len(res.Samples), "errors", len(res.Errors))
	return res, storeErr
}

func (d *DiskCollector) persist(st DiskStore, s *model.DiskSample) error {
	var err error
	if s.FileSystemID, err = st.GetOrCreateFileSystem(s.Device); err != nil {
		return err
	}
	if s.MountPointID, err = st.GetOrCreateMountPoint(s.MountPath); err != nil {
		return err
	}
	return st.InsertDiskSample(s)
}
