package collector

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/darshan-rambhia/diskstats/internal/model"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/afero"
)

// HostPartitions reads the partitions mounted on the local host.
type HostPartitions struct{}

// Partitions lists mounted partitions. With all set, pseudo filesystems
// (proc, sysfs, tmpfs, ...) are included. gopsutil may return a partial
// list alongside an error; both are passed through.
func (HostPartitions) Partitions(ctx context.Context, all bool) ([]model.Partition, error) {
	stats, err := disk.PartitionsWithContext(ctx, all)
	parts := make([]model.Partition, 0, len(stats))
	for _, s := range stats {
		parts = append(parts, model.Partition{
			Device:    s.Device,
			MountPath: s.Mountpoint,
			FSType:    s.Fstype,
		})
	}
	return parts, err
}

// Usage returns the total and used bytes of the filesystem mounted at mountPath.
func (HostPartitions) Usage(ctx context.Context, mountPath string) (model.Usage, error) {
	u, err := disk.UsageWithContext(ctx, mountPath)
	if err != nil {
		return model.Usage{}, err
	}
	return model.Usage{Total: int64(u.Total), Used: int64(u.Used)}, nil
}

// FSLister lists directories of an afero filesystem.
type FSLister struct {
	fs afero.Fs
}

// NewFSLister creates a lister over fs. Use afero.NewOsFs() for the host.
func NewFSLister(fs afero.Fs) *FSLister {
	return &FSLister{fs: fs}
}

// List returns the immediate subdirectories (as full paths) and files of
// path. Symlinks are not followed; they and other non-regular entries are
// reported with size 0.
func (l *FSLister) List(path string) (Listing, error) {
	infos, err := afero.ReadDir(l.fs, path)
	if err != nil {
		return Listing{}, fmt.Errorf("reading directory: %w", err)
	}
	var out Listing
	for _, fi := range infos {
		switch {
		case fi.IsDir():
			out.Dirs = append(out.Dirs, filepath.Join(path, fi.Name()))
		case fi.Mode().IsRegular():
			out.Files = append(out.Files, Entry{Name: fi.Name(), Size: fi.Size()})
		default:
			out.Files = append(out.Files, Entry{Name: fi.Name()})
		}
	}
	return out, nil
}
