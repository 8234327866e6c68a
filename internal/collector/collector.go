// Package collector measures partition usage and folder sizes and records
// them through the store.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/darshan-rambhia/diskstats/internal/model"
)

// PartitionSource enumerates mounted filesystems and reports their usage.
type PartitionSource interface {
	Partitions(ctx context.Context, all bool) ([]model.Partition, error)
	Usage(ctx context.Context, mountPath string) (model.Usage, error)
}

// Entry is a non-directory entry of a listing.
type Entry struct {
	Name string
	Size int64
}

// Listing is the shallow content of one directory.
type Listing struct {
	Dirs  []string
	Files []Entry
}

// Lister lists the immediate content of a directory.
type Lister interface {
	List(path string) (Listing, error)
}

// DiskStore is the persistence the disk collector writes through.
type DiskStore interface {
	GetOrCreateFileSystem(name string) (int64, error)
	GetOrCreateMountPoint(path string) (int64, error)
	InsertDiskSample(s *model.DiskSample) error
}

// FolderStore is the persistence the folder collector writes through.
type FolderStore interface {
	EnsureFolder(path string, parentID *int64, measured time.Time) (int64, error)
	UpdateFolderSize(id, size int64, measured time.Time) error
	UpsertFolder(path string, parentID *int64, size int64, measured time.Time) (int64, error)
	PruneFolders(parentID int64, keep []string) (int64, error)
	InsertFolderSample(s *model.FolderSizeSample) error
}

// discard is a FolderStore that accepts and drops every write. The folder
// collector measures through it once the real store has failed.
type discard struct{}

func (discard) EnsureFolder(string, *int64, time.Time) (int64, error) {
	return 0, nil
}

func (discard) UpdateFolderSize(int64, int64, time.Time) error {
	return nil
}

func (discard) UpsertFolder(string, *int64, int64, time.Time) (int64, error) {
	return 0, nil
}

func (discard) PruneFolders(int64, []string) (int64, error) {
	return 0, nil
}

func (discard) InsertFolderSample(*model.FolderSizeSample) error {
	return nil
}


// TraversalError reports a directory that could not be listed.
type TraversalError struct {
	Path string
	Err  error
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("listing %s: %v", e.Path, e.Err)
}

func (e *TraversalError) Unwrap() error { return e.Err }

// UsageQueryError reports a partition whose usage could not be read.
type UsageQueryError struct {
	Device    string
	MountPath string
	Err       error
}

func (e *UsageQueryError) Error() string {
	return fmt.Sprintf("reading usage of %s on %s: %v", e.Device, e.MountPath, e.Err)
}

func (e *UsageQueryError) Unwrap() error { return e.Err }
