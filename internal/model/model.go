// Package model defines all shared domain types for diskstats.
package model

import "time"

// FileSystem is a monitored device, identified by its mount source.
type FileSystem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MountPoint is the absolute path a filesystem is mounted on.
type MountPoint struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// Partition is a mounted filesystem as reported by the host.
type Partition struct {
	Device    string `json:"device"`
	MountPath string `json:"mount_path"`
	FSType    string `json:"fstype"`
}

// Usage is the space accounting of a mounted filesystem, in bytes.
type Usage struct {
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
}

// DiskSample is one usage measurement of a partition. Samples are never
// mutated once stored.
type DiskSample struct {
	ID           int64     `json:"id"`
	Size         int64     `json:"size"`
	UsedSpace    int64     `json:"used_space"`
	FileSystemID int64     `json:"file_system_id"`
	MountPointID int64     `json:"mount_point_id"`
	Device       string    `json:"device"`
	MountPath    string    `json:"mount_path"`
	Timestamp    time.Time `json:"timestamp"`
}

// UsagePct returns the used share of the partition in percent. A zero-sized
// partition reports 0.
func (s DiskSample) UsagePct() float64 {
	if s.Size <= 0 {
		return 0
	}
	return float64(s.UsedSpace) / float64(s.Size) * 100
}

// FolderNode is the current size of one directory, or of the synthetic
// files entry of a directory. ParentID is nil for watched roots.
type FolderNode struct {
	ID           int64     `json:"id"`
	Path         string    `json:"path"`
	ParentID     *int64    `json:"parent_id,omitempty"`
	Size         int64     `json:"size"`
	LastMeasured time.Time `json:"last_measured"`
}

// FolderSizeSample is the total size of a watched root at one run.
type FolderSizeSample struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// DiskResult is the outcome of the disk stream of a run.
type DiskResult struct {
	Samples []DiskSample
	Errors  []error
}

// FolderResult is the outcome of the folder stream of a run.
type FolderResult struct {
	Samples []FolderSizeSample
	Errors  []error
}

// RunReport aggregates everything one run produced.
type RunReport struct {
	RunID   string
	Time    time.Time
	Disks   DiskResult
	Folders FolderResult
}

// ErrorCount returns the number of errors collected across both streams.
func (r RunReport) ErrorCount() int {
	return len(r.Disks.Errors) + len(r.Folders.Errors)
}

// Notification kinds.
const (
	KindAlert  = "alert"
	KindReport = "report"
)

// Notification is a message handed to the notification providers.
type Notification struct {
	Kind      string    `json:"kind"`
	Host      string    `json:"host"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Devices   []string  `json:"devices,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
