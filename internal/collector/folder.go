package collector

import (
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/darshan-rambhia/diskstats/internal/model"
	"github.com/dustin/go-humanize"
)

// DefaultVirtualFilesName names the synthetic node holding the direct files
// of a directory.
const DefaultVirtualFilesName = "<files>"

// FolderConfig selects the folders to measure.
type FolderConfig struct {
	WatchedPaths     []string
	VirtualFilesName string
}

// FolderCollector measures watched folder trees and keeps their sizes in the
// store.
type FolderCollector struct {
	lister  Lister
	watched []string
	virtual string
}

// NewFolderCollector creates a folder collector listing through lister.
func NewFolderCollector(cfg FolderConfig, lister Lister) *FolderCollector {
	virtual := cfg.VirtualFilesName
	if virtual == "" {
		virtual = DefaultVirtualFilesName
	}
	return &FolderCollector{
		lister:  lister,
		watched: cfg.WatchedPaths,
		virtual: virtual,
	}
}

func (f *FolderCollector) Name() string { return "folders" }

// Collect measures every watched root and appends one history sample per
// root. A root that cannot be listed is reported and skipped. The first
// storage error stops all further writes and is returned; measuring
// continues so the result still reflects the host.
func (f *FolderCollector) Collect(st FolderStore, now time.Time) (model.FolderResult, error) {
	var (
		res      model.FolderResult
		storeErr error
	)
	for _, root := range f.watched {
		w := st
		if storeErr != nil {
			w = discard{}
		}
		total, skipped, err := f.Compute(w, root, nil, now)
		var terr *TraversalError
		if err != nil && !errors.As(err, &terr) {
			slog.Error("storing folder sizes", "path", root, "error", err)
			storeErr = err
			total, skipped, err = f.Compute(discard{}, root, nil, now)
		}
		res.Errors = append(res.Errors, skipped...)
		if err != nil {
			slog.Error("measuring watched folder", "path", root, "error", err)
			res.Errors = append(res.Errors, err)
			continue
		}

		sample := model.FolderSizeSample{Path: root, Size: total, Timestamp: now}
		if storeErr == nil {
			if storeErr = st.InsertFolderSample(&sample); storeErr != nil {
				slog.Error("storing folder sample", "path", root, "error", storeErr)
			}
		}
		res.Samples = append(res.Samples, sample)
		slog.Info("measured watched folder", "path", root, "size", humanize.IBytes(uint64(total)), "skipped", len(skipped))
	}
	return res, storeErr
}

// frame is one directory on the work stack.
type frame struct {
	path    string
	id      int64
	subdirs []string
	next    int
	dirSum  int64
	fileSum int64
	// measured holds the subdirectories listed during this walk.
	measured []string
}

// Compute measures the tree rooted at path, parented to parentID, and
// returns its total size in bytes. Every directory has its node updated and
// its synthetic files node upserted, and children left over from earlier runs
// are removed. A root that cannot be listed fails with *TraversalError;
// nested directories that cannot be listed count as 0, lose their stored
// subtree, and are returned in skipped.
func (f *FolderCollector) Compute(st FolderStore, path string, parentID *int64, now time.Time) (total int64, skipped []error, err error) {
	listing, err := f.lister.List(path)
	if err != nil {
		return 0, nil, &TraversalError{Path: path, Err: err}
	}
	top, err := f.enter(st, path, parentID, listing, now)
	if err != nil {
		return 0, nil, err
	}

	// Explicit stack so tree depth does not translate into call depth.
	stack := []*frame{top}
	for {
		cur := stack[len(stack)-1]
		if cur.next < len(cur.subdirs) {
			child := cur.subdirs[cur.next]
			cur.next++

			listing, err := f.lister.List(child)
			if err != nil {
				slog.Warn("skipping unreadable folder", "path", child, "error", err)
				skipped = append(skipped, &TraversalError{Path: child, Err: err})
				continue
			}
			cur.measured = append(cur.measured, child)
			parent := cur.id
			next, err := f.enter(st, child, &parent, listing, now)
			if err != nil {
				return 0, skipped, err
			}
			stack = append(stack, next)
			continue
		}

		size, err := f.leave(st, cur, now)
		if err != nil {
			return 0, skipped, err
		}
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return size, skipped, nil
		}
		stack[len(stack)-1].dirSum += size
	}
}

func (f *FolderCollector) enter(st FolderStore, path string, parentID *int64, listing Listing, now time.Time) (*frame, error) {
	id, err := st.EnsureFolder(path, parentID, now)
	if err != nil {
		return nil, err
	}
	var files int64
	for _, e := range listing.Files {
		files += e.Size
	}
	return &frame{path: path, id: id, subdirs: listing.Dirs, fileSum: files}, nil
}

func (f *FolderCollector) leave(st FolderStore, fr *frame, now time.Time) (int64, error) {
	total := fr.dirSum + fr.fileSum
	if err := st.UpdateFolderSize(fr.id, total, now); err != nil {
		return 0, err
	}
	parent := fr.id
	files := filepath.Join(fr.path, f.virtual)
	if _, err := st.UpsertFolder(files, &parent, fr.fileSum, now); err != nil {
		return 0, err
	}
	removed, err := st.PruneFolders(fr.id, append(fr.measured, files))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.Debug("pruned stale folders", "path", fr.path, "removed", removed)
	}
	return total, nil
}
