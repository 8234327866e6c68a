package collector

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/darshan-rambhia/diskstats/internal/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files of the given sizes in fs, creating parents as needed.
func writeTree(t *testing.T, fs afero.Fs, files map[string]int) {
	t.Helper()
	for path, size := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, make([]byte, size), 0o644))
	}
}

// sampleTree is:
//
//	/srv            a.bin(100) b.bin(50)
//	/srv/logs       app.log(200)
//	/srv/logs/old   app.1.log(400)
//	/srv/empty
func sampleTree(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]int{
		"/srv/a.bin":              100,
		"/srv/b.bin":              50,
		"/srv/logs/app.log":       200,
		"/srv/logs/old/app.1.log": 400,
	})
	require.NoError(t, fs.MkdirAll("/srv/empty", 0o755))
	return fs
}

// failingLister fails for the listed paths and delegates otherwise.
type failingLister struct {
	Lister
	fail map[string]error
}

func (l failingLister) List(path string) (Listing, error) {
	if err, ok := l.fail[path]; ok {
		return Listing{}, err
	}
	return l.Lister.List(path)
}

func TestFSLister_List(t *testing.T) {
	l := NewFSLister(sampleTree(t))

	listing, err := l.List("/srv")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/srv/empty", "/srv/logs"}, listing.Dirs)
	assert.ElementsMatch(t, []Entry{{Name: "a.bin", Size: 100}, {Name: "b.bin", Size: 50}}, listing.Files)
}

func TestFSLister_Missing(t *testing.T) {
	_, err := NewFSLister(afero.NewMemMapFs()).List("/does/not/exist")
	assert.Error(t, err)
}

func TestFSLister_SymlinkNotFollowed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.bin"), make([]byte, 64), 0o644))
	if err := os.Symlink(filepath.Join(dir, "real.bin"), filepath.Join(dir, "link.bin")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	listing, err := NewFSLister(afero.NewOsFs()).List(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Entry{{Name: "real.bin", Size: 64}, {Name: "link.bin", Size: 0}}, listing.Files)
}

func TestFolderCollector_Name(t *testing.T) {
	assert.Equal(t, "folders", NewFolderCollector(FolderConfig{}, nil).Name())
}

func TestCompute_SizesEqualSubtreeSums(t *testing.T) {
	st := newMemStore()
	now := time.Unix(1_700_000_000, 0)
	c := NewFolderCollector(FolderConfig{}, NewFSLister(sampleTree(t)))

	total, skipped, err := c.Compute(st, "/srv", nil, now)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Equal(t, int64(750), total)

	want := map[string]int64{
		"/srv":                  750,
		"/srv/<files>":          150,
		"/srv/logs":             600,
		"/srv/logs/<files>":     200,
		"/srv/logs/old":         400,
		"/srv/logs/old/<files>": 400,
		"/srv/empty":            0,
		"/srv/empty/<files>":    0,
	}
	require.Len(t, st.folders, len(want))
	for path, size := range want {
		n, ok := st.folders[path]
		require.True(t, ok, path)
		assert.Equal(t, size, n.Size, path)
		assert.Equal(t, now, n.LastMeasured, path)
	}
}

func TestCompute_ParentLinks(t *testing.T) {
	st := newMemStore()
	c := NewFolderCollector(FolderConfig{}, NewFSLister(sampleTree(t)))

	_, _, err := c.Compute(st, "/srv", nil, time.Now())
	require.NoError(t, err)

	root := st.folders["/srv"]
	assert.Nil(t, root.ParentID)
	for path, n := range st.folders {
		if path == "/srv" {
			continue
		}
		require.NotNil(t, n.ParentID, path)
		parent := st.byID[*n.ParentID]
		want := filepath.Dir(path)
		assert.Equal(t, want, parent.Path, path)
	}
}

func TestCompute_RespectsCallerParent(t *testing.T) {
	st := newMemStore()
	c := NewFolderCollector(FolderConfig{}, NewFSLister(sampleTree(t)))
	parent := int64(99)

	_, _, err := c.Compute(st, "/srv/logs", &parent, time.Now())
	require.NoError(t, err)
	require.NotNil(t, st.folders["/srv/logs"].ParentID)
	assert.Equal(t, int64(99), *st.folders["/srv/logs"].ParentID)
}

func TestCompute_CustomVirtualName(t *testing.T) {
	st := newMemStore()
	c := NewFolderCollector(FolderConfig{VirtualFilesName: "[files]"}, NewFSLister(sampleTree(t)))

	_, _, err := c.Compute(st, "/srv", nil, time.Now())
	require.NoError(t, err)
	assert.Contains(t, st.folders, "/srv/[files]")
	assert.NotContains(t, st.folders, "/srv/<files>")
}

func TestCompute_RootMissing(t *testing.T) {
	st := newMemStore()
	c := NewFolderCollector(FolderConfig{}, NewFSLister(afero.NewMemMapFs()))

	_, _, err := c.Compute(st, "/missing", nil, time.Now())
	var terr *TraversalError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "/missing", terr.Path)
	assert.Empty(t, st.folders, "nothing is written for an unreadable root")
}

func TestCompute_UnreadableSubfolderCountsZero(t *testing.T) {
	st := newMemStore()
	lister := failingLister{
		Lister: NewFSLister(sampleTree(t)),
		fail:   map[string]error{"/srv/logs": os.ErrPermission},
	}
	c := NewFolderCollector(FolderConfig{}, lister)

	total, skipped, err := c.Compute(st, "/srv", nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(150), total)
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0], os.ErrPermission)
	assert.NotContains(t, st.folders, "/srv/logs")
	assert.Contains(t, st.folders, "/srv/empty")
}

// childrenSum returns the summed size of the stored children of path.
func childrenSum(t *testing.T, s *store.Store, path string) (parent, sum int64) {
	t.Helper()
	node, err := s.QueryFolder(path)
	require.NoError(t, err)
	children, err := s.QueryFolderChildren(node.ID)
	require.NoError(t, err)
	for _, ch := range children {
		sum += ch.Size
	}
	return node.Size, sum
}

func TestCompute_UnreadableSubfolderOnRerunDropsStaleNodes(t *testing.T) {
	s := newTestStore(t)
	fs := sampleTree(t)
	lister := failingLister{Lister: NewFSLister(fs), fail: map[string]error{}}
	c := NewFolderCollector(FolderConfig{}, lister)
	first := time.Unix(1_700_000_000, 0)

	compute := func(now time.Time) (total int64, skipped []error) {
		require.NoError(t, s.Update(func(tx *store.Tx) error {
			var err error
			total, skipped, err = c.Compute(tx, "/srv", nil, now)
			return err
		}))
		return total, skipped
	}

	total, _ := compute(first)
	require.Equal(t, int64(750), total)
	logs, err := s.QueryFolder("/srv/logs")
	require.NoError(t, err)
	require.Equal(t, int64(600), logs.Size)

	lister.fail["/srv/logs"] = os.ErrPermission
	total, skipped := compute(first.Add(time.Hour))
	assert.Equal(t, int64(150), total)
	require.Len(t, skipped, 1)

	for _, p := range []string{"/srv/logs", "/srv/logs/<files>", "/srv/logs/old", "/srv/logs/old/<files>"} {
		_, err := s.QueryFolder(p)
		assert.ErrorIs(t, err, store.ErrNotFound, p)
	}
	parent, sum := childrenSum(t, s, "/srv")
	assert.Equal(t, parent, sum, "children and files node add up to the parent")
}

func TestCompute_DeletedFolderIsPruned(t *testing.T) {
	s := newTestStore(t)
	fs := sampleTree(t)
	c := NewFolderCollector(FolderConfig{}, NewFSLister(fs))
	now := time.Unix(1_700_000_000, 0)

	for i := range 2 {
		if i == 1 {
			require.NoError(t, fs.RemoveAll("/srv/logs/old"))
		}
		require.NoError(t, s.Update(func(tx *store.Tx) error {
			_, _, err := c.Compute(tx, "/srv", nil, now.Add(time.Duration(i)*time.Hour))
			return err
		}))
	}

	_, err := s.QueryFolder("/srv/logs/old")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.QueryFolder("/srv/logs/old/<files>")
	assert.ErrorIs(t, err, store.ErrNotFound)

	for _, p := range []string{"/srv", "/srv/logs"} {
		parent, sum := childrenSum(t, s, p)
		assert.Equal(t, parent, sum, p)
	}
	parent, _ := childrenSum(t, s, "/srv")
	assert.Equal(t, int64(350), parent)
}

func TestCompute_RerunUpdatesFilesNode(t *testing.T) {
	fs := sampleTree(t)
	st := newMemStore()
	c := NewFolderCollector(FolderConfig{}, NewFSLister(fs))
	first := time.Unix(1_700_000_000, 0)

	_, _, err := c.Compute(st, "/srv", nil, first)
	require.NoError(t, err)
	assert.Equal(t, int64(150), st.folders["/srv/<files>"].Size)

	writeTree(t, fs, map[string]int{"/srv/c.bin": 1000})
	second := first.Add(24 * time.Hour)
	total, _, err := c.Compute(st, "/srv", nil, second)
	require.NoError(t, err)

	assert.Equal(t, int64(1750), total)
	assert.Equal(t, int64(1150), st.folders["/srv/<files>"].Size)
	assert.Equal(t, second, st.folders["/srv/<files>"].LastMeasured)
	assert.Equal(t, int64(1750), st.folders["/srv"].Size)
}

func TestCompute_Idempotent(t *testing.T) {
	st := newMemStore()
	c := NewFolderCollector(FolderConfig{}, NewFSLister(sampleTree(t)))

	_, _, err := c.Compute(st, "/srv", nil, time.Now())
	require.NoError(t, err)
	sizes := make(map[string]int64, len(st.folders))
	for p, n := range st.folders {
		sizes[p] = n.Size
	}

	_, _, err = c.Compute(st, "/srv", nil, time.Now())
	require.NoError(t, err)
	require.Len(t, st.folders, len(sizes))
	for p, n := range st.folders {
		assert.Equal(t, sizes[p], n.Size, p)
	}
}

func TestCompute_DeepTree(t *testing.T) {
	const depth = 3000
	fs := afero.NewMemMapFs()
	parts := make([]string, depth)
	for i := range parts {
		parts[i] = "d"
	}
	leaf := "/" + strings.Join(parts, "/")
	writeTree(t, fs, map[string]int{leaf + "/f.bin": 7})

	st := newMemStore()
	c := NewFolderCollector(FolderConfig{}, NewFSLister(fs))

	total, skipped, err := c.Compute(st, "/d", nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Equal(t, int64(7), total)
	assert.Len(t, st.folders, 2*depth)
}

func TestCompute_StorageErrorAborts(t *testing.T) {
	st := newMemStore()
	st.failOn, st.failAt = "upsert", 2
	c := NewFolderCollector(FolderConfig{}, NewFSLister(sampleTree(t)))

	_, _, err := c.Compute(st, "/srv", nil, time.Now())
	var serr *store.StorageError
	assert.True(t, errors.As(err, &serr))
}

func TestFolderCollector_CollectRecordsHistory(t *testing.T) {
	fs := sampleTree(t)
	writeTree(t, fs, map[string]int{"/home/u/notes.txt": 30})
	st := newMemStore()
	now := time.Unix(1_700_000_000, 0)
	c := NewFolderCollector(FolderConfig{WatchedPaths: []string{"/srv", "/home"}}, NewFSLister(fs))

	res, err := c.Collect(st, now)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Samples, 2)
	assert.Equal(t, "/srv", res.Samples[0].Path)
	assert.Equal(t, int64(750), res.Samples[0].Size)
	assert.Equal(t, "/home", res.Samples[1].Path)
	assert.Equal(t, int64(30), res.Samples[1].Size)
	assert.Len(t, st.history, 2)
	assert.Nil(t, st.folders["/home"].ParentID)
}

func TestFolderCollector_BadRootDoesNotStopOthers(t *testing.T) {
	st := newMemStore()
	c := NewFolderCollector(FolderConfig{WatchedPaths: []string{"/gone", "/srv"}}, NewFSLister(sampleTree(t)))

	res, err := c.Collect(st, time.Now())
	require.NoError(t, err)
	require.Len(t, res.Samples, 1)
	assert.Equal(t, "/srv", res.Samples[0].Path)
	require.Len(t, res.Errors, 1)
	var terr *TraversalError
	require.True(t, errors.As(res.Errors[0], &terr))
	assert.Equal(t, "/gone", terr.Path)
}

func TestFolderCollector_StorageErrorReturned(t *testing.T) {
	st := newMemStore()
	st.failOn, st.failAt = "sample", 1
	c := NewFolderCollector(FolderConfig{WatchedPaths: []string{"/srv", "/srv/logs"}}, NewFSLister(sampleTree(t)))

	res, err := c.Collect(st, time.Now())
	var serr *store.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 1, st.calls["sample"], "no writes after the first storage error")
	require.Len(t, res.Samples, 2, "measuring continues after the store fails")
	assert.Equal(t, int64(750), res.Samples[0].Size)
	assert.Equal(t, int64(600), res.Samples[1].Size)
}

func TestFolderCollector_MidWalkStorageErrorStillMeasures(t *testing.T) {
	fs := sampleTree(t)
	writeTree(t, fs, map[string]int{"/home/u/notes.txt": 30})
	st := newMemStore()
	st.failOn, st.failAt = "upsert", 1
	c := NewFolderCollector(FolderConfig{WatchedPaths: []string{"/srv", "/home"}}, NewFSLister(fs))

	res, err := c.Collect(st, time.Now())
	require.Error(t, err)
	assert.Empty(t, res.Errors, "the storage error is returned, not collected")
	require.Len(t, res.Samples, 2)
	assert.Equal(t, int64(750), res.Samples[0].Size, "failed root is measured in full")
	assert.Equal(t, int64(30), res.Samples[1].Size)
	assert.Empty(t, st.history)
	assert.NotContains(t, st.folders, "/home")
}

func TestFolderCollector_PersistsThroughStore(t *testing.T) {
	s := newTestStore(t)
	fs := sampleTree(t)
	c := NewFolderCollector(FolderConfig{WatchedPaths: []string{"/srv"}}, NewFSLister(fs))
	base := time.Unix(1_700_000_000, 0)

	for i := range 2 {
		if i == 1 {
			writeTree(t, fs, map[string]int{"/srv/logs/new.log": 5})
		}
		require.NoError(t, s.Update(func(tx *store.Tx) error {
			_, err := c.Collect(tx, base.Add(time.Duration(i)*time.Hour))
			return err
		}))
	}

	root, err := s.QueryFolder("/srv")
	require.NoError(t, err)
	assert.Equal(t, int64(755), root.Size)
	assert.Nil(t, root.ParentID)

	files, err := s.QueryFolder("/srv/logs/<files>")
	require.NoError(t, err)
	assert.Equal(t, int64(205), files.Size)

	children, err := s.QueryFolderChildren(root.ID)
	require.NoError(t, err)
	paths := make([]string, 0, len(children))
	var sum int64
	for _, ch := range children {
		paths = append(paths, ch.Path)
		sum += ch.Size
	}
	assert.Equal(t, []string{"/srv/<files>", "/srv/empty", "/srv/logs"}, paths)
	assert.Equal(t, root.Size, sum, "children and files node add up to the parent")

	history, err := s.QueryFolderHistory("/srv")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(750), history[0].Size)
	assert.Equal(t, int64(755), history[1].Size)
}

// ---------------------------------------------------------------------------
// Benchmarks
// ---------------------------------------------------------------------------

func BenchmarkCompute(b *testing.B) {
	fs := afero.NewMemMapFs()
	for i := range 20 {
		for j := range 10 {
			dir := filepath.Join("/srv", "d"+strconv.Itoa(i), "e"+strconv.Itoa(j))
			require.NoError(b, fs.MkdirAll(dir, 0o755))
			for k := range 5 {
				require.NoError(b, afero.WriteFile(fs, filepath.Join(dir, "f"+strconv.Itoa(k)), make([]byte, 64), 0o644))
			}
		}
	}
	s := newTestStore(b)
	c := NewFolderCollector(FolderConfig{WatchedPaths: []string{"/srv"}}, NewFSLister(fs))
	now := time.Now()

	b.ResetTimer()
	for b.Loop() {
		err := s.Update(func(tx *store.Tx) error {
			_, _, err := c.Compute(tx, "/srv", nil, now)
			return err
		})
		require.NoError(b, err)
	}
}
