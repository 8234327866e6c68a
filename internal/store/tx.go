package store

import (
	"database/sql"
	"time"

	"github.com/darshan-rambhia/diskstats/internal/model"
)

// Tx is the write side of the store, valid only inside Update.
type Tx struct {
	tx *sql.Tx
}

// GetOrCreateFileSystem returns the id of the device, inserting it if absent.
func (t *Tx) GetOrCreateFileSystem(name string) (int64, error) {
	if _, err := t.tx.Exec(`INSERT INTO file_systems (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return 0, storageErr("creating file system "+name, err)
	}
	var id int64
	if err := t.tx.QueryRow(`SELECT id FROM file_systems WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, storageErr("reading file system "+name, err)
	}
	return id, nil
}

// GetOrCreateMountPoint returns the id of the mount path, inserting it if absent.
func (t *Tx) GetOrCreateMountPoint(path string) (int64, error) {
	if _, err := t.tx.Exec(`INSERT INTO mount_points (path) VALUES (?) ON CONFLICT(path) DO NOTHING`, path); err != nil {
		return 0, storageErr("creating mount point "+path, err)
	}
	var id int64
	if err := t.tx.QueryRow(`SELECT id FROM mount_points WHERE path = ?`, path).Scan(&id); err != nil {
		return 0, storageErr("reading mount point "+path, err)
	}
	return id, nil
}

// InsertDiskSample appends a disk sample and sets its ID.
func (t *Tx) InsertDiskSample(s *model.DiskSample) error {
	res, err := t.tx.Exec(`
		INSERT INTO disk_samples (ts, size, used_space, file_system_id, mount_point_id)
		VALUES (?, ?, ?, ?, ?)`,
		s.Timestamp.Unix(), s.Size, s.UsedSpace, s.FileSystemID, s.MountPointID,
	)
	if err != nil {
		return storageErr("inserting disk sample", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return storageErr("reading disk sample id", err)
	}
	return nil
}

// EnsureFolder returns the id of the node for path, creating it with size 0
// when absent. An existing node keeps its size and is re-parented.
func (t *Tx) EnsureFolder(path string, parentID *int64, measured time.Time) (int64, error) {
	var id int64
	err := t.tx.QueryRow(`
		INSERT INTO folder_nodes (path, parent_id, size, last_measured)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(path) DO UPDATE SET parent_id = excluded.parent_id
		RETURNING id`,
		path, parentID, measured.Unix(),
	).Scan(&id)
	if err != nil {
		return 0, storageErr("ensuring folder "+path, err)
	}
	return id, nil
}

// UpdateFolderSize overwrites the size and measurement time of a node.
func (t *Tx) UpdateFolderSize(id, size int64, measured time.Time) error {
	_, err := t.tx.Exec(`UPDATE folder_nodes SET size = ?, last_measured = ? WHERE id = ?`,
		size, measured.Unix(), id)
	if err != nil {
		return storageErr("updating folder size", err)
	}
	return nil
}

// UpsertFolder inserts the node for path or overwrites its parent, size and
// measurement time, returning its id.
func (t *Tx) UpsertFolder(path string, parentID *int64, size int64, measured time.Time) (int64, error) {
	var id int64
	err := t.tx.QueryRow(`
		INSERT INTO folder_nodes (path, parent_id, size, last_measured)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			parent_id = excluded.parent_id,
			size = excluded.size,
			last_measured = excluded.last_measured
		RETURNING id`,
		path, parentID, size, measured.Unix(),
	).Scan(&id)
	if err != nil {
		return 0, storageErr("upserting folder "+path, err)
	}
	return id, nil
}

// PruneFolders deletes every child of parentID whose path is not in keep,
// together with its whole subtree, and returns the number of nodes removed.
func (t *Tx) PruneFolders(parentID int64, keep []string) (int64, error) {
	rows, err := t.tx.Query(`SELECT id, path FROM folder_nodes WHERE parent_id = ?`, parentID)
	if err != nil {
		return 0, storageErr("listing folder children", err)
	}
	kept := make(map[string]bool, len(keep))
	for _, p := range keep {
		kept[p] = true
	}
	var stale []int64
	for rows.Next() {
		var (
			id   int64
			path string
		)
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return 0, storageErr("scanning folder child", err)
		}
		if !kept[path] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, storageErr("listing folder children", err)
	}

	var removed int64
	for _, id := range stale {
		res, err := t.tx.Exec(`
			WITH RECURSIVE subtree(id) AS (
				SELECT ?
				UNION
				SELECT n.id FROM folder_nodes n JOIN subtree s ON n.parent_id = s.id
			)
			DELETE FROM folder_nodes WHERE id IN (SELECT id FROM subtree)`, id)
		if err != nil {
			return removed, storageErr("pruning folder subtree", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, storageErr("pruning folder subtree", err)
		}
		removed += n
	}
	return removed, nil
}

// InsertFolderSample appends a watched-root total and sets its ID.
func (t *Tx) InsertFolderSample(s *model.FolderSizeSample) error {
	res, err := t.tx.Exec(`
		INSERT INTO folder_size_history (ts, path, size) VALUES (?, ?, ?)`,
		s.Timestamp.Unix(), s.Path, s.Size,
	)
	if err != nil {
		return storageErr("inserting folder sample", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return storageErr("reading folder sample id", err)
	}
	return nil
}
