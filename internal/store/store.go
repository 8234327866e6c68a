// Package store provides SQLite persistence for diskstats.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/darshan-rambhia/diskstats/internal/model"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// StorageError reports a failed persistence operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Store wraps a SQLite database for diskstats data persistence.
type Store struct {
	db *sql.DB
}

// New opens or creates a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise; fn's error is returned unchanged.
func (s *Store) Update(fn func(tx *Tx) error) error {
	sqlTx, err := s.db.Begin()
	if err != nil {
		return storageErr("beginning transaction", err)
	}
	if err := fn(&Tx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return storageErr("committing transaction", err)
	}
	return nil
}

// InsertNotification logs a notification handed to the providers.
func (s *Store) InsertNotification(ts time.Time, runID string, n model.Notification, delivered bool) error {
	d := 0
	if delivered {
		d = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO notification_log (ts, run_id, kind, subject, devices, delivered)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ts.Unix(), runID, n.Kind, n.Subject, strings.Join(n.Devices, ","), d,
	)
	if err != nil {
		return storageErr("inserting notification", err)
	}
	return nil
}

// NotificationEntry is one row of the notification log.
type NotificationEntry struct {
	Timestamp time.Time
	RunID     string
	Kind      string
	Subject   string
	Devices   []string
	Delivered bool
}

// QueryNotifications returns logged notifications in insertion order.
func (s *Store) QueryNotifications() ([]NotificationEntry, error) {
	rows, err := s.db.Query(`
		SELECT ts, run_id, kind, subject, devices, delivered
		FROM notification_log ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var entries []NotificationEntry
	for rows.Next() {
		var (
			e         NotificationEntry
			ts        int64
			devices   sql.NullString
			delivered int
		)
		if err := rows.Scan(&ts, &e.RunID, &e.Kind, &e.Subject, &devices, &delivered); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		if devices.String != "" {
			e.Devices = strings.Split(devices.String, ",")
		}
		e.Delivered = delivered == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// QueryFileSystems returns every known device.
func (s *Store) QueryFileSystems() ([]model.FileSystem, error) {
	rows, err := s.db.Query(`SELECT id, name FROM file_systems ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying file systems: %w", err)
	}
	defer rows.Close()

	var out []model.FileSystem
	for rows.Next() {
		var fs model.FileSystem
		if err := rows.Scan(&fs.ID, &fs.Name); err != nil {
			return nil, fmt.Errorf("scanning file system: %w", err)
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

// QueryMountPoints returns every known mount path.
func (s *Store) QueryMountPoints() ([]model.MountPoint, error) {
	rows, err := s.db.Query(`SELECT id, path FROM mount_points ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying mount points: %w", err)
	}
	defer rows.Close()

	var out []model.MountPoint
	for rows.Next() {
		var mp model.MountPoint
		if err := rows.Scan(&mp.ID, &mp.Path); err != nil {
			return nil, fmt.Errorf("scanning mount point: %w", err)
		}
		out = append(out, mp)
	}
	return out, rows.Err()
}

// QueryDiskSamples returns disk samples taken at or after since, oldest first.
func (s *Store) QueryDiskSamples(since time.Time) ([]model.DiskSample, error) {
	rows, err := s.db.Query(`
		SELECT d.id, d.ts, d.size, d.used_space, d.file_system_id, d.mount_point_id, f.name, m.path
		FROM disk_samples d
		JOIN file_systems f ON f.id = d.file_system_id
		JOIN mount_points m ON m.id = d.mount_point_id
		WHERE d.ts >= ?
		ORDER BY d.ts ASC, d.id ASC`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying disk samples: %w", err)
	}
	defer rows.Close()

	var samples []model.DiskSample
	for rows.Next() {
		var (
			ds model.DiskSample
			ts int64
		)
		if err := rows.Scan(&ds.ID, &ts, &ds.Size, &ds.UsedSpace, &ds.FileSystemID, &ds.MountPointID, &ds.Device, &ds.MountPath); err != nil {
			return nil, fmt.Errorf("scanning disk sample: %w", err)
		}
		ds.Timestamp = time.Unix(ts, 0)
		samples = append(samples, ds)
	}
	return samples, rows.Err()
}

// QueryFolder returns the current node for path, or ErrNotFound.
func (s *Store) QueryFolder(path string) (*model.FolderNode, error) {
	row := s.db.QueryRow(`
		SELECT id, path, parent_id, size, last_measured
		FROM folder_nodes WHERE path = ?`, path)
	n, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("folder %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying folder %s: %w", path, err)
	}
	return n, nil
}

// QueryFolderChildren returns the direct children of a node, ordered by path.
func (s *Store) QueryFolderChildren(parentID int64) ([]model.FolderNode, error) {
	rows, err := s.db.Query(`
		SELECT id, path, parent_id, size, last_measured
		FROM folder_nodes WHERE parent_id = ?
		ORDER BY path ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("querying folder children: %w", err)
	}
	defer rows.Close()

	var nodes []model.FolderNode
	for rows.Next() {
		n, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning folder: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// QueryFolderHistory returns the recorded totals of a watched root, oldest first.
func (s *Store) QueryFolderHistory(path string) ([]model.FolderSizeSample, error) {
	rows, err := s.db.Query(`
		SELECT id, ts, path, size FROM folder_size_history
		WHERE path = ?
		ORDER BY ts ASC, id ASC`, path)
	if err != nil {
		return nil, fmt.Errorf("querying folder history: %w", err)
	}
	defer rows.Close()

	var samples []model.FolderSizeSample
	for rows.Next() {
		var (
			fs model.FolderSizeSample
			ts int64
		)
		if err := rows.Scan(&fs.ID, &ts, &fs.Path, &fs.Size); err != nil {
			return nil, fmt.Errorf("scanning folder history: %w", err)
		}
		fs.Timestamp = time.Unix(ts, 0)
		samples = append(samples, fs)
	}
	return samples, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFolder(r rowScanner) (*model.FolderNode, error) {
	var (
		n        model.FolderNode
		parentID sql.NullInt64
		measured int64
	)
	if err := r.Scan(&n.ID, &n.Path, &parentID, &n.Size, &measured); err != nil {
		return nil, err
	}
	if parentID.Valid {
		id := parentID.Int64
		n.ParentID = &id
	}
	n.LastMeasured = time.Unix(measured, 0)
	return &n, nil
}
