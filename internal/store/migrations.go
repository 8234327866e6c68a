package store

const schema = `
-- Devices seen on this host (created once, reused across runs)
CREATE TABLE IF NOT EXISTS file_systems (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT    NOT NULL UNIQUE
);

-- Mount paths seen on this host
CREATE TABLE IF NOT EXISTS mount_points (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    path        TEXT    NOT NULL UNIQUE
);

-- Partition usage, one row per partition per run
CREATE TABLE IF NOT EXISTS disk_samples (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    ts              INTEGER NOT NULL,
    size            INTEGER NOT NULL,
    used_space      INTEGER NOT NULL,
    file_system_id  INTEGER NOT NULL,
    mount_point_id  INTEGER NOT NULL,
    FOREIGN KEY (file_system_id) REFERENCES file_systems(id),
    FOREIGN KEY (mount_point_id) REFERENCES mount_points(id)
);

-- Current folder tree, one row per path, overwritten each run
CREATE TABLE IF NOT EXISTS folder_nodes (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    path            TEXT    NOT NULL UNIQUE,
    parent_id       INTEGER,
    size            INTEGER NOT NULL,
    last_measured   INTEGER NOT NULL,
    FOREIGN KEY (parent_id) REFERENCES folder_nodes(id)
);

-- Watched root totals, one row per root per run
CREATE TABLE IF NOT EXISTS folder_size_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          INTEGER NOT NULL,
    path        TEXT    NOT NULL,
    size        INTEGER NOT NULL
);

-- Notifications handed to providers
CREATE TABLE IF NOT EXISTS notification_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          INTEGER NOT NULL,
    run_id      TEXT    NOT NULL,
    kind        TEXT    NOT NULL,
    subject     TEXT    NOT NULL,
    devices     TEXT,
    delivered   INTEGER NOT NULL
);

-- Secondary indexes
CREATE INDEX IF NOT EXISTS idx_disk_samples_ts ON disk_samples(ts);
CREATE INDEX IF NOT EXISTS idx_folder_nodes_parent ON folder_nodes(parent_id);
CREATE INDEX IF NOT EXISTS idx_folder_history_path ON folder_size_history(path, ts);
CREATE INDEX IF NOT EXISTS idx_notification_ts ON notification_log(ts);
`
