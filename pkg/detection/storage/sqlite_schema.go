package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the detection database schema.
// Timestamps are stored as unix nanoseconds so that ordering is exact.
const Schema = `
CREATE TABLE IF NOT EXISTS owners (
    owner_key TEXT PRIMARY KEY,
    monitoring_enabled BOOLEAN NOT NULL DEFAULT 0,
    streaming_url TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_key TEXT NOT NULL REFERENCES owners(owner_key) ON DELETE RESTRICT,
    detected_at INTEGER NOT NULL,
    result INTEGER NOT NULL DEFAULT 0,
    image_ref TEXT NOT NULL DEFAULT '',
    config TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_owner_order ON results(owner_key, detected_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_results_order ON results(detected_at DESC, id DESC);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const resultColumns = `id, owner_key, detected_at, result, image_ref, config, created_at`

const ownerColumns = `owner_key, monitoring_enabled, streaming_url, email, created_at, updated_at`

const selectByOwnerOrdered = `
SELECT ` + resultColumns + `
FROM results
WHERE owner_key = ?
ORDER BY detected_at DESC, id DESC
`

const selectRecent = `
SELECT ` + resultColumns + `
FROM results
ORDER BY detected_at DESC, id DESC
LIMIT ?
`
