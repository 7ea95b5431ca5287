package report

// Schema contains the complete DDL for the run event database.
// Pass it to dbopen.WithSchema when opening events.db.
const Schema = `
-- Protocol events: one row per notable build occurrence (field confirmed,
-- fallback taken, resync spent, failure recorded).
CREATE TABLE IF NOT EXISTS events (
    event_id TEXT PRIMARY KEY DEFAULT ('evt_' || hex(randomblob(16))),
    ts INTEGER NOT NULL,
    kind TEXT NOT NULL,
    activity_code TEXT,
    field_key TEXT,
    detail TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_events_kind_ts ON events(kind, ts DESC);
CREATE INDEX IF NOT EXISTS idx_events_activity ON events(activity_code, ts DESC);

-- Final counter values, written once at end of run.
CREATE TABLE IF NOT EXISTS counters (
    name TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);
`
