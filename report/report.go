// Package report owns the per-run output directory: run.json metadata,
// failures.json for the offline retry pass, and an SQLite event log. Event
// persistence never blocks or fails the build; write errors are logged and
// dropped.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/apknife1/cabldr/builder"
	"github.com/apknife1/cabldr/dbopen"
)

// Meta is the progressively updated run.json payload.
type Meta struct {
	RunID             string                `json:"run_id"`
	StartedAt         time.Time             `json:"started_at"`
	FinishedAt        *time.Time            `json:"finished_at,omitempty"`
	Status            string                `json:"status"` // running, completed, failed, aborted
	InstructionPaths  []string              `json:"instruction_paths"`
	ActivitiesPlanned int                   `json:"activities_planned"`
	ActivitiesBuilt   int                   `json:"activities_built"`
	ActivitiesSkipped int                   `json:"activities_skipped"`
	FieldsPlanned     int                   `json:"fields_planned"`
	FieldsBuilt       int                   `json:"fields_built"`
	FieldsFailed      int                   `json:"fields_failed"`
	RetryFixed        int                   `json:"retry_fixed"`
	Counters          map[string]int64      `json:"counters,omitempty"`
	Sections          []builder.SectionDump `json:"sections,omitempty"`
}

// Run is one run's output directory and event database.
type Run struct {
	ID   string
	Dir  string
	Meta Meta

	db  *sql.DB
	log *slog.Logger
}

// Open creates the run directory runs-style layout under baseDir
// (<timestamp>_<id>/) and opens its event database.
func Open(baseDir, id string, log *slog.Logger) (*Run, error) {
	if log == nil {
		log = slog.Default()
	}
	started := time.Now()
	dir := filepath.Join(baseDir, fmt.Sprintf("%s_%s", started.Format("20060102-150405"), id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create run dir: %w", err)
	}
	db, err := dbopen.Open(filepath.Join(dir, "events.db"), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("report: open events db: %w", err)
	}
	r := &Run{
		ID:  id,
		Dir: dir,
		Meta: Meta{
			RunID:     id,
			StartedAt: started,
			Status:    "running",
		},
		db:  db,
		log: log,
	}
	if err := r.SaveMeta(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// SaveMeta writes run.json atomically. Call after every meaningful progress
// change; a crashed run still leaves a readable last state.
func (r *Run) SaveMeta() error {
	raw, err := json.MarshalIndent(&r.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal run meta: %w", err)
	}
	path := filepath.Join(r.Dir, "run.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("report: write run meta: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("report: commit run meta: %w", err)
	}
	return nil
}

// WriteFailures dumps the failure records to failures.json, replacing any
// previous dump.
func (r *Run) WriteFailures(recs []builder.FailureRecord) error {
	if recs == nil {
		recs = []builder.FailureRecord{}
	}
	raw, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal failures: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.Dir, "failures.json"), raw, 0o644); err != nil {
		return fmt.Errorf("report: write failures: %w", err)
	}
	return nil
}

// Event records one protocol event. Best effort: writes ride the busy-retry
// helper, and a failed insert is logged at debug and dropped. Uses a
// background context so a cancelled build still gets its final events.
func (r *Run) Event(kind, activityCode, fieldKey, detail string) {
	_, err := dbopen.Exec(context.Background(), r.db,
		`INSERT INTO events (ts, kind, activity_code, field_key, detail) VALUES (?, ?, ?, ?, ?)`,
		time.Now().Unix(), kind, nullIfEmpty(activityCode), nullIfEmpty(fieldKey), nullIfEmpty(detail),
	)
	if err != nil {
		r.log.Debug("report: event insert failed", "kind", kind, "err", err)
	}
}

// SaveCounters upserts the final counter values.
func (r *Run) SaveCounters(counters map[string]int64) {
	for name, value := range counters {
		_, err := dbopen.Exec(context.Background(), r.db,
			`INSERT INTO counters (name, value) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
			name, value,
		)
		if err != nil {
			r.log.Debug("report: counter upsert failed", "name", name, "err", err)
		}
	}
	r.Meta.Counters = counters
}

// Close finalizes run.json with the given status and closes the event
// database.
func (r *Run) Close(status string) error {
	now := time.Now()
	r.Meta.FinishedAt = &now
	r.Meta.Status = status
	err := r.SaveMeta()
	if cerr := r.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// DB exposes the event database for tests and ad hoc queries.
func (r *Run) DB() *sql.DB { return r.db }

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
