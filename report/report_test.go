package report

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/apknife1/cabldr/builder"
)

func openTestRun(t *testing.T) *Run {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := Open(t.TempDir(), "run-test", log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func TestOpen_WritesInitialMeta(t *testing.T) {
	r := openTestRun(t)
	defer r.Close("completed")

	raw, err := os.ReadFile(filepath.Join(r.Dir, "run.json"))
	if err != nil {
		t.Fatalf("run.json missing: %v", err)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.RunID != "run-test" || meta.Status != "running" {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestClose_FinalizesMeta(t *testing.T) {
	r := openTestRun(t)
	r.Meta.FieldsBuilt = 7
	if err := r.Close("completed"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, _ := os.ReadFile(filepath.Join(r.Dir, "run.json"))
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Status != "completed" || meta.FinishedAt == nil || meta.FieldsBuilt != 7 {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestEvent_Persisted(t *testing.T) {
	r := openTestRun(t)
	defer r.Close("completed")

	r.Event("field_confirmed", "ACT-1", "q1", "section-field-12")
	r.Event("hard_resync", "ACT-1", "", "confirmation timeout")

	var count int
	if err := r.DB().QueryRow(`SELECT COUNT(*) FROM events WHERE activity_code = 'ACT-1'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("events = %d, want 2", count)
	}

	var fieldKey string
	if err := r.DB().QueryRow(`SELECT field_key FROM events WHERE kind = 'field_confirmed'`).Scan(&fieldKey); err != nil {
		t.Fatal(err)
	}
	if fieldKey != "q1" {
		t.Fatalf("field_key = %q", fieldKey)
	}
}

func TestSaveCounters_Upserts(t *testing.T) {
	r := openTestRun(t)
	defer r.Close("completed")

	r.SaveCounters(map[string]int64{"gesture.synthetic_release": 2})
	r.SaveCounters(map[string]int64{"gesture.synthetic_release": 5})

	var value int64
	if err := r.DB().QueryRow(`SELECT value FROM counters WHERE name = 'gesture.synthetic_release'`).Scan(&value); err != nil {
		t.Fatal(err)
	}
	if value != 5 {
		t.Fatalf("counter = %d, want 5", value)
	}
	if r.Meta.Counters["gesture.synthetic_release"] != 5 {
		t.Error("meta counters not updated")
	}
}

func TestWriteFailures(t *testing.T) {
	r := openTestRun(t)
	defer r.Close("failed")

	recs := []builder.FailureRecord{{
		ActivityCode: "ACT-1",
		Stage:        builder.StageAdd,
		Reason:       "no candidate after timeout",
		Retryable:    true,
		Kind:         "short_answer",
		SeqIndex:     3,
		Attempts:     3,
	}}
	if err := r.WriteFailures(recs); err != nil {
		t.Fatalf("WriteFailures: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(r.Dir, "failures.json"))
	if err != nil {
		t.Fatal(err)
	}
	var got []builder.FailureRecord
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Reason != "no candidate after timeout" || got[0].Stage != builder.StageAdd {
		t.Fatalf("failures = %+v", got)
	}
}

func TestWriteFailures_EmptyIsValidJSON(t *testing.T) {
	r := openTestRun(t)
	defer r.Close("completed")

	if err := r.WriteFailures(nil); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(filepath.Join(r.Dir, "failures.json"))
	var got []builder.FailureRecord
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("failures.json not a JSON array: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("failures = %v, want empty array", got)
	}
}
