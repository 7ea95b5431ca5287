package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/apknife1/cabldr/builder"
	"github.com/apknife1/cabldr/catalog"
	"github.com/apknife1/cabldr/instruction"
	"github.com/apknife1/cabldr/report"
)

// fakeCreator is a scripted FieldCreator: CreateField succeeds unless the
// field's sequence index still has failures budgeted in failSeq.
type fakeCreator struct {
	reg      *builder.Registry
	counters *builder.Counters
	bctx     *builder.BuildContext

	calls    int
	failSeq  map[int]int // seq index -> remaining failures
	failWith error
	intents  []builder.PlacementIntent
	nextID   int
}

func newFakeCreator() *fakeCreator {
	return &fakeCreator{
		reg:      builder.NewRegistry(),
		counters: builder.NewCounters(),
		bctx:     builder.NewBuildContext(3, false),
		failSeq:  map[int]int{},
	}
}

func (f *fakeCreator) CreateField(_ context.Context, kind catalog.KindSpec, sel builder.SectionSelector, intent builder.PlacementIntent, opts builder.CreateOptions) (*builder.FieldHandle, error) {
	f.calls++
	f.intents = append(f.intents, intent)
	if left := f.failSeq[opts.SeqIndex]; left > 0 {
		f.failSeq[opts.SeqIndex] = left - 1
		if f.failWith != nil {
			return nil, f.failWith
		}
		return nil, &builder.ProtocolError{
			Class: builder.ClassConfirmation, Stage: "confirm",
			Reason: "no candidate after timeout", Retryable: true,
		}
	}
	f.nextID++
	secID := "sec-1"
	title := sel.Title
	if title == "" {
		title = "Main"
	}
	f.reg.AddSection(builder.SectionHandle{ID: secID, Title: title, Index: 0})
	h := &builder.FieldHandle{
		ID:        fmt.Sprintf("section-field-%d", f.nextID),
		SectionID: secID,
		Kind:      kind.Key,
		Index:     f.nextID - 1,
		SeqIndex:  opts.SeqIndex,
		Title:     opts.Title,
	}
	f.reg.AddField(h)
	return h, nil
}

func (f *fakeCreator) Registry() *builder.Registry         { return f.reg }
func (f *fakeCreator) Counters() *builder.Counters         { return f.counters }
func (f *fakeCreator) BuildContext() *builder.BuildContext { return f.bctx }

type fakeOpener struct {
	exists  bool
	opened  []string
	created []string
}

func (f *fakeOpener) OpenTemplates(context.Context) error { return nil }
func (f *fakeOpener) ActivityExists(_ context.Context, title string) (bool, error) {
	f.opened = append(f.opened, title)
	return f.exists, nil
}
func (f *fakeOpener) CreateActivity(_ context.Context, title, _ string) error {
	f.created = append(f.created, title)
	return nil
}

type fakeProps struct {
	applied []string
	err     error
}

func (f *fakeProps) ApplyProperties(_ context.Context, fieldID string, _ instruction.Field) error {
	f.applied = append(f.applied, fieldID)
	return f.err
}

func testSpec(t *testing.T, fieldCount int) *instruction.Spec {
	t.Helper()
	body := "activities:\n  - code: ACT-1\n    title: Test Activity\n    fields:\n"
	for i := 0; i < fieldCount; i++ {
		body += fmt.Sprintf("      - {key: q%d, kind: short_answer}\n", i)
	}
	path := filepath.Join(t.TempDir(), "build.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	spec, err := instruction.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return spec
}

func testController(t *testing.T, fc *fakeCreator, op *fakeOpener, pw *fakeProps, cfg Config) (*Controller, *report.Run) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Logger = log
	rep, err := report.Open(t.TempDir(), "run-ctl", log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rep.Close("completed") })
	return New(fc, op, pw, rep, cfg), rep
}

func TestRun_HappyPath(t *testing.T) {
	fc := newFakeCreator()
	op := &fakeOpener{}
	pw := &fakeProps{}
	ctl, rep := testController(t, fc, op, pw, Config{})

	if err := ctl.Run(context.Background(), testSpec(t, 3)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(op.created) != 1 || op.created[0] != "Test Activity" {
		t.Fatalf("created = %v", op.created)
	}
	if fc.calls != 3 || len(pw.applied) != 3 {
		t.Fatalf("calls = %d, props = %d", fc.calls, len(pw.applied))
	}
	if rep.Meta.FieldsBuilt != 3 || rep.Meta.FieldsFailed != 0 || rep.Meta.ActivitiesBuilt != 1 {
		t.Fatalf("meta = %+v", rep.Meta)
	}
	if len(fc.bctx.Failures()) != 0 {
		t.Fatalf("failures = %v", fc.bctx.Failures())
	}
}

func TestRun_SkipExisting(t *testing.T) {
	fc := newFakeCreator()
	op := &fakeOpener{exists: true}
	ctl, rep := testController(t, fc, op, &fakeProps{}, Config{SkipExisting: true})

	if err := ctl.Run(context.Background(), testSpec(t, 2)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(op.created) != 0 {
		t.Fatalf("created = %v, want none", op.created)
	}
	if fc.calls != 0 {
		t.Fatalf("calls = %d, want 0", fc.calls)
	}
	if rep.Meta.ActivitiesSkipped != 1 {
		t.Fatalf("skipped = %d", rep.Meta.ActivitiesSkipped)
	}
}

func TestRun_RetryPassFixesRetryableFailure(t *testing.T) {
	fc := newFakeCreator()
	fc.failSeq[1] = 1 // q1 fails once, then succeeds on retry
	ctl, rep := testController(t, fc, &fakeOpener{}, &fakeProps{}, Config{})

	if err := ctl.Run(context.Background(), testSpec(t, 3)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fc.bctx.Failures()) != 0 {
		t.Fatalf("failures after retry = %v", fc.bctx.Failures())
	}
	if rep.Meta.RetryFixed != 1 {
		t.Fatalf("RetryFixed = %d, want 1", rep.Meta.RetryFixed)
	}
	if fc.calls != 4 {
		t.Fatalf("calls = %d, want 4 (3 + 1 retry)", fc.calls)
	}
}

func TestRetry_StopsAfterConsecutiveFailures(t *testing.T) {
	fc := newFakeCreator()
	for seq := 0; seq < 7; seq++ {
		fc.failSeq[seq] = 100 // never succeeds
	}
	ctl, _ := testController(t, fc, &fakeOpener{}, &fakeProps{}, Config{})

	if err := ctl.Run(context.Background(), testSpec(t, 7)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 7 initial attempts, then two retry passes of at most 5 each.
	if fc.calls != 17 {
		t.Fatalf("calls = %d, want 17", fc.calls)
	}
	if got := len(fc.bctx.Failures()); got != 7 {
		t.Fatalf("failures = %d, want 7", got)
	}
}

func TestPlacement_AfterResolvesConfirmedID(t *testing.T) {
	body := `
activities:
  - code: ACT-1
    title: Placement
    fields:
      - {key: q0, kind: short_answer}
      - {key: q1, kind: long_answer, placement: after, after: q0}
`
	path := filepath.Join(t.TempDir(), "build.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	spec, err := instruction.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	fc := newFakeCreator()
	ctl, _ := testController(t, fc, &fakeOpener{}, &fakeProps{}, Config{})
	if err := ctl.Run(context.Background(), spec); err != nil {
		t.Fatal(err)
	}
	if len(fc.intents) != 2 {
		t.Fatalf("intents = %d", len(fc.intents))
	}
	got := fc.intents[1]
	if got.Place != builder.PlaceAfter || got.AnchorID != "section-field-1" {
		t.Fatalf("second intent = %+v, want after section-field-1", got)
	}
}

func TestRun_TerminalErrorPropagates(t *testing.T) {
	fc := newFakeCreator()
	fc.failSeq[0] = 100
	fc.failWith = &builder.ProtocolError{
		Class: builder.ClassEnvironment, Stage: "resync",
		Reason: "resync budget exhausted", Err: builder.ErrResyncBudgetExhausted,
	}
	ctl, _ := testController(t, fc, &fakeOpener{}, &fakeProps{}, Config{})

	err := ctl.Run(context.Background(), testSpec(t, 2))
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if !errors.Is(err, builder.ErrResyncBudgetExhausted) {
		t.Fatalf("err = %v", err)
	}
	if fc.calls != 1 {
		t.Fatalf("calls = %d, want 1 (abort on first)", fc.calls)
	}
}

func TestRun_PropertyFailureRecorded(t *testing.T) {
	fc := newFakeCreator()
	pw := &fakeProps{err: errors.New("settings panel never opened")}
	ctl, _ := testController(t, fc, &fakeOpener{}, pw, Config{})

	if err := ctl.Run(context.Background(), testSpec(t, 1)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fails := fc.bctx.Failures()
	if len(fails) != 1 || fails[0].Stage != builder.StageProperties {
		t.Fatalf("failures = %+v", fails)
	}
	// Property failures are not add failures; the field stays built.
	if !fc.reg.Known("section-field-1") {
		t.Error("field missing from registry")
	}
}
