package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/apknife1/cabldr/catalog"
)

// fakeSurface is a scripted in-memory Surface. Tests mutate its canvas
// through hooks (onRelease, onSynthetic, timed reveal) to replay the render
// behaviors the protocol has to survive.
type fakeSurface struct {
	sections map[string]*fakeSection
	order    []string
	activeID string
	// misaligned forces CanvasAligned to fail until cleared.
	misaligned bool

	// holdsBeforeDrag is how many BeginHold calls are swallowed before drag
	// mode engages.
	holdsBeforeDrag int
	holds           int
	gesture         bool
	releaseErrs     []error // consumed one per ReleaseAt call
	releases        int
	lastZone        string
	onRelease       func()
	// collapseAfter drops out of drag mode once this many releases happened.
	collapseAfter int
	// zoneInactive makes DropzoneActive report false for that many calls.
	zoneInactive int
	syntheticErr  error
	synthetics    int
	onSynthetic   func()
	missingZones  map[string]bool

	// pending is revealed into the active section once revealAt passes.
	pending  *fakeField
	revealAt time.Time

	grabErr        error
	grabs          int
	grabbed        string
	noSort         bool
	residueCleared int

	reloads  int
	onReload func()

	nextID int
}

type fakeSection struct {
	h                SectionHandle
	fields           []fakeField
	emptyPlaceholder bool
}

type fakeField struct {
	id   string
	kind string
}

func newFakeSurface(kinds ...string) *fakeSurface {
	fs := &fakeSurface{
		sections:     make(map[string]*fakeSection),
		missingZones: make(map[string]bool),
	}
	fs.addSection("Main")
	for _, k := range kinds {
		fs.appendField(fs.activeID, k)
	}
	return fs
}

func (fs *fakeSurface) addSection(title string) *fakeSection {
	id := fmt.Sprintf("sec-%d", len(fs.order)+1)
	sec := &fakeSection{
		h:                SectionHandle{ID: id, Title: title, Index: len(fs.order)},
		emptyPlaceholder: true,
	}
	fs.sections[id] = sec
	fs.order = append(fs.order, id)
	if fs.activeID == "" {
		fs.activeID = id
	}
	return sec
}

func (fs *fakeSurface) appendField(sectionID, kind string) string {
	fs.nextID++
	id := fmt.Sprintf("section-field-%d", fs.nextID)
	sec := fs.sections[sectionID]
	sec.fields = append(sec.fields, fakeField{id: id, kind: kind})
	sec.emptyPlaceholder = false
	return id
}

func (fs *fakeSurface) active() *fakeSection { return fs.sections[fs.activeID] }

func (fs *fakeSurface) maybeReveal() {
	if fs.pending != nil && !fs.revealAt.IsZero() && time.Now().After(fs.revealAt) {
		sec := fs.active()
		sec.fields = append(sec.fields, *fs.pending)
		sec.emptyPlaceholder = false
		fs.pending = nil
	}
}

// CanvasReader

func (fs *fakeSurface) FieldIDs(context.Context) ([]string, error) {
	fs.maybeReveal()
	sec := fs.active()
	out := make([]string, len(sec.fields))
	for i, f := range sec.fields {
		out[i] = f.id
	}
	return out, nil
}

func (fs *fakeSurface) FieldIDsByKind(_ context.Context, kind catalog.KindSpec) ([]string, error) {
	fs.maybeReveal()
	var out []string
	for _, f := range fs.active().fields {
		if f.kind == kind.Key {
			out = append(out, f.id)
		}
	}
	return out, nil
}

func (fs *fakeSurface) HasField(_ context.Context, id string) bool {
	fs.maybeReveal()
	for _, f := range fs.active().fields {
		if f.id == id {
			return true
		}
	}
	return false
}

func (fs *fakeSurface) FieldMatchesKind(_ context.Context, id string, kind catalog.KindSpec) bool {
	for _, f := range fs.active().fields {
		if f.id == id {
			return f.kind == kind.Key
		}
	}
	return false
}

func (fs *fakeSurface) FieldClasses(_ context.Context, id string) ([]string, error) {
	for _, f := range fs.active().fields {
		if f.id == id {
			spec, err := catalog.Lookup(f.kind)
			if err != nil {
				return []string{"section-field"}, nil
			}
			return []string{"section-field", spec.WrapperClass}, nil
		}
	}
	return nil, fmt.Errorf("no field %s", id)
}

func (fs *fakeSurface) SectionEmpty(context.Context) bool {
	sec := fs.active()
	return sec.emptyPlaceholder && len(sec.fields) == 0
}

// SectionNavigator

func (fs *fakeSurface) ActiveSection(context.Context) (*SectionHandle, error) {
	h := fs.active().h
	return &h, nil
}

func (fs *fakeSurface) ListSections(context.Context) ([]SectionHandle, error) {
	out := make([]SectionHandle, 0, len(fs.order))
	for _, id := range fs.order {
		out = append(out, fs.sections[id].h)
	}
	return out, nil
}

func (fs *fakeSurface) SelectByID(_ context.Context, id string) (*SectionHandle, error) {
	sec, ok := fs.sections[id]
	if !ok {
		return nil, fmt.Errorf("no section %s", id)
	}
	fs.activeID = id
	h := sec.h
	return &h, nil
}

func (fs *fakeSurface) SelectByIndex(ctx context.Context, idx int) (*SectionHandle, error) {
	if idx < 0 || idx >= len(fs.order) {
		return nil, fmt.Errorf("no section at index %d", idx)
	}
	return fs.SelectByID(ctx, fs.order[idx])
}

func (fs *fakeSurface) SelectByTitle(ctx context.Context, title string) (*SectionHandle, error) {
	var match string
	for _, id := range fs.order {
		if fs.sections[id].h.Title == title {
			if match != "" {
				return nil, fmt.Errorf("title %q ambiguous", title)
			}
			match = id
		}
	}
	if match == "" {
		return nil, fmt.Errorf("no section titled %q", title)
	}
	return fs.SelectByID(ctx, match)
}

func (fs *fakeSurface) CreateSection(_ context.Context, title string) (*SectionHandle, error) {
	sec := fs.addSection(title)
	fs.activeID = sec.h.ID
	h := sec.h
	return &h, nil
}

func (fs *fakeSurface) CanvasAligned(_ context.Context, sectionID string, _ time.Duration) bool {
	return !fs.misaligned && fs.activeID == sectionID
}

// GestureDriver

func (fs *fakeSurface) ShowPalette(context.Context, catalog.KindSpec) error { return nil }

func (fs *fakeSurface) BeginHold(context.Context, catalog.KindSpec) error {
	fs.holds++
	if fs.holds > fs.holdsBeforeDrag {
		fs.gesture = true
	}
	return nil
}

func (fs *fakeSurface) GestureActive(context.Context) bool { return fs.gesture }

func (fs *fakeSurface) CancelGesture(context.Context) { fs.gesture = false }

func (fs *fakeSurface) NudgePointer(context.Context) {}

func (fs *fakeSurface) DropzoneRect(_ context.Context, id string) (Rect, bool) {
	if fs.missingZones[id] {
		return Rect{}, false
	}
	return Rect{X: 100, Y: 120, W: 800, H: 64}, true
}

func (fs *fakeSurface) DropzoneActive(context.Context, string) bool {
	if fs.zoneInactive > 0 {
		fs.zoneInactive--
		return false
	}
	return true
}

func (fs *fakeSurface) ScrollDropzone(context.Context, string, bool) error { return nil }

func (fs *fakeSurface) Viewport(context.Context) Viewport { return Viewport{W: 1280, H: 800} }

func (fs *fakeSurface) ReleaseAt(_ context.Context, id string, _, _ float64) error {
	fs.releases++
	fs.lastZone = id
	if fs.releases <= len(fs.releaseErrs) {
		if err := fs.releaseErrs[fs.releases-1]; err != nil {
			if fs.collapseAfter > 0 && fs.releases >= fs.collapseAfter {
				fs.gesture = false
			}
			return err
		}
	}
	fs.gesture = false
	if fs.onRelease != nil {
		fs.onRelease()
	}
	return nil
}

func (fs *fakeSurface) SyntheticRelease(context.Context, float64, float64) error {
	fs.synthetics++
	if fs.syntheticErr != nil {
		return fs.syntheticErr
	}
	fs.gesture = false
	if fs.onSynthetic != nil {
		fs.onSynthetic()
	}
	return nil
}

// MoveDriver

func (fs *fakeSurface) GrabField(_ context.Context, id string) error {
	fs.grabs++
	if fs.grabErr != nil {
		return fs.grabErr
	}
	fs.grabbed = id
	return nil
}

func (fs *fakeSurface) SortActive(context.Context) bool {
	return !fs.noSort && fs.grabbed != ""
}

func (fs *fakeSurface) DropOnField(_ context.Context, target string, before bool) error {
	fs.reorder(fs.grabbed, target, before)
	fs.grabbed = ""
	return nil
}

func (fs *fakeSurface) SyntheticMove(_ context.Context, id, target string, before bool) error {
	fs.reorder(id, target, before)
	return nil
}

func (fs *fakeSurface) ClearMoveResidue(context.Context) {
	fs.residueCleared++
	fs.grabbed = ""
}

func (fs *fakeSurface) FieldRect(_ context.Context, id string) (Rect, bool) {
	return Rect{X: 100, Y: 200, W: 800, H: 48}, fs.hasID(id)
}

func (fs *fakeSurface) hasID(id string) bool {
	for _, f := range fs.active().fields {
		if f.id == id {
			return true
		}
	}
	return false
}

func (fs *fakeSurface) reorder(id, target string, before bool) {
	sec := fs.active()
	var moved fakeField
	found := false
	rest := sec.fields[:0:0]
	for _, f := range sec.fields {
		if f.id == id {
			moved = f
			found = true
			continue
		}
		rest = append(rest, f)
	}
	if !found {
		return
	}
	out := make([]fakeField, 0, len(rest)+1)
	placed := false
	for _, f := range rest {
		if f.id == target && before {
			out = append(out, moved)
			placed = true
		}
		out = append(out, f)
		if f.id == target && !before {
			out = append(out, moved)
			placed = true
		}
	}
	if !placed {
		out = append(out, moved)
	}
	sec.fields = out
}

// Environment

func (fs *fakeSurface) Reload(context.Context) error {
	fs.reloads++
	fs.gesture = false
	fs.grabbed = ""
	if fs.onReload != nil {
		fs.onReload()
	}
	return nil
}
