package builder

import (
	"context"
	"time"

	"github.com/apknife1/cabldr/catalog"
)

// CanvasReader reads the active section's canvas. Every call is a fresh DOM
// read; nothing here is cached, because re-fetch is the only trusted proof of
// existence in this protocol.
type CanvasReader interface {
	// FieldIDs returns the ordered element IDs of every field wrapper in the
	// active section, regardless of kind.
	FieldIDs(ctx context.Context) ([]string, error)

	// FieldIDsByKind returns the ordered IDs of fields whose wrapper carries
	// the kind's marker class, skipping wrappers without a strict element ID.
	FieldIDsByKind(ctx context.Context, kind catalog.KindSpec) ([]string, error)

	// HasField re-finds a field by ID. This is the protocol's only truth test.
	HasField(ctx context.Context, id string) bool

	// FieldMatchesKind reports whether the field's wrapper carries the kind's
	// marker class.
	FieldMatchesKind(ctx context.Context, id string, kind catalog.KindSpec) bool

	// FieldClasses returns the wrapper class list of a field, for registry
	// rebuilds from a live surface.
	FieldClasses(ctx context.Context, id string) ([]string, error)

	// SectionEmpty reports whether the active section shows the empty-canvas
	// placeholder dropzone and holds zero field wrappers.
	SectionEmpty(ctx context.Context) bool
}

// SectionNavigator selects sections in the sidebar and reports whether the
// canvas is aligned with (rendering) a given section.
type SectionNavigator interface {
	ActiveSection(ctx context.Context) (*SectionHandle, error)
	ListSections(ctx context.Context) ([]SectionHandle, error)
	SelectByID(ctx context.Context, id string) (*SectionHandle, error)
	SelectByIndex(ctx context.Context, idx int) (*SectionHandle, error)
	// SelectByTitle matches exactly after whitespace normalisation. Multiple
	// matches are an error, never a guess.
	SelectByTitle(ctx context.Context, title string) (*SectionHandle, error)
	CreateSection(ctx context.Context, title string) (*SectionHandle, error)

	// CanvasAligned polls until the canvas reports the given section as its
	// render target, or the wait elapses.
	CanvasAligned(ctx context.Context, sectionID string, wait time.Duration) bool
}

// GestureDriver provides the raw primitives of the palette create gesture.
// Sequencing, offsets and fallbacks belong to the builder, not the driver.
type GestureDriver interface {
	// ShowPalette makes the kind's palette card visible (tab switch, scroll).
	ShowPalette(ctx context.Context, kind catalog.KindSpec) error

	// BeginHold presses and holds on the kind's palette card and performs the
	// small wake movement that arms the drag machinery.
	BeginHold(ctx context.Context, kind catalog.KindSpec) error

	// GestureActive reports whether the surface is in drag mode.
	GestureActive(ctx context.Context) bool

	// CancelGesture releases any held press and dismisses drag mode. Safe to
	// call when no gesture is in flight.
	CancelGesture(ctx context.Context)

	// NudgePointer performs a tiny pointer movement to keep drag mode alive.
	NudgePointer(ctx context.Context)

	// DropzoneRect returns fresh geometry for a dropzone element, ok=false
	// when the element is missing or invisible.
	DropzoneRect(ctx context.Context, dropzoneID string) (Rect, bool)

	// DropzoneActive reports whether the dropzone is highlighted as a live
	// drop target.
	DropzoneActive(ctx context.Context, dropzoneID string) bool

	// ScrollDropzone scrolls the dropzone into view, to the end of the canvas
	// when toEnd is set.
	ScrollDropzone(ctx context.Context, dropzoneID string, toEnd bool) error

	Viewport(ctx context.Context) Viewport

	// ReleaseAt moves to the dropzone center offset by (dx, dy) and releases.
	// Returns ErrOutOfBounds when the point is not actionable.
	ReleaseAt(ctx context.Context, dropzoneID string, dx, dy float64) error

	// SyntheticRelease dispatches synthesized pointer/mouse release events at
	// absolute viewport coordinates, bypassing native hit testing.
	SyntheticRelease(ctx context.Context, x, y float64) error
}

// MoveDriver provides the raw primitives of the reposition gesture over
// existing fields.
type MoveDriver interface {
	// GrabField presses and holds the field's drag handle and wakes the sort
	// machinery.
	GrabField(ctx context.Context, id string) error

	// SortActive reports whether an existing-field sort drag is in flight.
	SortActive(ctx context.Context) bool

	// DropOnField moves over the target field's upper or lower half and
	// releases.
	DropOnField(ctx context.Context, targetID string, before bool) error

	// SyntheticMove replays the whole move as synthesized events.
	SyntheticMove(ctx context.Context, id, targetID string, before bool) error

	// ClearMoveResidue removes leftover sort artifacts (ghost and chosen
	// markers, dragging body class) after a cancelled or failed move.
	ClearMoveResidue(ctx context.Context)

	FieldRect(ctx context.Context, id string) (Rect, bool)
}

// Environment owns whole-page recovery.
type Environment interface {
	Reload(ctx context.Context) error
}

// Surface is everything the builder needs from the remote application. The
// production implementation lives in the session package; tests substitute a
// scripted fake.
type Surface interface {
	CanvasReader
	SectionNavigator
	GestureDriver
	MoveDriver
	Environment
}
