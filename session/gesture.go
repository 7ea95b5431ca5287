package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/apknife1/cabldr/builder"
	"github.com/apknife1/cabldr/catalog"
)

// gesture.go implements builder.GestureDriver and builder.MoveDriver with
// native CDP mouse input, plus the synthesized-event escape hatches the
// protocol falls back to.

// elementNow finds an element without rod's implicit waiting. ok=false means
// absent right now.
func (s *Session) elementNow(ctx context.Context, sel string) (*rod.Element, bool) {
	has, el, err := s.page.Context(ctx).Has(sel)
	if err != nil || !has {
		return nil, false
	}
	return el, true
}

func elementRect(el *rod.Element) (builder.Rect, bool) {
	shape, err := el.Shape()
	if err != nil {
		return builder.Rect{}, false
	}
	box := shape.Box()
	if box == nil || box.Width <= 0 || box.Height <= 0 {
		return builder.Rect{}, false
	}
	return builder.Rect{X: box.X, Y: box.Y, W: box.Width, H: box.Height}, true
}

func (s *Session) moveTo(x, y float64, steps int) error {
	if err := s.page.Mouse.MoveLinear(proto.Point{X: x, Y: y}, steps); err != nil {
		return err
	}
	s.lastX, s.lastY = x, y
	return nil
}

// ShowPalette switches to the kind's sidebar tab and scrolls its card into
// view.
func (s *Session) ShowPalette(ctx context.Context, kind catalog.KindSpec) error {
	tabs, err := s.page.Context(ctx).Elements(selPaletteTab)
	if err != nil {
		return fmt.Errorf("session: palette tabs: %w", err)
	}
	for _, tab := range tabs {
		text, err := tab.Text()
		if err != nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(text), kind.SidebarTab) {
			if err := tab.Click(proto.InputMouseButtonLeft, 1); err != nil {
				return fmt.Errorf("session: switch palette tab: %w", err)
			}
			break
		}
	}
	card, ok := s.elementNow(ctx, fmt.Sprintf(selPaletteCard, kind.CardDataType))
	if !ok {
		return fmt.Errorf("session: no palette card for %s", kind.Key)
	}
	if err := card.ScrollIntoView(); err != nil {
		return fmt.Errorf("session: scroll palette card: %w", err)
	}
	return nil
}

// BeginHold presses and holds on the palette card and performs the small wake
// movement that arms the drag machinery.
func (s *Session) BeginHold(ctx context.Context, kind catalog.KindSpec) error {
	card, ok := s.elementNow(ctx, fmt.Sprintf(selPaletteCard, kind.CardDataType))
	if !ok {
		return fmt.Errorf("session: palette card for %s vanished", kind.Key)
	}
	rect, ok := elementRect(card)
	if !ok {
		return fmt.Errorf("session: palette card for %s has no geometry", kind.Key)
	}
	cx, cy := rect.X+rect.W/2, rect.Y+rect.H/2
	if err := s.moveTo(cx, cy, 4); err != nil {
		return fmt.Errorf("session: move to card: %w", err)
	}
	if err := s.page.Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: press card: %w", err)
	}
	// Wake movement: a held press alone does not start the drag.
	if err := s.moveTo(cx+4, cy+6, 3); err != nil {
		return fmt.Errorf("session: wake move: %w", err)
	}
	return nil
}

func (s *Session) GestureActive(ctx context.Context) bool {
	return s.evalBool(ctx, jsGestureActive)
}

// CancelGesture releases a held press and dismisses drag mode. Every failure
// exit in the protocol routes through here; errors are swallowed because
// there may be nothing to cancel.
func (s *Session) CancelGesture(ctx context.Context) {
	_ = s.page.Mouse.Up(proto.InputMouseButtonLeft, 1)
	_ = s.page.Keyboard.Press(input.Escape)
}

func (s *Session) NudgePointer(ctx context.Context) {
	_ = s.moveTo(s.lastX+3, s.lastY+3, 2)
}

func (s *Session) DropzoneRect(ctx context.Context, dropzoneID string) (builder.Rect, bool) {
	el, ok := s.elementNow(ctx, "#"+dropzoneID)
	if !ok {
		return builder.Rect{}, false
	}
	return elementRect(el)
}

func (s *Session) DropzoneActive(ctx context.Context, dropzoneID string) bool {
	return s.evalBool(ctx, jsDropzoneActive, dropzoneID)
}

func (s *Session) ScrollDropzone(ctx context.Context, dropzoneID string, toEnd bool) error {
	if toEnd {
		// Bottom dropzones can sit below a long canvas.
		_, _ = s.page.Context(ctx).Eval(
			`() => document.querySelector('#section-fields')?.scrollTo(0, 1e9)`)
	}
	el, ok := s.elementNow(ctx, "#"+dropzoneID)
	if !ok {
		return fmt.Errorf("session: dropzone %s not present", dropzoneID)
	}
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("session: scroll dropzone: %w", err)
	}
	return nil
}

func (s *Session) Viewport(ctx context.Context) builder.Viewport {
	res, err := s.page.Context(ctx).Eval(`() => ({w: window.innerWidth, h: window.innerHeight})`)
	if err != nil {
		return builder.Viewport{}
	}
	return builder.Viewport{
		W: res.Value.Get("w").Num(),
		H: res.Value.Get("h").Num(),
	}
}

// ReleaseAt moves to the dropzone center offset by (dx, dy) and releases the
// held press. Points outside the actionable viewport return ErrOutOfBounds
// without releasing, so the caller can try the next rung.
func (s *Session) ReleaseAt(ctx context.Context, dropzoneID string, dx, dy float64) error {
	rect, ok := s.DropzoneRect(ctx, dropzoneID)
	if !ok {
		return fmt.Errorf("session: dropzone %s has no geometry", dropzoneID)
	}
	vp := s.Viewport(ctx)
	x := rect.X + rect.W/2 + dx
	y := rect.Y + rect.H/2 + dy
	if x < 0 || y < 0 || (vp.W > 0 && x > vp.W) || (vp.H > 0 && y > vp.H) {
		return builder.ErrOutOfBounds
	}
	if err := s.moveTo(x, y, 8); err != nil {
		return fmt.Errorf("session: move to release point: %w", err)
	}
	// Give the dropzone highlight a moment to engage before letting go.
	time.Sleep(120 * time.Millisecond)
	if err := s.page.Mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: release: %w", err)
	}
	return nil
}

// SyntheticRelease dispatches synthesized pointer/mouse events at viewport
// coordinates. The native press, if still held, is released first so the
// page is not left with a stuck button.
func (s *Session) SyntheticRelease(ctx context.Context, x, y float64) error {
	res, err := s.page.Context(ctx).Eval(jsSyntheticRelease, x, y)
	_ = s.page.Mouse.Up(proto.InputMouseButtonLeft, 1)
	if err != nil {
		return fmt.Errorf("session: synthetic release: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("session: synthetic release dispatched nothing")
	}
	return nil
}

// GrabField presses and holds the field's drag handle.
func (s *Session) GrabField(ctx context.Context, id string) error {
	el, ok := s.elementNow(ctx, fmt.Sprintf(selFieldHandle, id))
	if !ok {
		// Some kinds render without a dedicated handle; grab the wrapper.
		el, ok = s.elementNow(ctx, "#"+id)
		if !ok {
			return fmt.Errorf("session: field %s not present", id)
		}
	}
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("session: scroll to field: %w", err)
	}
	rect, ok := elementRect(el)
	if !ok {
		return fmt.Errorf("session: field %s has no geometry", id)
	}
	cx, cy := rect.X+rect.W/2, rect.Y+rect.H/2
	if err := s.moveTo(cx, cy, 4); err != nil {
		return fmt.Errorf("session: move to field: %w", err)
	}
	if err := s.page.Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: press field: %w", err)
	}
	if err := s.moveTo(cx, cy+8, 3); err != nil {
		return fmt.Errorf("session: wake sort: %w", err)
	}
	return nil
}

func (s *Session) SortActive(ctx context.Context) bool {
	return s.evalBool(ctx, jsSortActive)
}

// DropOnField moves over the target's upper or lower half and releases.
func (s *Session) DropOnField(ctx context.Context, targetID string, before bool) error {
	rect, ok := s.FieldRect(ctx, targetID)
	if !ok {
		return fmt.Errorf("session: move target %s not present", targetID)
	}
	x := rect.X + rect.W/2
	y := rect.Y + rect.H*0.75
	if before {
		y = rect.Y + rect.H*0.25
	}
	if err := s.moveTo(x, y, 10); err != nil {
		return fmt.Errorf("session: move over target: %w", err)
	}
	time.Sleep(120 * time.Millisecond)
	if err := s.page.Mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: release over target: %w", err)
	}
	return nil
}

// SyntheticMove replays a whole field move as synthesized events.
func (s *Session) SyntheticMove(ctx context.Context, id, targetID string, before bool) error {
	res, err := s.page.Context(ctx).Eval(jsSyntheticMove, id, targetID, before)
	if err != nil {
		return fmt.Errorf("session: synthetic move: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("session: synthetic move: source or target missing")
	}
	return nil
}

func (s *Session) ClearMoveResidue(ctx context.Context) {
	_, _ = s.page.Context(ctx).Eval(jsClearSortResidue)
}

func (s *Session) FieldRect(ctx context.Context, id string) (builder.Rect, bool) {
	el, ok := s.elementNow(ctx, "#"+id)
	if !ok {
		return builder.Rect{}, false
	}
	return elementRect(el)
}
