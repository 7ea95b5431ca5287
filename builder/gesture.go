package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apknife1/cabldr/catalog"
)

// gesture.go drives one drop of a palette card onto a dropzone. It owns the
// offset ladder, huge-zone geometry and the synthetic-release fallback; the
// Surface only supplies primitives.

const (
	emptyDropzoneID = "drop-zone-0"
	fieldIDPrefix   = "section-field-"

	// safeInset keeps release points off the exact dropzone edge.
	safeInset = 6.0
	// hugeZoneFraction marks a dropzone as viewport-dominating.
	hugeZoneFraction = 0.6
)

// offsetLadder is the fixed sequence of center-relative release offsets tried
// before falling back to synthetic events.
var offsetLadder = [][2]float64{
	{6, 6},
	{0, 0},
	{-6, 6},
	{6, -6},
	{-6, -6},
}

// dropResult is the typed outcome of one drop attempt.
type dropResult struct {
	OK         bool
	Reason     string
	DropzoneID string
	Offset     [2]float64
	Synthetic  bool
}

// fieldNum extracts the numeric suffix of a field wrapper ID;
// "section-field-482" yields "482".
func fieldNum(id string) string {
	return strings.TrimPrefix(id, fieldIDPrefix)
}

func topDropzoneID(fieldID string) string {
	return fmt.Sprintf("dropzone-%s--top", fieldNum(fieldID))
}

func bottomDropzoneID(fieldID string) string {
	return fmt.Sprintf("dropzone-%s--bottom", fieldNum(fieldID))
}

// resolveDropzone maps a placement intent onto a concrete dropzone element ID
// using a fresh read of the canvas order. A missing "after" anchor degrades
// the intent to bottom rather than failing the create.
func (b *Builder) resolveDropzone(ctx context.Context, intent PlacementIntent) (string, PlacementIntent, error) {
	ids, err := b.surf.FieldIDs(ctx)
	if err != nil {
		return "", intent, fmt.Errorf("builder: resolve dropzone: %w", err)
	}
	if len(ids) == 0 {
		return emptyDropzoneID, intent, nil
	}
	switch intent.Place {
	case PlaceTop:
		return topDropzoneID(ids[0]), intent, nil
	case PlaceAfter:
		for _, id := range ids {
			if id == intent.AnchorID {
				return bottomDropzoneID(id), intent, nil
			}
		}
		b.log.Warn("builder: after-anchor missing, degrading to bottom",
			"anchor", intent.AnchorID)
		b.counters.Inc("placement.anchor_degraded")
		intent = Bottom()
		fallthrough
	default:
		return bottomDropzoneID(ids[len(ids)-1]), intent, nil
	}
}

// waitDragMode polls for drag mode after a hold, nudging the pointer halfway
// through the wait to re-arm a stalled gesture.
func (b *Builder) waitDragMode(ctx context.Context) bool {
	deadline := time.Now().Add(b.cfg.DragModeWait)
	nudged := false
	for {
		if b.surf.GestureActive(ctx) {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if !nudged && remaining < b.cfg.DragModeWait/2 {
			b.surf.NudgePointer(ctx)
			nudged = true
		}
		if !sleepCtx(ctx, b.cfg.PollInterval) {
			return false
		}
	}
}

// performDrop executes one complete drop: hold, enter drag mode, walk the
// offset ladder, synthetic fallback. Every exit path cancels the gesture so a
// half-held press can never leak into the next attempt.
func (b *Builder) performDrop(ctx context.Context, kind catalog.KindSpec, dropzoneID string, intent PlacementIntent) dropResult {
	res := dropResult{DropzoneID: dropzoneID}

	if err := b.surf.ShowPalette(ctx, kind); err != nil {
		res.Reason = "palette_unavailable"
		return res
	}
	if err := b.surf.BeginHold(ctx, kind); err != nil {
		b.surf.CancelGesture(ctx)
		res.Reason = "hold_failed"
		return res
	}
	if !b.waitDragMode(ctx) {
		b.surf.CancelGesture(ctx)
		b.counters.Inc("gesture.drag_mode_timeout")
		res.Reason = "drag_mode_not_entered"
		return res
	}

	toEnd := intent.Place != PlaceTop
	if err := b.surf.ScrollDropzone(ctx, dropzoneID, toEnd); err != nil {
		b.surf.CancelGesture(ctx)
		res.Reason = "dropzone_unreachable"
		return res
	}
	rect, ok := b.surf.DropzoneRect(ctx, dropzoneID)
	if !ok {
		b.surf.CancelGesture(ctx)
		res.Reason = "dropzone_missing"
		return res
	}

	vp := b.surf.Viewport(ctx)
	sawOutOfBounds := false
	for _, off := range offsetLadder {
		// Re-validate per rung: re-render can collapse drag mode or swap the
		// dropzone out from under a stale reference.
		if !b.surf.GestureActive(ctx) {
			b.surf.CancelGesture(ctx)
			b.counters.Inc("gesture.drag_mode_collapsed")
			res.Reason = "drag_mode_collapsed"
			return res
		}
		r, ok := b.surf.DropzoneRect(ctx, dropzoneID)
		if !ok {
			b.surf.CancelGesture(ctx)
			res.Reason = "dropzone_missing"
			return res
		}
		rect = r
		if !b.surf.DropzoneActive(ctx, dropzoneID) {
			b.surf.NudgePointer(ctx)
			if !b.surf.DropzoneActive(ctx, dropzoneID) {
				b.counters.Inc("gesture.dropzone_inactive")
				continue
			}
		}

		dx, dy := b.adjustOffset(rect, vp, off, intent.Place)
		err := b.surf.ReleaseAt(ctx, dropzoneID, dx, dy)
		if err == nil {
			res.OK = true
			res.Offset = [2]float64{dx, dy}
			return res
		}
		if errors.Is(err, ErrOutOfBounds) {
			sawOutOfBounds = true
			b.counters.Inc("gesture.offset_rejected")
			continue
		}
		b.log.Debug("builder: release failed, trying next offset",
			"dropzone", dropzoneID, "dx", dx, "dy", dy, "err", err)
		b.counters.Inc("gesture.release_error")
	}

	// Synthesized events are for geometry problems only: every rung rejected
	// as out of bounds, or a dropzone so tall its center is off screen. Other
	// release failures get a fresh native attempt instead.
	hugeZone := vp.H > 0 && rect.H >= vp.H*hugeZoneFraction
	if !sawOutOfBounds && !hugeZone {
		b.surf.CancelGesture(ctx)
		res.Reason = "release_failed"
		return res
	}
	x, y := syntheticPoint(rect, vp, intent.Place)
	b.counters.Inc("gesture.synthetic_release")
	err := b.surf.SyntheticRelease(ctx, x, y)
	b.surf.CancelGesture(ctx)
	if err != nil {
		res.Reason = "release_failed"
		return res
	}
	res.OK = true
	res.Synthetic = true
	return res
}

// adjustOffset converts a ladder entry into the final center-relative offset.
// For dropzones taller than most of the viewport the vertical component is
// re-anchored to the viewport edge nearest the intended insertion point and
// clamped back inside the zone, because the zone center may be far off
// screen.
func (b *Builder) adjustOffset(rect Rect, vp Viewport, off [2]float64, place Place) (float64, float64) {
	dx, dy := off[0], off[1]
	if vp.H <= 0 || rect.H < vp.H*hugeZoneFraction {
		return dx, dy
	}
	cy := rect.Y + rect.H/2
	var targetY float64
	if place == PlaceTop {
		targetY = rect.Y + safeInset
		if targetY < safeInset {
			targetY = safeInset
		}
	} else {
		targetY = rect.Y + rect.H - safeInset
		if targetY > vp.H-safeInset {
			targetY = vp.H - safeInset
		}
		if targetY < rect.Y+safeInset {
			targetY = rect.Y + safeInset
		}
	}
	return dx, targetY - cy + dy
}

// syntheticPoint picks the absolute viewport coordinates for the synthetic
// release: the dropzone center clamped into both the viewport and the zone.
func syntheticPoint(rect Rect, vp Viewport, place Place) (float64, float64) {
	x := rect.X + rect.W/2
	var y float64
	if place == PlaceTop {
		y = rect.Y + safeInset
	} else {
		y = rect.Y + rect.H - safeInset
	}
	y = clamp(y, rect.Y+1, rect.Y+rect.H-1)
	if vp.W > 0 {
		x = clamp(x, safeInset, vp.W-safeInset)
	}
	if vp.H > 0 {
		y = clamp(y, safeInset, vp.H-safeInset)
	}
	return x, y
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
