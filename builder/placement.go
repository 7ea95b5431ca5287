package builder

import "context"

// placement.go verifies where a freshly confirmed field actually landed and
// repairs the order when the surface put it somewhere else. Placement repair
// is strictly best effort: a field at the wrong index is reported, never
// un-created.

// liveIndex re-reads the canvas and returns the field's current 0-based
// index, or -1 when it cannot be found.
func (b *Builder) liveIndex(ctx context.Context, id string) int {
	ids, err := b.surf.FieldIDs(ctx)
	if err != nil {
		return -1
	}
	for i, got := range ids {
		if got == id {
			return i
		}
	}
	return -1
}

// finishPlacement checks the confirmed field against the placement intent and
// runs bounded reposition repair when it is out of place. The handle's Index
// is updated to whatever the surface finally shows. Returns false when the
// field remains misplaced after repair.
func (b *Builder) finishPlacement(ctx context.Context, h *FieldHandle, intent PlacementIntent) bool {
	if b.inPosition(ctx, h.ID, intent) {
		h.Index = b.liveIndex(ctx, h.ID)
		return true
	}
	b.counters.Inc("placement.misplaced")
	b.log.Info("builder: field landed out of place, repairing",
		"field", h.ID, "place", intent.Place.String(), "anchor", intent.AnchorID)

	ok := b.RepositionField(ctx, h.ID, intent)
	h.Index = b.liveIndex(ctx, h.ID)
	if !ok {
		b.log.Warn("builder: placement repair failed, keeping field",
			"field", h.ID, "index", h.Index)
	}
	return ok
}
