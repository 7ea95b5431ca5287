package builder

import (
	"context"
	"time"
)

// reposition.go moves an already-confirmed field to its intended slot. It is
// the repair arm of placement verification: best effort, bounded, and never
// allowed to fail the create that preceded it.

// inPosition re-reads the canvas order and reports whether id already sits at
// the index the intent demands.
func (b *Builder) inPosition(ctx context.Context, id string, intent PlacementIntent) bool {
	ids, err := b.surf.FieldIDs(ctx)
	if err != nil {
		return false
	}
	want, reason := intent.expectedIndex(removeID(ids, id))
	if reason != "" {
		// No computable expectation means nothing to repair against.
		return true
	}
	for i, got := range ids {
		if got == id {
			if intent.Place == PlaceBottom {
				return i == len(ids)-1
			}
			return i == want
		}
	}
	return false
}

// moveTarget resolves the sibling to drop onto and whether to land on its
// upper half. Returns ok=false when no usable sibling exists, in which case
// the order is trivially correct.
func (b *Builder) moveTarget(ctx context.Context, id string, intent PlacementIntent) (string, bool, bool) {
	ids, err := b.surf.FieldIDs(ctx)
	if err != nil {
		return "", false, false
	}
	others := removeID(ids, id)
	if len(others) == 0 {
		return "", false, false
	}
	switch intent.Place {
	case PlaceTop:
		return others[0], true, true
	case PlaceAfter:
		for _, o := range others {
			if o == intent.AnchorID {
				return o, false, true
			}
		}
		return others[len(others)-1], false, true
	default:
		return others[len(others)-1], false, true
	}
}

// RepositionField drags an existing field until it occupies the slot the
// intent names. Native sort gestures are tried first; when the sort machinery
// never engages, the whole move is replayed as synthesized events. Sort
// residue is cleared on every failure path so a dead ghost cannot poison the
// next gesture. Returns false when the field still sits at the wrong index
// after all attempts; callers report that, they do not abort on it.
func (b *Builder) RepositionField(ctx context.Context, id string, intent PlacementIntent) bool {
	if !b.surf.HasField(ctx, id) {
		return false
	}
	if b.inPosition(ctx, id, intent) {
		return true
	}
	target, before, ok := b.moveTarget(ctx, id, intent)
	if !ok || target == id {
		return true
	}

	for attempt := 1; attempt <= b.cfg.MoveAttempts; attempt++ {
		moved := b.tryNativeMove(ctx, id, target, before)
		if !moved {
			b.counters.Inc("move.synthetic")
			if err := b.surf.SyntheticMove(ctx, id, target, before); err != nil {
				b.surf.ClearMoveResidue(ctx)
				continue
			}
		}
		if b.waitInPosition(ctx, id, intent) {
			return true
		}
		b.log.Debug("builder: move did not settle, retrying",
			"field", id, "target", target, "attempt", attempt)
		b.surf.ClearMoveResidue(ctx)
		// Target geometry may have shifted; resolve against the new order.
		if t, bf, ok := b.moveTarget(ctx, id, intent); ok {
			target, before = t, bf
		}
	}
	b.counters.Inc("move.failed")
	return false
}

// tryNativeMove grabs the field's handle and drops it on the target's half.
// Reports false when the sort machinery never entered drag mode.
func (b *Builder) tryNativeMove(ctx context.Context, id, target string, before bool) bool {
	if err := b.surf.GrabField(ctx, id); err != nil {
		b.surf.CancelGesture(ctx)
		b.surf.ClearMoveResidue(ctx)
		return false
	}
	deadline := time.Now().Add(b.cfg.DragModeWait)
	for !b.surf.SortActive(ctx) {
		if time.Now().After(deadline) || !sleepCtx(ctx, b.cfg.PollInterval) {
			b.surf.CancelGesture(ctx)
			b.surf.ClearMoveResidue(ctx)
			return false
		}
	}
	if err := b.surf.DropOnField(ctx, target, before); err != nil {
		b.surf.CancelGesture(ctx)
		b.surf.ClearMoveResidue(ctx)
		return false
	}
	return true
}

// waitInPosition polls the canvas order until the field reaches its slot or
// the confirm window closes.
func (b *Builder) waitInPosition(ctx context.Context, id string, intent PlacementIntent) bool {
	deadline := time.Now().Add(b.cfg.MoveConfirmWait)
	for {
		if b.inPosition(ctx, id, intent) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if !sleepCtx(ctx, b.cfg.PollInterval) {
			return false
		}
	}
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
