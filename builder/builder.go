// Package builder implements the create-verify-reconcile protocol for
// driving an asynchronously rendering activity canvas. Creation is a
// simulated drag gesture whose outcome is never trusted until the new field
// is re-fetched from the live surface; every acceptance is diffed against a
// registry of known IDs; recovery escalates from local retry through a
// budgeted hard resync to skip-or-abort.
//
// The builder is a single actor: one goroutine drives one surface, and all
// waiting is bounded blocking polls. Nothing here spawns goroutines.
package builder

import (
	"context"
	"log/slog"
	"time"

	"github.com/apknife1/cabldr/catalog"
)

// Builder drives one activity surface. Not safe for concurrent use.
type Builder struct {
	surf     Surface
	cfg      Config
	reg      *Registry
	bctx     *BuildContext
	counters *Counters
	log      *slog.Logger
}

func New(surf Surface, cfg Config) *Builder {
	cfg.applyDefaults()
	return &Builder{
		surf:     surf,
		cfg:      cfg,
		reg:      NewRegistry(),
		bctx:     newBuildContext(&cfg),
		counters: NewCounters(),
		log:      cfg.Logger,
	}
}

func (b *Builder) Registry() *Registry         { return b.reg }
func (b *Builder) Counters() *Counters         { return b.counters }
func (b *Builder) BuildContext() *BuildContext { return b.bctx }

// CreateField creates one field of the given kind in the selected section at
// the intended placement. It returns a confirmed handle whose ID was
// re-fetched from the live surface, or a ProtocolError describing why every
// attempt failed. At most one hard resync is spent per call.
func (b *Builder) CreateField(ctx context.Context, kind catalog.KindSpec, sel SectionSelector, intent PlacementIntent, opts CreateOptions) (*FieldHandle, error) {
	sec, err := b.EnsureSection(ctx, sel)
	if err != nil {
		return nil, err
	}
	log := b.log.With("kind", kind.Key, "section", sec.ID)

	// An "after" anchor that no longer exists degrades to bottom once, up
	// front, so every attempt shares the same effective intent.
	if intent.Place == PlaceAfter && !b.surf.HasField(ctx, intent.AnchorID) {
		log.Warn("builder: after-anchor not on surface, degrading to bottom",
			"anchor", intent.AnchorID)
		b.counters.Inc("placement.anchor_degraded")
		intent = Bottom()
	}

	usedResync := false
	var lastErr *ProtocolError
	for attempt := 1; attempt <= b.cfg.CreateAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, &ProtocolError{Class: ClassEnvironment, Stage: "create",
				Reason: "context ended", Err: ctx.Err()}
		}
		final := attempt == b.cfg.CreateAttempts
		h, perr := b.createOnce(ctx, log, kind, sec, intent, opts, &usedResync, final)
		if perr == nil {
			log.Info("builder: field confirmed",
				"field", h.ID, "index", h.Index, "attempt", attempt)
			return h, nil
		}
		lastErr = perr
		if !perr.Retryable {
			return nil, perr
		}
		log.Warn("builder: create attempt failed",
			"attempt", attempt, "class", perr.Class.String(), "reason", perr.Reason)
		b.counters.Inc("create.attempt_failed")
		if attempt < b.cfg.CreateAttempts {
			// Realign before the next cycle; a drifted canvas makes every
			// snapshot lie.
			b.surf.CancelGesture(ctx)
			b.surf.CanvasAligned(ctx, sec.ID, b.cfg.AlignWait)
		}
	}
	if lastErr == nil {
		lastErr = protoErr(ClassConfirmation, "create", "all attempts exhausted", false)
	}
	return nil, lastErr
}

// createOnce runs one full create cycle: snapshot, gesture, growth poll,
// confirmation, verification, placement.
func (b *Builder) createOnce(ctx context.Context, log *slog.Logger, kind catalog.KindSpec, sec *SectionHandle, intent PlacementIntent, opts CreateOptions, usedResync *bool, finalAttempt bool) (*FieldHandle, *ProtocolError) {
	domBefore, err := b.surf.FieldIDs(ctx)
	if err != nil {
		return nil, &ProtocolError{Class: ClassEnvironment, Stage: "snapshot",
			Reason: "canvas unreadable", Retryable: true, Err: err}
	}
	beforeSet := idSet(domBefore)
	typedBefore, _ := b.surf.FieldIDsByKind(ctx, kind)
	typedBeforeSet := idSet(typedBefore)
	knownAll := b.reg.KnownIDs(sec.ID, "")
	knownTyped := b.reg.KnownIDs(sec.ID, kind.Key)

	// Gesture phase: bounded drop attempts, each with a fresh dropzone
	// resolution because the canvas may have shifted under us.
	var drop dropResult
	effIntent := intent
	for d := 1; d <= b.cfg.DragAttempts; d++ {
		dzID, eff, rerr := b.resolveDropzone(ctx, effIntent)
		if rerr != nil {
			log.Debug("builder: dropzone resolution failed", "err", rerr)
			continue
		}
		effIntent = eff
		drop = b.performDrop(ctx, kind, dzID, effIntent)
		if drop.OK {
			if drop.Synthetic {
				log.Info("builder: drop landed via synthetic release",
					"dropzone", drop.DropzoneID)
			}
			break
		}
		log.Debug("builder: drop attempt failed",
			"dropzone", dzID, "reason", drop.Reason, "try", d)
		b.counters.Inc("gesture.drop_failed")
	}
	if !drop.OK {
		return nil, protoErr(ClassGesture, "gesture", drop.Reason, true)
	}

	// Growth poll: cheap early signal that the surface reacted at all.
	domAfter, domChanged := b.pollGrowth(ctx, len(domBefore))

	// Fast path: exactly one unknown ID appeared and survives a re-fetch.
	if domChanged {
		cands := preferTyped(ctx, b.surf, diffNew(domAfter, beforeSet, knownAll), kind)
		if len(cands) == 1 && b.surf.HasField(ctx, cands[0]) {
			return b.accept(ctx, log, cands[0], kind, sec, effIntent, opts, knownAll)
		}
	}

	// Confirmation wait: typed snapshot diff under the fast or slow deadline.
	wait := b.cfg.ConfirmSlow
	if domChanged {
		wait = b.cfg.ConfirmFast
	}
	cands := b.waitNewTyped(ctx, kind, typedBeforeSet, knownTyped, wait)
	if len(cands) == 0 {
		return b.recoverNoCandidate(ctx, log, kind, sec, effIntent, opts,
			beforeSet, typedBeforeSet, knownAll, usedResync, finalAttempt)
	}
	id := chooseByDirection(cands, effIntent.Place)
	if !b.surf.HasField(ctx, id) {
		return nil, protoErr(ClassConfirmation, "verify",
			"candidate vanished on re-fetch", true)
	}
	return b.accept(ctx, log, id, kind, sec, effIntent, opts, knownAll)
}

// recoverNoCandidate is the timeout ladder: phantom detection, whole-DOM
// delta rescue, last-element acceptance, then hard resync.
func (b *Builder) recoverNoCandidate(ctx context.Context, log *slog.Logger, kind catalog.KindSpec, sec *SectionHandle, intent PlacementIntent, opts CreateOptions, beforeSet, typedBeforeSet, knownAll map[string]struct{}, usedResync *bool, finalAttempt bool) (*FieldHandle, *ProtocolError) {
	domNow, err := b.surf.FieldIDs(ctx)
	if err != nil {
		return nil, &ProtocolError{Class: ClassEnvironment, Stage: "confirm",
			Reason: "canvas unreadable after timeout", Retryable: true, Err: err}
	}

	// Empty-section phantom: the release visibly happened but the section
	// still shows the empty placeholder and zero wrappers. The drop was
	// swallowed; a local retry on a clean canvas usually lands it. A phantom
	// that survives to the final attempt gets the hard resync instead, so a
	// wedged empty canvas is rebuilt before the field is given up on.
	if len(beforeSet) == 0 && len(domNow) == 0 && b.surf.SectionEmpty(ctx) {
		b.counters.Inc("confirm.empty_section_phantom")
		log.Warn("builder: empty-section phantom drop")
		b.surf.CancelGesture(ctx)
		if finalAttempt {
			resynced, rerr := b.hardResync(ctx, sec, "persistent empty-section phantom", usedResync)
			if rerr != nil {
				return nil, &ProtocolError{Class: ClassEnvironment, Stage: "resync",
					Reason: "resync budget exhausted", Err: rerr}
			}
			if resynced {
				return nil, protoErr(ClassConfirmation, "resync", "empty_section_phantom", true)
			}
		}
		b.surf.CanvasAligned(ctx, sec.ID, b.cfg.AlignWait)
		return nil, protoErr(ClassConfirmation, "confirm", "empty_section_phantom", true)
	}

	// Whole-DOM delta rescue: the typed selector missed but something new is
	// there. Typed candidates still win the tie-break when present.
	if cands := preferTyped(ctx, b.surf, diffNew(domNow, beforeSet, knownAll), kind); len(cands) > 0 {
		id := chooseByDirection(cands, intent.Place)
		if b.surf.HasField(ctx, id) {
			b.counters.Inc("confirm.dom_delta_rescue")
			log.Info("builder: accepting field via DOM delta", "field", id)
			return b.accept(ctx, log, id, kind, sec, intent, opts, knownAll)
		}
	}

	// Last-element acceptance: the typed population grew but every new ID
	// was filtered or re-offered. Accept the direction-appropriate element
	// once its ID holds still.
	typedNow, terr := b.surf.FieldIDsByKind(ctx, kind)
	if terr == nil && len(typedNow) > len(typedBeforeSet) {
		if id := b.stabilizeEdge(ctx, kind, intent.Place); id != "" {
			if _, known := knownAll[id]; !known && b.surf.HasField(ctx, id) {
				b.counters.Inc("confirm.last_element_accept")
				log.Info("builder: accepting stabilized edge element", "field", id)
				return b.accept(ctx, log, id, kind, sec, intent, opts, knownAll)
			}
		}
	}

	// Nothing confirmable. Escalate to a hard resync if this call still may.
	resynced, rerr := b.hardResync(ctx, sec, "confirmation timeout", usedResync)
	if rerr != nil {
		return nil, &ProtocolError{Class: ClassEnvironment, Stage: "resync",
			Reason: "resync budget exhausted", Err: rerr}
	}
	if resynced {
		return nil, protoErr(ClassConfirmation, "resync", "resynced, retrying", true)
	}
	return nil, protoErr(ClassConfirmation, "confirm", "no candidate after timeout", true)
}

// accept runs the invariant guard, registers the handle and finishes
// placement. The registry check is last-line defence: an ID the build already
// confirmed is never accepted twice, whatever the surface claims.
func (b *Builder) accept(ctx context.Context, log *slog.Logger, id string, kind catalog.KindSpec, sec *SectionHandle, intent PlacementIntent, opts CreateOptions, knownAll map[string]struct{}) (*FieldHandle, *ProtocolError) {
	if b.reg.Known(id) {
		b.counters.Inc("invariant.known_id_reoffered")
		log.Error("builder: surface re-offered a confirmed ID", "field", id)
		return nil, protoErr(ClassInvariant, "verify", "known ID re-offered", true)
	}
	if _, ok := knownAll[id]; ok {
		b.counters.Inc("invariant.known_id_reoffered")
		return nil, protoErr(ClassInvariant, "verify", "known ID re-offered", true)
	}
	h := &FieldHandle{
		ID:        id,
		SectionID: sec.ID,
		Kind:      kind.Key,
		Index:     -1,
		SeqIndex:  opts.SeqIndex,
		Title:     opts.Title,
	}
	b.finishPlacement(ctx, h, intent)
	b.reg.AddField(h)
	b.counters.Inc("builder.field_added")
	return h, nil
}

// pollGrowth watches the canvas for growth past beforeCount within the
// growth window. Returns the latest order and whether growth was observed.
func (b *Builder) pollGrowth(ctx context.Context, beforeCount int) ([]string, bool) {
	deadline := time.Now().Add(b.cfg.GrowthWait)
	var last []string
	for {
		ids, err := b.surf.FieldIDs(ctx)
		if err == nil {
			last = ids
			if len(ids) > beforeCount {
				return ids, true
			}
		}
		if time.Now().After(deadline) {
			return last, false
		}
		if !sleepCtx(ctx, b.cfg.PollInterval) {
			return last, false
		}
	}
}

// waitNewTyped polls the typed snapshot diff until a candidate appears or the
// window closes, then probes one final time past the deadline. The late probe
// catches renders that complete between the last in-window poll and the
// timeout decision.
func (b *Builder) waitNewTyped(ctx context.Context, kind catalog.KindSpec, before, known map[string]struct{}, wait time.Duration) []string {
	deadline := time.Now().Add(wait)
	for {
		ids, err := b.surf.FieldIDsByKind(ctx, kind)
		if err == nil {
			if cands := diffNew(ids, before, known); len(cands) > 0 {
				return cands
			}
		}
		if time.Now().After(deadline) {
			ids, err := b.surf.FieldIDsByKind(ctx, kind)
			if err == nil {
				if cands := diffNew(ids, before, known); len(cands) > 0 {
					b.counters.Inc("confirm.late_reprobe_hit")
					return cands
				}
			}
			return nil
		}
		if !sleepCtx(ctx, b.cfg.PollInterval) {
			return nil
		}
	}
}

// stabilizeEdge polls the direction-appropriate edge of the typed population
// until the same ID is read twice in a row or the window closes.
func (b *Builder) stabilizeEdge(ctx context.Context, kind catalog.KindSpec, place Place) string {
	deadline := time.Now().Add(b.cfg.StabilizeWait)
	last := ""
	for {
		ids, err := b.surf.FieldIDsByKind(ctx, kind)
		cur := ""
		if err == nil {
			cur = chooseByDirection(ids, place)
		}
		if cur != "" && cur == last {
			return cur
		}
		last = cur
		if time.Now().After(deadline) {
			return last
		}
		if !sleepCtx(ctx, b.cfg.PollInterval) {
			return last
		}
	}
}
