package builder

import (
	"context"
	"fmt"
	"strings"

	"github.com/apknife1/cabldr/catalog"
)

// recovery.go holds the per-build recovery state and the two escalation
// rungs above a local retry: hard resync (reload and realign, budgeted per
// build) and registry rebuild from the live surface.

// BuildContext tracks recovery spend and accumulated failures for one build.
// A build is one pass over one activity's instructions; budgets never carry
// across builds.
type BuildContext struct {
	resyncBudget int
	resyncsUsed  int
	fatal        bool
	failures     []FailureRecord
}

func newBuildContext(cfg *Config) *BuildContext {
	return NewBuildContext(cfg.ResyncBudget, cfg.FatalOnResyncExhausted)
}

// NewBuildContext constructs a standalone build context, for components that
// track failures without a full Builder.
func NewBuildContext(resyncBudget int, fatalOnExhausted bool) *BuildContext {
	return &BuildContext{
		resyncBudget: resyncBudget,
		fatal:        fatalOnExhausted,
	}
}

func (bc *BuildContext) ResyncsUsed() int { return bc.resyncsUsed }

func (bc *BuildContext) budgetLeft() bool { return bc.resyncsUsed < bc.resyncBudget }

// RecordFailure appends a failure to the build's ledger.
func (bc *BuildContext) RecordFailure(rec FailureRecord) {
	bc.failures = append(bc.failures, rec)
}

// Failures returns the accumulated failure records.
func (bc *BuildContext) Failures() []FailureRecord {
	out := make([]FailureRecord, len(bc.failures))
	copy(out, bc.failures)
	return out
}

// DrainFailures returns and clears the accumulated records, for feeding a
// retry pass.
func (bc *BuildContext) DrainFailures() []FailureRecord {
	out := bc.failures
	bc.failures = nil
	return out
}

// hardResync reloads the page, re-selects the working section and waits for
// canvas alignment. At most one resync is spent per create call and at most
// ResyncBudget per build. Returns whether a resync ran and left the canvas
// aligned; the error is non-nil only when the exhausted budget is configured
// to be fatal.
func (b *Builder) hardResync(ctx context.Context, sec *SectionHandle, reason string, usedThisCall *bool) (bool, error) {
	if *usedThisCall {
		return false, nil
	}
	if !b.bctx.budgetLeft() {
		b.log.Warn("builder: hard resync budget exhausted",
			"used", b.bctx.resyncsUsed, "reason", reason)
		if b.bctx.fatal {
			return false, ErrResyncBudgetExhausted
		}
		return false, nil
	}
	b.bctx.resyncsUsed++
	*usedThisCall = true
	b.counters.Inc("recovery.hard_resync")
	b.log.Warn("builder: hard resync",
		"section", sec.ID, "reason", reason,
		"used", b.bctx.resyncsUsed, "budget", b.bctx.resyncBudget)

	if err := b.surf.Reload(ctx); err != nil {
		b.log.Error("builder: reload failed during resync", "err", err)
		return false, nil
	}
	h, err := b.surf.SelectByID(ctx, sec.ID)
	if err != nil && sec.Title != "" {
		h, err = b.surf.SelectByTitle(ctx, sec.Title)
	}
	if err != nil && sec.Index >= 0 {
		h, err = b.surf.SelectByIndex(ctx, sec.Index)
	}
	if err != nil {
		b.log.Error("builder: section lost after resync", "section", sec.ID, "err", err)
		return false, nil
	}
	if h != nil {
		*sec = *h
		b.reg.AddSection(*h)
	}
	return b.surf.CanvasAligned(ctx, sec.ID, 2*b.cfg.AlignWait), nil
}

func selMatches(sel SectionSelector, h *SectionHandle) bool {
	if h == nil {
		return false
	}
	if sel.ID != "" {
		return sel.ID == h.ID
	}
	if sel.Title != "" {
		return normTitle(sel.Title) == normTitle(h.Title)
	}
	if sel.Index >= 0 {
		return sel.Index == h.Index
	}
	return false
}

func normTitle(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// EnsureSection makes the selected section active with an aligned canvas,
// creating it when a titled selector matches nothing. The fast path accepts
// the already-active section without touching the sidebar.
func (b *Builder) EnsureSection(ctx context.Context, sel SectionSelector) (*SectionHandle, error) {
	if active, err := b.surf.ActiveSection(ctx); err == nil && selMatches(sel, active) {
		if b.surf.CanvasAligned(ctx, active.ID, b.cfg.PollInterval) {
			b.reg.AddSection(*active)
			return active, nil
		}
	}

	var (
		h   *SectionHandle
		err error
	)
	switch {
	case sel.ID != "":
		h, err = b.surf.SelectByID(ctx, sel.ID)
	case sel.Title != "":
		h, err = b.surf.SelectByTitle(ctx, sel.Title)
		if err != nil || h == nil {
			b.log.Info("builder: section not found, creating", "title", sel.Title)
			h, err = b.surf.CreateSection(ctx, sel.Title)
		}
	case sel.Index >= 0:
		h, err = b.surf.SelectByIndex(ctx, sel.Index)
	default:
		return nil, protoErr(ClassEnvironment, "align", "empty section selector", false)
	}
	if err != nil {
		return nil, &ProtocolError{Class: ClassEnvironment, Stage: "align",
			Reason: "section selection failed", Retryable: true, Err: err}
	}
	if h == nil {
		return nil, protoErr(ClassEnvironment, "align", "section selection returned nothing", true)
	}

	if !b.surf.CanvasAligned(ctx, h.ID, b.cfg.AlignWait) {
		// One reselect before giving up; turbo frames occasionally swallow
		// the first click.
		if reh, rerr := b.surf.SelectByID(ctx, h.ID); rerr == nil && reh != nil {
			h = reh
		}
		if !b.surf.CanvasAligned(ctx, h.ID, b.cfg.AlignWait) {
			return nil, protoErr(ClassEnvironment, "align",
				fmt.Sprintf("canvas never aligned with section %s", h.ID), true)
		}
	}
	b.reg.AddSection(*h)
	return h, nil
}

// RebuildRegistry discards the ledger and reconstructs it from the live
// surface by walking every section and classifying each field wrapper by its
// marker class. Sequence indexes are unknowable after a rebuild and are left
// unset.
func (b *Builder) RebuildRegistry(ctx context.Context) error {
	sections, err := b.surf.ListSections(ctx)
	if err != nil {
		return fmt.Errorf("builder: rebuild registry: %w", err)
	}
	b.reg.Reset()
	for i := range sections {
		sec := sections[i]
		h, err := b.surf.SelectByID(ctx, sec.ID)
		if err != nil {
			return fmt.Errorf("builder: rebuild registry: select %s: %w", sec.ID, err)
		}
		if h != nil {
			sec = *h
		}
		if !b.surf.CanvasAligned(ctx, sec.ID, b.cfg.AlignWait) {
			return protoErr(ClassEnvironment, "align",
				fmt.Sprintf("canvas never aligned with section %s during rebuild", sec.ID), false)
		}
		b.reg.AddSection(sec)
		ids, err := b.surf.FieldIDs(ctx)
		if err != nil {
			return fmt.Errorf("builder: rebuild registry: read %s: %w", sec.ID, err)
		}
		for idx, id := range ids {
			kind := ""
			if classes, err := b.surf.FieldClasses(ctx, id); err == nil {
				if spec, ok := catalog.ByWrapperClass(classes); ok {
					kind = spec.Key
				}
			}
			b.reg.AddField(&FieldHandle{
				ID:        id,
				SectionID: sec.ID,
				Kind:      kind,
				Index:     idx,
				SeqIndex:  -1,
			})
		}
	}
	b.log.Info("builder: registry rebuilt",
		"sections", len(sections), "fields", b.reg.FieldCount())
	return nil
}
