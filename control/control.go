// Package control runs the build: it walks the instruction spec activity by
// activity, drives the builder for every field, applies field properties,
// and sweeps retryable failures in bounded offline retry passes.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/apknife1/cabldr/builder"
	"github.com/apknife1/cabldr/catalog"
	"github.com/apknife1/cabldr/instruction"
	"github.com/apknife1/cabldr/report"
)

// Config tunes the controller.
type Config struct {
	// SkipExisting skips activities whose template title already exists.
	SkipExisting bool `yaml:"skip_existing"`
	// RetryPasses bounds the offline retry sweeps per activity. Default: 2.
	RetryPasses int `yaml:"retry_passes"`
	// MaxConsecutiveFailures aborts a retry pass after this many failures in
	// a row. Default: 5.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) applyDefaults() {
	if c.RetryPasses <= 0 {
		c.RetryPasses = 2
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// FieldCreator is the slice of builder.Builder the controller drives.
type FieldCreator interface {
	CreateField(ctx context.Context, kind catalog.KindSpec, sel builder.SectionSelector, intent builder.PlacementIntent, opts builder.CreateOptions) (*builder.FieldHandle, error)
	Registry() *builder.Registry
	Counters() *builder.Counters
	BuildContext() *builder.BuildContext
}

// ActivityOpener is the session-level navigation the controller needs.
type ActivityOpener interface {
	OpenTemplates(ctx context.Context) error
	ActivityExists(ctx context.Context, title string) (bool, error)
	CreateActivity(ctx context.Context, title, activityType string) error
}

// PropertyWriter applies an instruction's field properties to a confirmed
// field.
type PropertyWriter interface {
	ApplyProperties(ctx context.Context, fieldID string, f instruction.Field) error
}

// Controller owns one build run.
type Controller struct {
	b      FieldCreator
	opener ActivityOpener
	props  PropertyWriter
	rep    *report.Run // nil disables reporting
	cfg    Config
	log    *slog.Logger

	// keyToID maps instruction field keys to confirmed field IDs within the
	// activity currently being built.
	keyToID map[string]string
}

func New(b FieldCreator, opener ActivityOpener, props PropertyWriter, rep *report.Run, cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{
		b:      b,
		opener: opener,
		props:  props,
		rep:    rep,
		cfg:    cfg,
		log:    cfg.Logger,
	}
}

// Run builds every activity in the spec. Individual field failures are
// recorded and swept by retry passes; only terminal conditions (context end,
// exhausted fatal resync budget, activity page never opening) propagate.
func (c *Controller) Run(ctx context.Context, spec *instruction.Spec) error {
	if c.rep != nil {
		c.rep.Meta.InstructionPaths = append(c.rep.Meta.InstructionPaths, spec.SourcePath)
		c.rep.Meta.ActivitiesPlanned += len(spec.Activities)
		for i := range spec.Activities {
			c.rep.Meta.FieldsPlanned += len(spec.Activities[i].Fields)
		}
		_ = c.rep.SaveMeta()
	}

	for i := range spec.Activities {
		a := &spec.Activities[i]
		if err := c.buildActivity(ctx, a); err != nil {
			if terminal(err) {
				return fmt.Errorf("control: activity %s: %w", a.Code, err)
			}
			c.log.Error("control: activity failed", "activity", a.Code, "err", err)
			c.event("activity_failed", a.Code, "", err.Error())
			continue
		}
	}
	c.finalize()
	return nil
}

func terminal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, builder.ErrResyncBudgetExhausted)
}

func (c *Controller) buildActivity(ctx context.Context, a *instruction.Activity) error {
	log := c.log.With("activity", a.Code)
	c.keyToID = make(map[string]string, len(a.Fields))

	if c.cfg.SkipExisting {
		if err := c.opener.OpenTemplates(ctx); err != nil {
			return err
		}
		exists, err := c.opener.ActivityExists(ctx, a.Title)
		if err != nil {
			return err
		}
		if exists {
			log.Info("control: activity already exists, skipping", "title", a.Title)
			c.event("activity_skipped", a.Code, "", a.Title)
			if c.rep != nil {
				c.rep.Meta.ActivitiesSkipped++
				_ = c.rep.SaveMeta()
			}
			return nil
		}
	}

	if err := c.opener.CreateActivity(ctx, a.Title, a.Type); err != nil {
		return fmt.Errorf("open builder: %w", err)
	}
	c.event("activity_opened", a.Code, "", a.Title)

	for i := range a.Fields {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.buildField(ctx, a, &a.Fields[i]); err != nil {
			if terminal(err) {
				return err
			}
		}
	}

	c.retryFailures(ctx, a)

	if c.rep != nil {
		c.rep.Meta.ActivitiesBuilt++
		c.rep.Meta.Sections = c.b.Registry().Dump()
		_ = c.rep.SaveMeta()
	}
	log.Info("control: activity done",
		"fields", len(a.Fields), "resyncs", c.b.BuildContext().ResyncsUsed())
	return nil
}

// buildField creates and configures one field. Failures are recorded on the
// build context; only terminal errors are returned.
func (c *Controller) buildField(ctx context.Context, a *instruction.Activity, f *instruction.Field) error {
	kind, err := catalog.Lookup(f.Kind)
	if err != nil {
		// Instruction loading validates kinds; reaching this is a bug.
		return err
	}
	sel := c.sectionSelector(f)
	intent := c.placementIntent(f)

	h, err := c.b.CreateField(ctx, kind, sel, intent, builder.CreateOptions{
		SeqIndex: f.SeqIndex,
		Title:    f.Title,
	})
	if err != nil {
		rec := builder.FailureFromErr(builder.FailureRecord{
			ActivityCode: a.Code,
			Stage:        builder.StageAdd,
			Reason:       "create failed",
			Kind:         f.Kind,
			FieldKey:     f.Key,
			Title:        f.Title,
			SeqIndex:     f.SeqIndex,
			SectionTitle: f.Section,
			SectionIndex: -1,
			AnchorID:     intent.AnchorID,
			Attempts:     1,
		}, err)
		c.b.BuildContext().RecordFailure(rec)
		c.event("field_failed", a.Code, f.Key, rec.LastError)
		if c.rep != nil {
			c.rep.Meta.FieldsFailed++
			_ = c.rep.SaveMeta()
		}
		if terminal(err) {
			return err
		}
		return nil
	}

	c.keyToID[f.Key] = h.ID
	c.event("field_confirmed", a.Code, f.Key, h.ID)
	if c.rep != nil {
		c.rep.Meta.FieldsBuilt++
		_ = c.rep.SaveMeta()
	}

	c.applyProperties(ctx, a, f, h.ID)
	return nil
}

func (c *Controller) applyProperties(ctx context.Context, a *instruction.Activity, f *instruction.Field, fieldID string) {
	if c.props == nil {
		return
	}
	if err := c.props.ApplyProperties(ctx, fieldID, *f); err != nil {
		c.log.Warn("control: property write failed",
			"activity", a.Code, "field", f.Key, "err", err)
		c.b.BuildContext().RecordFailure(builder.FailureRecord{
			ActivityCode: a.Code,
			Stage:        builder.StageProperties,
			Reason:       "property write failed",
			Class:        builder.ClassEnvironment.String(),
			Retryable:    true,
			Kind:         f.Kind,
			FieldKey:     f.Key,
			Title:        f.Title,
			SeqIndex:     f.SeqIndex,
			FieldID:      fieldID,
			SectionIndex: -1,
			Attempts:     1,
			LastError:    err.Error(),
		})
		c.event("properties_failed", a.Code, f.Key, err.Error())
	}
}

// sectionSelector maps the instruction's section title onto a selector. An
// empty title means the activity's first (default) section.
func (c *Controller) sectionSelector(f *instruction.Field) builder.SectionSelector {
	sel := builder.NewSectionSelector()
	if f.Section != "" {
		sel.Title = f.Section
	} else {
		sel.Index = 0
	}
	return sel
}

// placementIntent resolves the instruction's placement. An "after" anchor
// whose field never built degrades through the registry's nearest earlier
// field, then to bottom.
func (c *Controller) placementIntent(f *instruction.Field) builder.PlacementIntent {
	switch f.Placement {
	case "top":
		return builder.Top()
	case "after":
		if id, ok := c.keyToID[f.AfterKey]; ok {
			return builder.After(id)
		}
		if h, ok := c.anchorFromRegistry(f); ok {
			return builder.After(h)
		}
		return builder.Bottom()
	default:
		return builder.Bottom()
	}
}

// anchorFromRegistry finds the nearest earlier confirmed field in the same
// section when the named anchor is gone.
func (c *Controller) anchorFromRegistry(f *instruction.Field) (string, bool) {
	for _, sec := range c.b.Registry().Sections() {
		if f.Section != "" && sec.Title != f.Section {
			continue
		}
		if id := c.b.Registry().AnchorBeforeSeq(sec.ID, f.SeqIndex); id != "" {
			return id, true
		}
	}
	return "", false
}

// retryFailures sweeps retryable add-stage failures of one activity in up to
// RetryPasses passes, stopping a pass after MaxConsecutiveFailures failures
// in a row.
func (c *Controller) retryFailures(ctx context.Context, a *instruction.Activity) {
	for pass := 1; pass <= c.cfg.RetryPasses; pass++ {
		recs := c.b.BuildContext().DrainFailures()
		var retry, keep []builder.FailureRecord
		for _, r := range recs {
			if r.ActivityCode == a.Code && r.Retryable && r.Stage == builder.StageAdd {
				retry = append(retry, r)
			} else {
				keep = append(keep, r)
			}
		}
		for _, r := range keep {
			c.b.BuildContext().RecordFailure(r)
		}
		if len(retry) == 0 {
			return
		}
		c.log.Info("control: retry pass", "activity", a.Code, "pass", pass, "records", len(retry))
		c.event("retry_pass", a.Code, "", fmt.Sprintf("pass %d: %d records", pass, len(retry)))

		consecutive := 0
		for _, r := range retry {
			if ctx.Err() != nil {
				c.b.BuildContext().RecordFailure(r)
				continue
			}
			if consecutive >= c.cfg.MaxConsecutiveFailures {
				c.b.BuildContext().RecordFailure(r)
				continue
			}
			f, ok := a.FieldByKey(r.FieldKey)
			if !ok {
				c.b.BuildContext().RecordFailure(r)
				continue
			}
			if err := c.buildField(ctx, a, f); err != nil {
				consecutive++
				continue
			}
			if _, built := c.keyToID[f.Key]; built {
				consecutive = 0
				if c.rep != nil {
					c.rep.Meta.RetryFixed++
					c.rep.Meta.FieldsFailed--
					_ = c.rep.SaveMeta()
				}
			} else {
				consecutive++
			}
		}
	}
}

// finalize dumps counters, failures and the registry into the report.
func (c *Controller) finalize() {
	failures := c.b.BuildContext().Failures()
	counters := c.b.Counters().Snapshot()
	for _, name := range c.b.Counters().Names() {
		c.log.Info("control: counter", "name", name, "value", counters[name])
	}
	if c.rep == nil {
		return
	}
	c.rep.SaveCounters(counters)
	if err := c.rep.WriteFailures(failures); err != nil {
		c.log.Warn("control: failures dump failed", "err", err)
	}
	c.rep.Meta.Counters = counters
	c.rep.Meta.Sections = c.b.Registry().Dump()
	_ = c.rep.SaveMeta()
}

func (c *Controller) event(kind, activity, fieldKey, detail string) {
	if c.rep != nil {
		c.rep.Event(kind, activity, fieldKey, detail)
	}
}
