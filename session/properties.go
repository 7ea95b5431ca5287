package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/apknife1/cabldr/instruction"
)

// properties.go applies an instruction's requested field properties through
// the field settings panel. This is the light configure pass: title text and
// the visibility/marking/required toggles. Deep per-type configuration is out
// of scope.

const (
	selSettingsPanel = `.designer__settings`
	selSettingsTitle = `.designer__settings input[name="field[label]"]`
)

// jsSetToggle flips a named settings checkbox to the wanted state. Returns
// false when the toggle is not present for this field type.
const jsSetToggle = `(name, want) => {
	const box = document.querySelector(
		'.designer__settings input[type="checkbox"][name="field[' + name + ']"]');
	if (!box) return false;
	if (box.checked !== want) box.click();
	return true;
}`

// ApplyProperties opens the field's settings panel and writes the requested
// title and toggles. Toggles missing for the field type are skipped silently;
// anything else that fails is an error so the caller can record a
// "properties" failure.
func (s *Session) ApplyProperties(ctx context.Context, fieldID string, f instruction.Field) error {
	field, ok := s.elementNow(ctx, "#"+fieldID)
	if !ok {
		return fmt.Errorf("session: field %s not present for configure", fieldID)
	}
	if err := field.ScrollIntoView(); err != nil {
		return fmt.Errorf("session: scroll to field: %w", err)
	}
	if err := field.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: select field: %w", err)
	}

	panelCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.page.Context(panelCtx).Element(selSettingsPanel); err != nil {
		return fmt.Errorf("session: settings panel for %s: %w", fieldID, err)
	}

	if f.Title != "" {
		title, ok := s.elementNow(ctx, selSettingsTitle)
		if ok {
			if err := title.SelectAllText(); err == nil {
				_ = title.Input("")
			}
			if err := title.Input(f.Title); err != nil {
				return fmt.Errorf("session: set field title: %w", err)
			}
		}
	}

	toggles := []struct {
		name string
		want *bool
	}{
		{"required", f.Required},
		{"visible", f.Visible},
		{"marked", f.Marked},
	}
	for _, tg := range toggles {
		if tg.want == nil {
			continue
		}
		if !s.evalBool(ctx, jsSetToggle, tg.name, *tg.want) {
			s.log.Debug("session: toggle not present for field type",
				"field", fieldID, "toggle", tg.name)
		}
	}

	// Settings autosave on blur; click back onto the canvas to commit.
	if canvas, ok := s.elementNow(ctx, `#section-fields`); ok {
		_ = canvas.Click(proto.InputMouseButtonLeft, 1)
	}
	return nil
}
