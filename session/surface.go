package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/apknife1/cabldr/builder"
	"github.com/apknife1/cabldr/catalog"
)

// surface.go implements builder.CanvasReader and builder.SectionNavigator
// over the live page.

var _ builder.Surface = (*Session)(nil)

// jsSections lists the sidebar sections with their identity and active state.
const jsSections = `() => Array.from(
	document.querySelectorAll('.designer__sidebar .designer__section-item')
).map((el, i) => ({
	id: el.dataset.sectionId || '',
	title: (el.querySelector('.designer__section-item-title')?.textContent || '').trim(),
	index: i,
	active: el.classList.contains('designer__section-item--active'),
}))`

func (s *Session) FieldIDs(ctx context.Context) ([]string, error) {
	ids, err := s.evalStrings(ctx, jsFieldIDs)
	if err != nil {
		return nil, fmt.Errorf("session: read field ids: %w", err)
	}
	return ids, nil
}

func (s *Session) FieldIDsByKind(ctx context.Context, kind catalog.KindSpec) ([]string, error) {
	ids, err := s.evalStrings(ctx, jsFieldIDsBySelector, kind.CanvasSelector)
	if err != nil {
		return nil, fmt.Errorf("session: read %s ids: %w", kind.Key, err)
	}
	return ids, nil
}

func (s *Session) HasField(ctx context.Context, id string) bool {
	return s.evalBool(ctx, jsHasField, id)
}

func (s *Session) FieldMatchesKind(ctx context.Context, id string, kind catalog.KindSpec) bool {
	classes, err := s.FieldClasses(ctx, id)
	if err != nil {
		return false
	}
	for _, c := range classes {
		if c == kind.WrapperClass {
			return true
		}
	}
	return false
}

func (s *Session) FieldClasses(ctx context.Context, id string) ([]string, error) {
	return s.evalStrings(ctx, jsFieldClasses, id)
}

func (s *Session) SectionEmpty(ctx context.Context) bool {
	return s.evalBool(ctx, jsSectionEmpty)
}

type sectionRow struct {
	handle builder.SectionHandle
	active bool
}

func (s *Session) readSections(ctx context.Context) ([]sectionRow, error) {
	res, err := s.page.Context(ctx).Eval(jsSections)
	if err != nil {
		return nil, fmt.Errorf("session: read sections: %w", err)
	}
	arr := res.Value.Arr()
	out := make([]sectionRow, 0, len(arr))
	for _, v := range arr {
		out = append(out, sectionRow{
			handle: builder.SectionHandle{
				ID:    v.Get("id").Str(),
				Title: v.Get("title").Str(),
				Index: v.Get("index").Int(),
			},
			active: v.Get("active").Bool(),
		})
	}
	return out, nil
}

func (s *Session) ActiveSection(ctx context.Context) (*builder.SectionHandle, error) {
	rows, err := s.readSections(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.active {
			h := r.handle
			return &h, nil
		}
	}
	return nil, fmt.Errorf("session: no active section")
}

func (s *Session) ListSections(ctx context.Context) ([]builder.SectionHandle, error) {
	rows, err := s.readSections(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]builder.SectionHandle, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.handle)
	}
	return out, nil
}

// clickSection clicks the sidebar item at the given list index.
func (s *Session) clickSection(ctx context.Context, idx int) error {
	els, err := s.page.Context(ctx).Elements(selSidebarSection)
	if err != nil {
		return fmt.Errorf("session: find sidebar sections: %w", err)
	}
	if idx < 0 || idx >= len(els) {
		return fmt.Errorf("session: sidebar index %d out of range", idx)
	}
	if err := els[idx].ScrollIntoView(); err != nil {
		return fmt.Errorf("session: scroll to section: %w", err)
	}
	if err := els[idx].Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: click section: %w", err)
	}
	return nil
}

func (s *Session) SelectByID(ctx context.Context, id string) (*builder.SectionHandle, error) {
	rows, err := s.readSections(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.handle.ID == id {
			if err := s.clickSection(ctx, r.handle.Index); err != nil {
				return nil, err
			}
			h := r.handle
			return &h, nil
		}
	}
	return nil, fmt.Errorf("session: no section with id %s", id)
}

func (s *Session) SelectByIndex(ctx context.Context, idx int) (*builder.SectionHandle, error) {
	rows, err := s.readSections(ctx)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(rows) {
		return nil, fmt.Errorf("session: no section at index %d", idx)
	}
	if err := s.clickSection(ctx, idx); err != nil {
		return nil, err
	}
	h := rows[idx].handle
	return &h, nil
}

func (s *Session) SelectByTitle(ctx context.Context, title string) (*builder.SectionHandle, error) {
	want := strings.Join(strings.Fields(title), " ")
	rows, err := s.readSections(ctx)
	if err != nil {
		return nil, err
	}
	matchIdx := -1
	for _, r := range rows {
		if strings.Join(strings.Fields(r.handle.Title), " ") == want {
			if matchIdx >= 0 {
				return nil, fmt.Errorf("session: section title %q is ambiguous", title)
			}
			matchIdx = r.handle.Index
		}
	}
	if matchIdx < 0 {
		return nil, fmt.Errorf("session: no section titled %q", title)
	}
	if err := s.clickSection(ctx, matchIdx); err != nil {
		return nil, err
	}
	h := rows[matchIdx].handle
	return &h, nil
}

// CreateSection clicks the add-section control, renames the new section and
// returns its handle once the sidebar shows it.
func (s *Session) CreateSection(ctx context.Context, title string) (*builder.SectionHandle, error) {
	before, err := s.readSections(ctx)
	if err != nil {
		return nil, err
	}
	addCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	add, err := s.page.Context(addCtx).Element(selAddSection)
	if err != nil {
		return nil, fmt.Errorf("session: add-section control: %w", err)
	}
	if err := add.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("session: click add section: %w", err)
	}
	rename, err := s.page.Context(addCtx).Element(selSectionRename)
	if err != nil {
		return nil, fmt.Errorf("session: section rename input: %w", err)
	}
	if err := rename.SelectAllText(); err == nil {
		_ = rename.Input("")
	}
	if err := rename.Input(title); err != nil {
		return nil, fmt.Errorf("session: type section title: %w", err)
	}
	if err := s.page.Keyboard.Press(input.Enter); err != nil {
		return nil, fmt.Errorf("session: confirm section title: %w", err)
	}

	// Wait for the sidebar to grow.
	deadline := time.Now().Add(10 * time.Second)
	for {
		rows, err := s.readSections(ctx)
		if err == nil && len(rows) > len(before) {
			h := rows[len(rows)-1].handle
			s.log.Info("session: section created", "id", h.ID, "title", title)
			return &h, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("session: new section never appeared in sidebar")
		}
		if err := ctxSleep(ctx, 150*time.Millisecond); err != nil {
			return nil, err
		}
	}
}

// CanvasAligned polls the canvas render target until it names the section.
func (s *Session) CanvasAligned(ctx context.Context, sectionID string, wait time.Duration) bool {
	needle := "/sections/" + sectionID
	deadline := time.Now().Add(wait)
	for {
		res, err := s.page.Context(ctx).Eval(jsCanvasTarget)
		if err == nil && strings.Contains(res.Value.Str(), needle) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if err := ctxSleep(ctx, 80*time.Millisecond); err != nil {
			return false
		}
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
