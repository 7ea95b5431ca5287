// Package catalog defines the closed set of field kinds the builder can
// create on the Activity Builder canvas. Each kind carries its own locator
// data: the palette card it is dragged from, the canvas wrapper class its
// rendered form carries, and the sidebar tab that hosts the card.
//
// The set is resolved once at startup; nothing string-matches kind names at
// call time.
package catalog

import (
	"fmt"
	"sort"
)

// Group labels where a kind lives in the palette.
const (
	GroupQuestion = "question"
	GroupContent  = "content"
	GroupOther    = "other"
)

// KindSpec describes one creatable field kind.
type KindSpec struct {
	Key            string // internal key, e.g. "short_answer"
	DisplayName    string // human label for logging
	Group          string // question | content | other
	SidebarTab     string // palette tab label, e.g. "Marked manually"
	CardDataType   string // data-type attribute on the palette card
	CanvasSelector string // CSS selector for rendered fields of this kind
	WrapperClass   string // modifier class on the field wrapper, for kind inference
	NeedsSection   bool   // must be placed inside a section
}

var kinds = map[string]KindSpec{
	"paragraph": {
		Key:            "paragraph",
		DisplayName:    "Paragraph",
		Group:          GroupContent,
		SidebarTab:     "Text",
		CardDataType:   "text",
		CanvasSelector: "#section-fields .designer__field.designer__field--text",
		WrapperClass:   "designer__field--text",
	},
	"long_answer": {
		Key:            "long_answer",
		DisplayName:    "Long answer",
		Group:          GroupQuestion,
		SidebarTab:     "Marked manually",
		CardDataType:   "text_area",
		CanvasSelector: "#section-fields .designer__field.designer__field--text_area",
		WrapperClass:   "designer__field--text_area",
		NeedsSection:   true,
	},
	"short_answer": {
		Key:            "short_answer",
		DisplayName:    "Short answer",
		Group:          GroupQuestion,
		SidebarTab:     "Marked manually",
		CardDataType:   "text_field",
		CanvasSelector: "#section-fields .designer__field.designer__field--text_field",
		WrapperClass:   "designer__field--text_field",
		NeedsSection:   true,
	},
	"file_upload": {
		Key:            "file_upload",
		DisplayName:    "File upload",
		Group:          GroupQuestion,
		SidebarTab:     "Marked manually",
		CardDataType:   "upload",
		CanvasSelector: "#section-fields .designer__field.designer__field--upload",
		WrapperClass:   "designer__field--upload",
		NeedsSection:   true,
	},
	"interactive_table": {
		Key:            "interactive_table",
		DisplayName:    "Table",
		Group:          GroupContent,
		SidebarTab:     "Interactive",
		CardDataType:   "table",
		CanvasSelector: "#section-fields .designer__field.designer__field--table",
		WrapperClass:   "designer__field--table",
		NeedsSection:   true,
	},
	"signature": {
		Key:            "signature",
		DisplayName:    "Signature pad",
		Group:          GroupOther,
		SidebarTab:     "Confirmation",
		CardDataType:   "signature",
		CanvasSelector: "#section-fields .designer__field.designer__field--signature",
		WrapperClass:   "designer__field--signature",
		NeedsSection:   true,
	},
	"date_field": {
		Key:            "date_field",
		DisplayName:    "Date picker",
		Group:          GroupOther,
		SidebarTab:     "Confirmation",
		CardDataType:   "date_field",
		CanvasSelector: "#section-fields .designer__field.designer__field--date_field",
		WrapperClass:   "designer__field--date_field",
		NeedsSection:   true,
	},
	"single_choice": {
		Key:            "single_choice",
		DisplayName:    "Single choice",
		Group:          GroupQuestion,
		SidebarTab:     "Auto marked",
		CardDataType:   "single_choice",
		CanvasSelector: "#section-fields .designer__field.designer__field--question",
		WrapperClass:   "designer__field--question",
		NeedsSection:   true,
	},
}

// Lookup resolves a kind by key.
func Lookup(key string) (KindSpec, error) {
	k, ok := kinds[key]
	if !ok {
		return KindSpec{}, fmt.Errorf("catalog: unknown field kind %q", key)
	}
	return k, nil
}

// MustLookup is Lookup for keys known at compile time (tests, defaults).
func MustLookup(key string) KindSpec {
	k, err := Lookup(key)
	if err != nil {
		panic(err)
	}
	return k
}

// Keys returns all kind keys in sorted order.
func Keys() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ByWrapperClass finds the kind whose wrapper modifier class appears in the
// given class list. Used when rebuilding the registry from a live canvas.
func ByWrapperClass(classes []string) (KindSpec, bool) {
	set := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}
	for _, spec := range kinds {
		if _, ok := set[spec.WrapperClass]; ok {
			return spec, true
		}
	}
	return KindSpec{}, false
}
