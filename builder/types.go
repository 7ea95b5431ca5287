package builder

// SectionHandle is a stable reference to a section in the Activity Builder
// sidebar. The ID is assigned by the remote application.
type SectionHandle struct {
	ID    string
	Title string
	Index int // position in the sections list, -1 when unknown
}

// FieldHandle is a stable reference to a field inside a section. Identity is
// the (ID, SectionID) pair; the ID is unknown until the remote surface has
// rendered the created field.
type FieldHandle struct {
	ID        string
	SectionID string
	Kind      string // catalog kind key, e.g. "short_answer"
	Index     int    // 0-based index in the section at confirmation time, -1 when unknown
	SeqIndex  int    // position in the instruction sequence, -1 when unknown
	Title     string
}

// SectionSelector identifies a section by exactly one of ID, Index or Title.
// Title matching is exact after whitespace normalisation; an ambiguous
// multi-match is a failure, never a guess.
type SectionSelector struct {
	ID    string
	Index int // -1 when unset
	Title string
}

// NewSectionSelector returns a selector with Index unset.
func NewSectionSelector() SectionSelector {
	return SectionSelector{Index: -1}
}

// Place names where a new field should land among its siblings.
type Place int

const (
	PlaceBottom Place = iota
	PlaceTop
	PlaceAfter
)

func (p Place) String() string {
	switch p {
	case PlaceTop:
		return "top"
	case PlaceBottom:
		return "bottom"
	case PlaceAfter:
		return "after"
	}
	return "unknown"
}

// PlacementIntent is the caller's position request. PlaceAfter with a missing
// or unresolvable anchor degrades to PlaceBottom.
type PlacementIntent struct {
	Place    Place
	AnchorID string // only for PlaceAfter
}

// Top, Bottom and After are the three placement constructors.
func Top() PlacementIntent    { return PlacementIntent{Place: PlaceTop} }
func Bottom() PlacementIntent { return PlacementIntent{Place: PlaceBottom} }
func After(anchorID string) PlacementIntent {
	return PlacementIntent{Place: PlaceAfter, AnchorID: anchorID}
}

// expectedIndex returns the index the field should occupy under this intent
// given the live order, plus a reason string when the expectation cannot be
// computed.
func (p PlacementIntent) expectedIndex(ids []string) (int, string) {
	switch p.Place {
	case PlaceTop:
		return 0, ""
	case PlaceBottom:
		return len(ids) - 1, ""
	case PlaceAfter:
		if p.AnchorID == "" {
			return -1, "after requested but anchor missing"
		}
		for i, id := range ids {
			if id == p.AnchorID {
				return i + 1, ""
			}
		}
		return -1, "anchor not in live order"
	}
	return -1, "unknown placement"
}

// CreateOptions carries per-field bookkeeping that is not part of the
// placement decision.
type CreateOptions struct {
	SeqIndex int    // instruction sequence index, -1 when unknown
	Title    string // requested title, recorded on the handle only
}

// Rect is a fresh viewport-relative bounding box read from the live surface.
type Rect struct {
	X, Y, W, H float64
}

// Viewport is the actionable window size.
type Viewport struct {
	W, H float64
}
