package builder

import (
	"context"

	"github.com/apknife1/cabldr/catalog"
)

// snapshot.go implements the before/after ID diffing that turns an anonymous
// DOM mutation into a candidate field ID. Candidates are always filtered
// against the registry: an ID the build already confirmed can never be
// accepted again, no matter what the surface re-offers.

// idSet builds a membership set from an ordered ID list.
func idSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// diffNew returns the IDs present in after but absent from both before and
// known, preserving after's order.
func diffNew(after []string, before, known map[string]struct{}) []string {
	var out []string
	for _, id := range after {
		if _, ok := before[id]; ok {
			continue
		}
		if _, ok := known[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

// preferTyped partitions candidates by kind match against the live surface
// and returns the typed subset when it is non-empty, otherwise the full list.
func preferTyped(ctx context.Context, surf CanvasReader, cands []string, kind catalog.KindSpec) []string {
	var typed []string
	for _, id := range cands {
		if surf.FieldMatchesKind(ctx, id, kind) {
			typed = append(typed, id)
		}
	}
	if len(typed) > 0 {
		return typed
	}
	return cands
}

// chooseByDirection picks one candidate from a non-empty list using the
// placement direction: the last candidate in DOM order for bottom and after
// placements, the first for top.
func chooseByDirection(cands []string, place Place) string {
	if len(cands) == 0 {
		return ""
	}
	if place == PlaceTop {
		return cands[0]
	}
	return cands[len(cands)-1]
}
