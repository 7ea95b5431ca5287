package builder

// Registry is the in-memory ledger of every section and field this build has
// confirmed. Snapshot diffing consults it to filter out IDs the surface
// re-offers after a partial render, and placement anchors resolve through it.
//
// The builder is single actor by design, but the registry still belongs to
// one goroutine at a time; it is not internally locked.
type Registry struct {
	sections map[string]*sectionRecord
	fields   map[string]*FieldHandle
	order    []string // section IDs in registration order
}

type sectionRecord struct {
	handle SectionHandle
	fields []*FieldHandle // registration order == canvas order at confirm time
}

func NewRegistry() *Registry {
	return &Registry{
		sections: make(map[string]*sectionRecord),
		fields:   make(map[string]*FieldHandle),
	}
}

// AddSection registers or updates a section handle.
func (r *Registry) AddSection(h SectionHandle) {
	if rec, ok := r.sections[h.ID]; ok {
		rec.handle = h
		return
	}
	r.sections[h.ID] = &sectionRecord{handle: h}
	r.order = append(r.order, h.ID)
}

// Section returns a registered section handle by ID.
func (r *Registry) Section(id string) (SectionHandle, bool) {
	rec, ok := r.sections[id]
	if !ok {
		return SectionHandle{}, false
	}
	return rec.handle, true
}

// SectionByTitle returns the first registered section with the given title.
func (r *Registry) SectionByTitle(title string) (SectionHandle, bool) {
	for _, id := range r.order {
		if r.sections[id].handle.Title == title {
			return r.sections[id].handle, true
		}
	}
	return SectionHandle{}, false
}

// Sections returns all section handles in registration order.
func (r *Registry) Sections() []SectionHandle {
	out := make([]SectionHandle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sections[id].handle)
	}
	return out
}

// AddField registers a confirmed field. The section is created implicitly if
// the surface confirmed a field before its section was registered.
func (r *Registry) AddField(h *FieldHandle) {
	if h == nil || h.ID == "" {
		return
	}
	if _, ok := r.fields[h.ID]; ok {
		r.fields[h.ID] = h
		rec := r.sections[h.SectionID]
		if rec != nil {
			for i, f := range rec.fields {
				if f.ID == h.ID {
					rec.fields[i] = h
				}
			}
		}
		return
	}
	r.fields[h.ID] = h
	rec, ok := r.sections[h.SectionID]
	if !ok {
		r.AddSection(SectionHandle{ID: h.SectionID, Index: -1})
		rec = r.sections[h.SectionID]
	}
	rec.fields = append(rec.fields, h)
}

// Field returns a registered field handle by ID.
func (r *Registry) Field(id string) (*FieldHandle, bool) {
	h, ok := r.fields[id]
	return h, ok
}

// Known reports whether the ID belongs to an already-confirmed field.
func (r *Registry) Known(id string) bool {
	_, ok := r.fields[id]
	return ok
}

// FieldsForSection returns the registered fields of a section in registration
// order.
func (r *Registry) FieldsForSection(sectionID string) []*FieldHandle {
	rec, ok := r.sections[sectionID]
	if !ok {
		return nil
	}
	out := make([]*FieldHandle, len(rec.fields))
	copy(out, rec.fields)
	return out
}

// KnownIDs returns the set of confirmed field IDs in a section, optionally
// restricted to one kind. An empty kind means all kinds.
func (r *Registry) KnownIDs(sectionID, kind string) map[string]struct{} {
	rec, ok := r.sections[sectionID]
	if !ok {
		return map[string]struct{}{}
	}
	out := make(map[string]struct{}, len(rec.fields))
	for _, f := range rec.fields {
		if kind == "" || f.Kind == kind {
			out[f.ID] = struct{}{}
		}
	}
	return out
}

// AnchorBeforeSeq resolves the ID of the last registered field in a section
// whose sequence index precedes seq. Used to re-derive "after" anchors when
// an instruction's explicit anchor failed to build.
func (r *Registry) AnchorBeforeSeq(sectionID string, seq int) string {
	rec, ok := r.sections[sectionID]
	if !ok || seq < 0 {
		return ""
	}
	best := ""
	bestSeq := -1
	for _, f := range rec.fields {
		if f.SeqIndex >= 0 && f.SeqIndex < seq && f.SeqIndex > bestSeq {
			best = f.ID
			bestSeq = f.SeqIndex
		}
	}
	return best
}

// RemoveField drops a field from the ledger.
func (r *Registry) RemoveField(id string) {
	h, ok := r.fields[id]
	if !ok {
		return
	}
	delete(r.fields, id)
	if rec, ok := r.sections[h.SectionID]; ok {
		for i, f := range rec.fields {
			if f.ID == id {
				rec.fields = append(rec.fields[:i], rec.fields[i+1:]...)
				break
			}
		}
	}
}

// Reset clears every record. Used before a rebuild from the live surface.
func (r *Registry) Reset() {
	r.sections = make(map[string]*sectionRecord)
	r.fields = make(map[string]*FieldHandle)
	r.order = nil
}

// FieldCount returns the number of confirmed fields across all sections.
func (r *Registry) FieldCount() int { return len(r.fields) }

// Dump returns a serializable view of the ledger for run reports.
func (r *Registry) Dump() []SectionDump {
	out := make([]SectionDump, 0, len(r.order))
	for _, id := range r.order {
		rec := r.sections[id]
		sd := SectionDump{
			ID:    rec.handle.ID,
			Title: rec.handle.Title,
			Index: rec.handle.Index,
		}
		for _, f := range rec.fields {
			sd.Fields = append(sd.Fields, FieldDump{
				ID:       f.ID,
				Kind:     f.Kind,
				Index:    f.Index,
				SeqIndex: f.SeqIndex,
				Title:    f.Title,
			})
		}
		out = append(out, sd)
	}
	return out
}

// SectionDump and FieldDump are the JSON shapes of the registry in run
// reports.
type SectionDump struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Index  int         `json:"index"`
	Fields []FieldDump `json:"fields,omitempty"`
}

type FieldDump struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Index    int    `json:"index"`
	SeqIndex int    `json:"seq_index"`
	Title    string `json:"title,omitempty"`
}
