// Package instruction reads build instruction files. An instruction file
// names one or more activities, each with an ordered list of fields grouped
// into sections. Files are YAML or JSON; validation happens entirely at load
// time so the build loop never meets a malformed instruction.
package instruction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/apknife1/cabldr/catalog"
)

// Spec is the root of an instruction file.
type Spec struct {
	Activities []Activity `yaml:"activities" json:"activities"`

	// SourcePath is set by Load; not part of the file format.
	SourcePath string `yaml:"-" json:"-"`
}

// Activity describes one activity to build.
type Activity struct {
	Code   string  `yaml:"code" json:"code"`
	Title  string  `yaml:"title" json:"title"`
	Type   string  `yaml:"type" json:"type"` // "assessment" or "form"
	Fields []Field `yaml:"fields" json:"fields"`
}

// Field describes one field to create. SeqIndex is assigned by Load in file
// order and is the anchor currency for "after" placements.
type Field struct {
	Key       string         `yaml:"key" json:"key"`
	Kind      string         `yaml:"kind" json:"kind"`
	Title     string         `yaml:"title" json:"title"`
	Section   string         `yaml:"section" json:"section"`
	Placement string         `yaml:"placement" json:"placement"` // "", "top", "bottom", "after"
	AfterKey  string         `yaml:"after" json:"after"`
	Required  *bool          `yaml:"required" json:"required"`
	Visible   *bool          `yaml:"visible" json:"visible"`
	Marked    *bool          `yaml:"marked" json:"marked"`
	Props     map[string]any `yaml:"props" json:"props"`

	SeqIndex int `yaml:"-" json:"-"`
}

// Load reads, parses and validates an instruction file. The decoder is picked
// by extension: .json uses encoding/json, everything else YAML.
func Load(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("instruction: read %s: %w", path, err)
	}
	var spec Spec
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, fmt.Errorf("instruction: parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(raw, &spec); err != nil {
			return nil, fmt.Errorf("instruction: parse %s: %w", path, err)
		}
	}
	spec.SourcePath = path
	if err := spec.normalize(); err != nil {
		return nil, fmt.Errorf("instruction: %s: %w", path, err)
	}
	return &spec, nil
}

func (s *Spec) normalize() error {
	if len(s.Activities) == 0 {
		return fmt.Errorf("no activities")
	}
	codes := make(map[string]struct{}, len(s.Activities))
	for ai := range s.Activities {
		a := &s.Activities[ai]
		a.Code = strings.TrimSpace(a.Code)
		a.Title = strings.TrimSpace(a.Title)
		if a.Code == "" {
			return fmt.Errorf("activity %d: missing code", ai)
		}
		if a.Title == "" {
			return fmt.Errorf("activity %s: missing title", a.Code)
		}
		if _, dup := codes[a.Code]; dup {
			return fmt.Errorf("duplicate activity code %s", a.Code)
		}
		codes[a.Code] = struct{}{}
		if a.Type == "" {
			a.Type = "assessment"
		}
		if a.Type != "assessment" && a.Type != "form" {
			return fmt.Errorf("activity %s: unknown type %q", a.Code, a.Type)
		}
		if len(a.Fields) == 0 {
			return fmt.Errorf("activity %s: no fields", a.Code)
		}
		keys := make(map[string]int, len(a.Fields))
		for fi := range a.Fields {
			f := &a.Fields[fi]
			f.SeqIndex = fi
			if f.Key == "" {
				f.Key = fmt.Sprintf("f%02d", fi)
			}
			if prev, dup := keys[f.Key]; dup {
				return fmt.Errorf("activity %s: field key %q at %d and %d", a.Code, f.Key, prev, fi)
			}
			keys[f.Key] = fi
			spec, err := catalog.Lookup(f.Kind)
			if err != nil {
				return fmt.Errorf("activity %s: field %s: unknown kind %q", a.Code, f.Key, f.Kind)
			}
			if f.Title == "" {
				f.Title = spec.DisplayName
			}
			f.Section = strings.TrimSpace(f.Section)
			switch f.Placement {
			case "", "bottom":
				f.Placement = "bottom"
			case "top":
				if f.AfterKey != "" {
					return fmt.Errorf("activity %s: field %s: top placement with after anchor", a.Code, f.Key)
				}
			case "after":
				if f.AfterKey == "" {
					return fmt.Errorf("activity %s: field %s: after placement without anchor", a.Code, f.Key)
				}
				anchor, ok := keys[f.AfterKey]
				if !ok || anchor >= fi {
					return fmt.Errorf("activity %s: field %s: anchor %q must name an earlier field", a.Code, f.Key, f.AfterKey)
				}
			default:
				return fmt.Errorf("activity %s: field %s: unknown placement %q", a.Code, f.Key, f.Placement)
			}
			applyDefaults(a.Type, f)
		}
	}
	return nil
}

// applyDefaults fills the tri-state flags from the activity type. Assessments
// mark and require answerable fields; forms collect without marking. Static
// content is never marked or required regardless of type.
func applyDefaults(activityType string, f *Field) {
	static := f.Kind == "paragraph"
	if f.Visible == nil {
		f.Visible = boolPtr(true)
	}
	if f.Marked == nil {
		f.Marked = boolPtr(activityType == "assessment" && !static)
	}
	if f.Required == nil {
		f.Required = boolPtr(!static)
	}
	if static {
		f.Marked = boolPtr(false)
		f.Required = boolPtr(false)
	}
}

func boolPtr(b bool) *bool { return &b }

// SectionOrder returns the distinct section titles of an activity in first
// appearance order. An empty title means the activity's default section.
func (a *Activity) SectionOrder() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range a.Fields {
		if _, ok := seen[f.Section]; ok {
			continue
		}
		seen[f.Section] = struct{}{}
		out = append(out, f.Section)
	}
	return out
}

// FieldByKey returns the field with the given key.
func (a *Activity) FieldByKey(key string) (*Field, bool) {
	for i := range a.Fields {
		if a.Fields[i].Key == key {
			return &a.Fields[i], true
		}
	}
	return nil, false
}
