package instruction

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleYAML = `
activities:
  - code: ACT-1
    title: Workplace Safety
    type: assessment
    fields:
      - key: intro
        kind: paragraph
        section: Part A
      - key: q1
        kind: short_answer
        title: Describe the hazard
        section: Part A
      - key: q2
        kind: long_answer
        section: Part B
        placement: after
        after: q1
`

func TestLoad_YAML(t *testing.T) {
	spec, err := Load(writeFile(t, "build.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(spec.Activities) != 1 {
		t.Fatalf("activities = %d", len(spec.Activities))
	}
	a := spec.Activities[0]
	if a.Code != "ACT-1" || a.Type != "assessment" {
		t.Fatalf("activity = %+v", a)
	}
	if len(a.Fields) != 3 {
		t.Fatalf("fields = %d", len(a.Fields))
	}
	for i, f := range a.Fields {
		if f.SeqIndex != i {
			t.Errorf("field %s SeqIndex = %d, want %d", f.Key, f.SeqIndex, i)
		}
	}
	if got := a.Fields[1].Title; got != "Describe the hazard" {
		t.Errorf("q1 title = %q", got)
	}
	// Untitled field falls back to the kind's display name.
	if got := a.Fields[2].Title; got == "" {
		t.Error("q2 title not defaulted")
	}
	if a.Fields[2].Placement != "after" || a.Fields[2].AfterKey != "q1" {
		t.Errorf("q2 placement = %+v", a.Fields[2])
	}
}

func TestLoad_JSON(t *testing.T) {
	body := `{"activities":[{"code":"ACT-2","title":"Form","type":"form",
		"fields":[{"key":"sig","kind":"signature"}]}]}`
	spec, err := Load(writeFile(t, "build.json", body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	f := spec.Activities[0].Fields[0]
	if *f.Marked {
		t.Error("form fields must default to unmarked")
	}
	if !*f.Required {
		t.Error("signature must default to required")
	}
}

func TestLoad_AssessmentDefaults(t *testing.T) {
	spec, err := Load(writeFile(t, "build.yaml", sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	intro, _ := spec.Activities[0].FieldByKey("intro")
	if *intro.Marked || *intro.Required {
		t.Error("paragraph content must never be marked or required")
	}
	q1, _ := spec.Activities[0].FieldByKey("q1")
	if !*q1.Marked || !*q1.Required || !*q1.Visible {
		t.Errorf("assessment question defaults wrong: %+v", q1)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"no activities", `activities: []`, "no activities"},
		{"missing code", `
activities:
  - title: X
    fields: [{key: a, kind: paragraph}]`, "missing code"},
		{"unknown kind", `
activities:
  - code: A
    title: X
    fields: [{key: a, kind: hologram}]`, "unknown kind"},
		{"duplicate keys", `
activities:
  - code: A
    title: X
    fields:
      - {key: a, kind: paragraph}
      - {key: a, kind: paragraph}`, "field key"},
		{"after without anchor", `
activities:
  - code: A
    title: X
    fields: [{key: a, kind: paragraph, placement: after}]`, "without anchor"},
		{"forward anchor", `
activities:
  - code: A
    title: X
    fields:
      - {key: a, kind: paragraph, placement: after, after: b}
      - {key: b, kind: paragraph}`, "earlier field"},
		{"duplicate activity codes", `
activities:
  - code: A
    title: X
    fields: [{key: a, kind: paragraph}]
  - code: A
    title: Y
    fields: [{key: a, kind: paragraph}]`, "duplicate activity code"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.yaml", tc.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestSectionOrder(t *testing.T) {
	spec, err := Load(writeFile(t, "build.yaml", sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	got := spec.Activities[0].SectionOrder()
	if len(got) != 2 || got[0] != "Part A" || got[1] != "Part B" {
		t.Fatalf("SectionOrder = %v", got)
	}
}
