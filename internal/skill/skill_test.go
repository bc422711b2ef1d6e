package skill

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

const valid = "---\nname: pdf-tools\ndescription: Extract text and tables from PDF files\nversion: 1.2\nfiles:\n  - scripts/extract.py\n  - ../escape.sh\n  - README.md\n---\n# PDF Tools\n\nUse this skill to read PDFs.\n"

func TestValidate(t *testing.T) {
	doc, err := Validate(valid)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if doc.Meta.Name != "pdf-tools" || doc.Version != "1.2.0" {
		t.Fatalf("unexpected doc %+v", doc)
	}
	if !strings.HasPrefix(doc.Body, "# PDF Tools") {
		t.Fatalf("unexpected body %q", doc.Body)
	}
}

func TestValidateDefaultsVersion(t *testing.T) {
	doc, err := Validate(strings.Replace(valid, "version: 1.2\n", "", 1))
	if err != nil || doc.Version != DefaultVersion {
		t.Fatalf("expected default version, got %q err=%v", doc.Version, err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"too short":       "---\nname: x\n---\n",
		"no front-matter": "# Title\n\n" + strings.Repeat("text ", 20),
		"unterminated":    "---\nname: x\ndescription: y\n" + strings.Repeat("text ", 20),
		"missing name":    "---\ndescription: something useful here\n---\n" + strings.Repeat("body ", 10),
		"missing desc":    "---\nname: thing\n---\n" + strings.Repeat("body ", 20),
		"bad version":     "---\nname: thing\ndescription: d\nversion: banana\n---\n" + strings.Repeat("body ", 10),
		"bad yaml":        "---\nname: [unclosed\ndescription: d\n---\n" + strings.Repeat("body ", 10),
	}
	for name, content := range cases {
		if _, err := Validate(content); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestCompanions(t *testing.T) {
	doc, err := Validate(valid)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	got := doc.Companions()
	if len(got) != 2 || got[0] != CompanionFile || got[1] != "scripts/extract.py" {
		t.Fatalf("unexpected companions %v", got)
	}
}

func TestCompanionsDropsNestedAndCaseDuplicates(t *testing.T) {
	doc := Document{Meta: Metadata{Files: []string{"notes", "notes/extra.md", "Notes", "readme.md", "skill.md", "docs/a.md", "docs"}}}
	got := doc.Companions()
	want := []string{CompanionFile, "notes", "docs/a.md"}
	if len(got) != len(want) {
		t.Fatalf("companions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("companions = %v, want %v", got, want)
		}
	}
}

func TestCompanionsCappedAtMax(t *testing.T) {
	var files []string
	for i := 0; i < MaxCompanions+5; i++ {
		files = append(files, fmt.Sprintf("ref/%02d.md", i))
	}
	got := Document{Meta: Metadata{Files: files}}.Companions()
	if len(got) != MaxCompanions {
		t.Fatalf("expected %d companions including the README, got %d", MaxCompanions, len(got))
	}
	if got[len(got)-1] != fmt.Sprintf("ref/%02d.md", MaxCompanions-2) {
		t.Fatalf("unexpected last companion %q", got[len(got)-1])
	}
}

func TestNormalizeVersion(t *testing.T) {
	cases := map[string]string{"": "0.0.0", "1": "1.0.0", "v2.3": "2.3.0", "1.2.3-beta.1": "1.2.3-beta.1"}
	for in, want := range cases {
		got, err := NormalizeVersion(in)
		if err != nil || got != want {
			t.Fatalf("NormalizeVersion(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}
