package conflict

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"skillgate/internal/store"
)

const base = "---\nname: demo\n---\n# Demo\n\nstep one\nstep two\nstep three\n"

func TestMerge3DisjointEdits(t *testing.T) {
	local := strings.Replace(base, "step one", "step one (local note)", 1)
	upstream := strings.Replace(base, "step three", "step three, improved", 1)
	r := Merge3(base, local, upstream)
	if !r.Clean || r.Conflicts != 0 {
		t.Fatalf("expected clean merge, got %+v", r)
	}
	if !strings.Contains(r.Content, "step one (local note)") || !strings.Contains(r.Content, "step three, improved") {
		t.Fatalf("merge lost an edit:\n%s", r.Content)
	}
}

func TestMerge3OverlappingEditsConflict(t *testing.T) {
	local := strings.Replace(base, "step two", "step two by me", 1)
	upstream := strings.Replace(base, "step two", "step two by them", 1)
	r := Merge3(base, local, upstream)
	if r.Clean || r.Conflicts != 1 {
		t.Fatalf("expected one conflict, got %+v", r)
	}
	if !strings.Contains(r.Content, "<<<<<<< local") || !strings.Contains(r.Content, ">>>>>>> upstream") {
		t.Fatalf("expected conflict markers:\n%s", r.Content)
	}
}

func TestMerge3IdenticalEdits(t *testing.T) {
	edited := strings.Replace(base, "step two", "step 2", 1)
	r := Merge3(base, edited, edited)
	if !r.Clean || r.Content != edited {
		t.Fatalf("expected identical edits to collapse, got %+v", r)
	}
}

func TestMerge3OneSideUnchanged(t *testing.T) {
	upstream := base + "step four\n"
	if r := Merge3(base, base, upstream); !r.Clean || r.Content != upstream {
		t.Fatalf("expected upstream, got %+v", r)
	}
	local := base + "my addition\n"
	if r := Merge3(base, local, base); !r.Clean || r.Content != local {
		t.Fatalf("expected local, got %+v", r)
	}
}

func TestMerge3InsertionsAtSamePointConflict(t *testing.T) {
	local := base + "local tail\n"
	upstream := base + "upstream tail\n"
	if r := Merge3(base, local, upstream); r.Clean {
		t.Fatalf("expected conflict for competing appends, got %+v", r)
	}
}

func TestMerge3NeverPanicsOnOddInput(t *testing.T) {
	inputs := []string{"", "\n", "no newline", "a\r\nb\r\n", strings.Repeat("x\n", 200)}
	for _, b := range inputs {
		for _, l := range inputs {
			for _, u := range inputs {
				_ = Merge3(b, l, u)
			}
		}
	}
}

func TestDetect(t *testing.T) {
	entry := store.ManifestEntry{Name: "demo", OriginalContentHash: store.ContentHash(base)}
	if s := Detect(entry, base); s.Diverged {
		t.Fatalf("identical content must not diverge: %+v", s)
	}
	s := Detect(entry, base+"edit\n")
	if !s.Diverged || s.CurrentHash == s.ExpectedHash {
		t.Fatalf("expected divergence, got %+v", s)
	}
}

func TestDetectFileMissing(t *testing.T) {
	entry := store.ManifestEntry{Name: "demo", OriginalContentHash: store.ContentHash(base)}
	s, content, err := DetectFile(entry, filepath.Join(t.TempDir(), "SKILL.md"))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !s.Missing || s.Diverged || content != "" {
		t.Fatalf("expected missing, got %+v", s)
	}
}

func TestResolveActions(t *testing.T) {
	in := Input{
		Base:      base,
		BaseKnown: true,
		Local:     strings.Replace(base, "step one", "step one!", 1),
		Upstream:  strings.Replace(base, "step three", "step three!", 1),
	}
	if _, err := Resolve(ActionNone, in); !errors.Is(err, ErrNoAction) {
		t.Fatalf("expected ErrNoAction, got %v", err)
	}
	if _, err := Resolve(ActionCancel, in); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	r, err := Resolve(ActionOverwrite, in)
	if err != nil || !r.Backup || r.Content != in.Upstream || r.Merged {
		t.Fatalf("unexpected overwrite resolution %+v err=%v", r, err)
	}
	r, err = Resolve(ActionMerge, in)
	if err != nil || !r.Backup || !r.Merged {
		t.Fatalf("unexpected merge resolution %+v err=%v", r, err)
	}
	if !strings.Contains(r.Content, "step one!") || !strings.Contains(r.Content, "step three!") {
		t.Fatalf("merge lost edits:\n%s", r.Content)
	}
}

func TestResolveMergeFailsClosed(t *testing.T) {
	in := Input{
		Base:      base,
		BaseKnown: true,
		Local:     strings.Replace(base, "step two", "mine", 1),
		Upstream:  strings.Replace(base, "step two", "theirs", 1),
	}
	if _, err := Resolve(ActionMerge, in); !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("expected ErrUnresolvable, got %v", err)
	}
	in.BaseKnown = false
	in.Local = base + "x\n"
	if _, err := Resolve(ActionMerge, in); !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("expected ErrUnresolvable without baseline, got %v", err)
	}
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"", "overwrite", "MERGE", " cancel "} {
		if _, err := ParseAction(s); err != nil {
			t.Fatalf("ParseAction(%q): %v", s, err)
		}
	}
	if _, err := ParseAction("keep-mine"); err == nil {
		t.Fatalf("expected unknown action error")
	}
}

func TestBackupWritesTimestampedCopy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	now := time.Date(2026, 5, 6, 7, 8, 9, 123, time.UTC)
	path, err := Backup(dir, "demo", "local text", now)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if !strings.Contains(filepath.Base(path), "20260506T070809") {
		t.Fatalf("expected timestamp in name, got %s", path)
	}
	blob, err := os.ReadFile(path)
	if err != nil || string(blob) != "local text" {
		t.Fatalf("backup content %q err=%v", blob, err)
	}
	if _, err := Backup(dir, "demo", "second", now.Add(time.Second)); err != nil {
		t.Fatalf("second backup: %v", err)
	}
	list, err := ListBackups(dir, "demo")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 backups, got %v err=%v", list, err)
	}
}

func TestListBackupsMatchesOnlyOwnStamps(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	base := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	later, err := Backup(dir, "pdf", "b", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	earlier, err := Backup(dir, "pdf", "a", base)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if _, err := Backup(dir, "pdf-tools", "other skill", base); err != nil {
		t.Fatalf("backup: %v", err)
	}
	for _, stray := range []string{"pdf-notes.md", "pdf-20260506T070809.md.tmp"} {
		if err := os.WriteFile(filepath.Join(dir, stray), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	list, err := ListBackups(dir, "pdf")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0] != earlier || list[1] != later {
		t.Fatalf("expected [%s %s], got %v", earlier, later, list)
	}
	if none, err := ListBackups(filepath.Join(dir, "missing"), "pdf"); err != nil || len(none) != 0 {
		t.Fatalf("missing dir must list nothing, got %v err=%v", none, err)
	}
}
