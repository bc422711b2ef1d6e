package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func sampleEntry(name string) ManifestEntry {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return ManifestEntry{
		ID:                  "owner/repo/" + name,
		Name:                name,
		Version:             "1.0.0",
		Source:              "https://github.com/owner/repo",
		InstallPath:         "/skills/" + name,
		InstalledAt:         now,
		LastUpdated:         now,
		OriginalContentHash: ContentHash("content of " + name),
	}
}

func newTestStore(t *testing.T) *ManifestStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skills", ".skillgate-manifest.json")
	return NewManifestStore(path, fastLease())
}

func TestLoadMissingManifestIsEmpty(t *testing.T) {
	m, err := newTestStore(t).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Version != ManifestVersion || len(m.InstalledSkills) != 0 {
		t.Fatalf("unexpected manifest %+v", m)
	}
}

func TestSaveLoadManifest(t *testing.T) {
	s := newTestStore(t)
	m := NewManifest()
	m.Upsert(sampleEntry("alpha"))
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := s.Save(m); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	e, ok := got.Get("alpha")
	want := sampleEntry("alpha")
	if !ok || e.ID != want.ID || e.OriginalContentHash != want.OriginalContentHash || !e.InstalledAt.Equal(want.InstalledAt) {
		t.Fatalf("unexpected entry %+v", e)
	}
	blob, _ := os.ReadFile(s.Path())
	if !strings.Contains(string(blob), `"installedSkills"`) || !strings.Contains(string(blob), `"originalContentHash"`) {
		t.Fatalf("unexpected manifest encoding: %s", blob)
	}
}

func TestLoadManifestRejectsSchemaViolation(t *testing.T) {
	s := newTestStore(t)
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(s.Path(), []byte(`{"version":1,"installedSkills":{"a":{"name":"a"}}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.Load(); err == nil || !strings.Contains(err.Error(), "DOC_MANIFEST_SCHEMA") {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestLoadManifestRejectsMismatchedKey(t *testing.T) {
	e := sampleEntry("alpha")
	blob := fmt.Sprintf(`{"version":1,"installedSkills":{"beta":{"id":%q,"name":"alpha","installPath":"/x","originalContentHash":%q}}}`, e.ID, e.OriginalContentHash)
	if _, err := ParseManifest([]byte(blob)); err == nil {
		t.Fatalf("expected mismatched key to fail")
	}
}

func TestUpsertKeepsInstalledAt(t *testing.T) {
	m := NewManifest()
	first := sampleEntry("alpha")
	m.Upsert(first)
	second := sampleEntry("alpha")
	second.InstalledAt = first.InstalledAt.Add(time.Hour)
	second.LastUpdated = second.InstalledAt
	second.Version = "2.0.0"
	m.Upsert(second)
	got, _ := m.Get("alpha")
	if !got.InstalledAt.Equal(first.InstalledAt) || got.Version != "2.0.0" {
		t.Fatalf("unexpected upsert result %+v", got)
	}
	if len(m.Entries()) != 1 {
		t.Fatalf("expected a single entry")
	}
}

func TestUpdateCommitsAndReleasesLock(t *testing.T) {
	s := newTestStore(t)
	err := s.Update(context.Background(), func(m *Manifest) error {
		if _, err := os.Stat(s.LockPath()); err != nil {
			t.Fatalf("expected lock held during update: %v", err)
		}
		m.Upsert(sampleEntry("alpha"))
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := os.Stat(s.LockPath()); !os.IsNotExist(err) {
		t.Fatalf("expected lock released, stat err=%v", err)
	}
	m, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := m.Get("alpha"); !ok {
		t.Fatalf("expected alpha to be committed")
	}
}

func TestUpdateErrorLeavesManifestUnchanged(t *testing.T) {
	s := newTestStore(t)
	if err := s.Update(context.Background(), func(m *Manifest) error {
		m.Upsert(sampleEntry("alpha"))
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	boom := errors.New("boom")
	err := s.Update(context.Background(), func(m *Manifest) error {
		m.Remove("alpha")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, statErr := os.Stat(s.LockPath()); !os.IsNotExist(statErr) {
		t.Fatalf("expected lock released after error")
	}
	m, _ := s.Load()
	if _, ok := m.Get("alpha"); !ok {
		t.Fatalf("manifest must be unchanged after failed update")
	}
}

func TestUpdateTimesOutWhenLockHeld(t *testing.T) {
	s := newTestStore(t)
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	held, err := AcquireLease(context.Background(), s.LockPath(), fastLease())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	opts := fastLease()
	opts.WaitTimeout = 60 * time.Millisecond
	blocked := NewManifestStore(s.Path(), opts)
	called := false
	err = blocked.Update(context.Background(), func(m *Manifest) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrLeaseTimeout) {
		t.Fatalf("expected ErrLeaseTimeout, got %v", err)
	}
	if called {
		t.Fatalf("update fn must not run without the lock")
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s := newTestStore(t)
	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store := NewManifestStore(s.Path(), fastLease())
			errs <- store.Update(context.Background(), func(m *Manifest) error {
				m.Upsert(sampleEntry(fmt.Sprintf("skill-%02d", i)))
				return nil
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	m, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.InstalledSkills) != n {
		t.Fatalf("expected %d entries, got %d", n, len(m.InstalledSkills))
	}
}
