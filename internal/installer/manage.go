package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"skillgate/internal/audit"
	"skillgate/internal/conflict"
	"skillgate/internal/skill"
	"skillgate/internal/store"
)

var ErrNotInstalled = errors.New("INS_NOT_INSTALLED: skill is not installed")

// Uninstall removes name from the manifest and deletes its install
// directory. The manifest entry goes first so a crash never leaves a
// recorded skill without files. Baselines no other entry references are
// pruned.
func (s *Service) Uninstall(ctx context.Context, name string) (store.ManifestEntry, error) {
	var removed store.ManifestEntry
	keep := map[string]struct{}{}
	err := s.Manifest.Update(ctx, func(m *store.Manifest) error {
		entry, ok := m.Get(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotInstalled, name)
		}
		removed = entry
		m.Remove(name)
		for _, e := range m.Entries() {
			keep[e.OriginalContentHash] = struct{}{}
		}
		return nil
	})
	if err != nil {
		s.auditUninstall(name, audit.StatusFailed, err)
		return store.ManifestEntry{}, err
	}

	dir, err := s.installDir(removed)
	if err != nil {
		s.auditUninstall(name, audit.StatusFailed, err)
		return removed, err
	}
	if err := os.RemoveAll(dir); err != nil {
		s.auditUninstall(name, audit.StatusFailed, err)
		return removed, fmt.Errorf("INS_UNINSTALL_REMOVE: %w", err)
	}
	if n, err := s.Baselines.Prune(keep); err != nil {
		s.log().Warn("baseline prune failed", "err", err)
	} else if n > 0 {
		s.log().Debug("baselines pruned", "count", n)
	}
	s.log().Info("skill uninstalled", "skill", name)
	s.auditUninstall(name, audit.StatusOK, nil)
	return removed, nil
}

func (s *Service) auditUninstall(name, status string, err error) {
	ev := audit.Event{Operation: "uninstall", Phase: "commit", Status: status, Fields: map[string]string{"skill": name}}
	if err != nil {
		ev.Message = err.Error()
	}
	_ = s.Audit.Log(ev)
}

// installDir returns the recorded install path, refusing anything outside
// the skills directory.
func (s *Service) installDir(e store.ManifestEntry) (string, error) {
	dir := e.InstallPath
	if dir == "" {
		dir = filepath.Join(s.SkillsDir, e.Name)
	}
	rel, err := filepath.Rel(filepath.Clean(s.SkillsDir), filepath.Clean(dir))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("SEC_PATH_TRAVERSAL: install path for %s is outside the skills directory", e.Name)
	}
	return dir, nil
}

// SkillState is how an installed skill's primary file compares with what
// was written at install time.
type SkillState string

const (
	StateClean    SkillState = "clean"
	StateModified SkillState = "modified"
	StateMissing  SkillState = "missing"
)

// SkillStatus reports one manifest entry and its on-disk state.
type SkillStatus struct {
	Entry   store.ManifestEntry
	State   SkillState
	Backups []string
}

// List returns the manifest entries sorted by name.
func (s *Service) List() ([]store.ManifestEntry, error) {
	m, err := s.Manifest.Load()
	if err != nil {
		return nil, err
	}
	return m.Entries(), nil
}

// Status checks every installed skill for local edits.
func (s *Service) Status(ctx context.Context) ([]SkillStatus, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make([]SkillStatus, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := SkillStatus{Entry: e, State: StateClean}
		dir, err := s.installDir(e)
		if err != nil {
			return nil, err
		}
		detected, _, err := conflict.DetectFile(e, filepath.Join(dir, skill.PrimaryFile))
		if err != nil {
			return nil, fmt.Errorf("INS_STATUS: %s: %w", e.Name, err)
		}
		switch {
		case detected.Missing:
			st.State = StateMissing
		case detected.Diverged:
			st.State = StateModified
		}
		st.Backups, err = conflict.ListBackups(store.BackupRoot(s.StateDir), e.Name)
		if err != nil {
			return nil, fmt.Errorf("INS_STATUS: %s: %w", e.Name, err)
		}
		out = append(out, st)
	}
	return out, nil
}
