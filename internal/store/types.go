package store

import (
	"sort"
	"time"
)

const ManifestVersion = 1

// ManifestEntry records one installed skill. Name is the local uniqueness
// key; ID is the identifier the skill was resolved from.
type ManifestEntry struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Version             string    `json:"version"`
	Source              string    `json:"source"`
	InstallPath         string    `json:"installPath"`
	InstalledAt         time.Time `json:"installedAt"`
	LastUpdated         time.Time `json:"lastUpdated"`
	OriginalContentHash string    `json:"originalContentHash"`
}

type Manifest struct {
	Version         int                      `json:"version"`
	InstalledSkills map[string]ManifestEntry `json:"installedSkills"`
}

func NewManifest() Manifest {
	return Manifest{Version: ManifestVersion, InstalledSkills: map[string]ManifestEntry{}}
}

func (m Manifest) Get(name string) (ManifestEntry, bool) {
	e, ok := m.InstalledSkills[name]
	return e, ok
}

// Upsert stores entry under its name. An existing entry keeps its original
// InstalledAt.
func (m *Manifest) Upsert(entry ManifestEntry) {
	if m.InstalledSkills == nil {
		m.InstalledSkills = map[string]ManifestEntry{}
	}
	if prev, ok := m.InstalledSkills[entry.Name]; ok && !prev.InstalledAt.IsZero() {
		entry.InstalledAt = prev.InstalledAt
	}
	m.InstalledSkills[entry.Name] = entry
}

func (m *Manifest) Remove(name string) bool {
	if _, ok := m.InstalledSkills[name]; !ok {
		return false
	}
	delete(m.InstalledSkills, name)
	return true
}

// Entries returns all entries sorted by name.
func (m Manifest) Entries() []ManifestEntry {
	out := make([]ManifestEntry, 0, len(m.InstalledSkills))
	for _, e := range m.InstalledSkills {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
