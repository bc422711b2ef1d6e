package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"skillgate/internal/fsutil"
)

//go:embed manifest.schema.json
var manifestSchema []byte

// ManifestStore reads and writes the manifest file. Mutations from separate
// processes are serialized by the lease beside it; see Update.
type ManifestStore struct {
	path  string
	lease LeaseOptions
}

func NewManifestStore(path string, lease LeaseOptions) *ManifestStore {
	return &ManifestStore{path: path, lease: lease}
}

func (s *ManifestStore) Path() string { return s.path }

func (s *ManifestStore) LockPath() string { return LockPath(s.path) }

// Load reads the manifest. A missing file yields an empty manifest.
func (s *ManifestStore) Load() (Manifest, error) {
	blob, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return Manifest{}, fmt.Errorf("DOC_MANIFEST_READ: %w", err)
	}
	return ParseManifest(blob)
}

// ParseManifest decodes and schema-checks manifest bytes.
func ParseManifest(blob []byte) (Manifest, error) {
	if err := ValidateManifestSchema(blob); err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(blob, &m); err != nil {
		return Manifest{}, fmt.Errorf("DOC_MANIFEST_PARSE: %w", err)
	}
	if m.Version != ManifestVersion {
		return Manifest{}, fmt.Errorf("DOC_MANIFEST_VERSION: unsupported manifest version %d", m.Version)
	}
	if m.InstalledSkills == nil {
		m.InstalledSkills = map[string]ManifestEntry{}
	}
	for key, e := range m.InstalledSkills {
		if e.Name != key {
			return Manifest{}, fmt.Errorf("DOC_MANIFEST_SCHEMA: entry %q has mismatched name %q", key, e.Name)
		}
	}
	return m, nil
}

// ValidateManifestSchema checks raw manifest JSON against the embedded schema.
func ValidateManifestSchema(blob []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(manifestSchema),
		gojsonschema.NewBytesLoader(blob),
	)
	if err != nil {
		return fmt.Errorf("DOC_MANIFEST_PARSE: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("DOC_MANIFEST_SCHEMA: %s", strings.Join(msgs, "; "))
}

// Save writes the manifest with temp-file plus rename, so readers never
// observe a partial document.
func (s *ManifestStore) Save(m Manifest) error {
	m.Version = ManifestVersion
	if m.InstalledSkills == nil {
		m.InstalledSkills = map[string]ManifestEntry{}
	}
	blob, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("DOC_MANIFEST_ENCODE: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("DOC_MANIFEST_WRITE: %w", err)
	}
	if err := fsutil.AtomicWrite(s.path, append(blob, '\n'), 0o644); err != nil {
		return fmt.Errorf("DOC_MANIFEST_WRITE: %w", err)
	}
	return nil
}

// Update runs a read-modify-write of the manifest while holding the lease.
// The lease is released before Update returns, on every path. If fn returns
// an error nothing is written.
func (s *ManifestStore) Update(ctx context.Context, fn func(*Manifest) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("DOC_MANIFEST_WRITE: %w", err)
	}
	lease, err := AcquireLease(ctx, s.LockPath(), s.lease)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lease.Release(); rerr != nil && !errors.Is(rerr, ErrLeaseLost) {
			err = errors.Join(err, rerr)
		}
	}()

	m, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(&m); err != nil {
		return err
	}
	return s.Save(m)
}
