package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FileRegistry is a TOML catalog of skills:
//
//	[[skills]]
//	id = "pdf-tools"
//	tier = "verified"
//	repository = "acme/skills"
//	path = "skills/pdf"
type FileRegistry struct {
	path string
}

type registryFile struct {
	Skills []RegistryEntry `toml:"skills"`
}

func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

func (r *FileRegistry) load() ([]RegistryEntry, error) {
	blob, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("SRC_REGISTRY: %w", err)
	}
	var doc registryFile
	if err := toml.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("SRC_REGISTRY_PARSE: %w", err)
	}
	seen := map[string]struct{}{}
	for _, e := range doc.Skills {
		if strings.TrimSpace(e.ID) == "" {
			return nil, fmt.Errorf("SRC_REGISTRY_SCHEMA: entry missing id")
		}
		key := strings.ToLower(e.ID)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("SRC_REGISTRY_SCHEMA: duplicate id %q", e.ID)
		}
		seen[key] = struct{}{}
	}
	return doc.Skills, nil
}

// Lookup matches ids case-insensitively. A missing catalog file has no
// records.
func (r *FileRegistry) Lookup(_ context.Context, id string) (*RegistryEntry, error) {
	entries, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.ID, id) {
			out := e
			return &out, nil
		}
	}
	return nil, nil
}

func (r *FileRegistry) List(_ context.Context) ([]RegistryEntry, error) {
	entries, err := r.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// Save writes entries as the catalog, replacing its contents.
func (r *FileRegistry) Save(entries []RegistryEntry) error {
	blob, err := toml.Marshal(registryFile{Skills: entries})
	if err != nil {
		return fmt.Errorf("SRC_REGISTRY_ENCODE: %w", err)
	}
	return os.WriteFile(r.path, blob, 0o644)
}

// HTTPRegistry looks skills up at {base}/api/v1/skills/{id}, falling back to
// the legacy {base}/api/skills/{id} route on 404.
type HTTPRegistry struct {
	base string
	http httpOptions
}

func NewHTTPRegistry(baseURL string, opts ...HTTPOption) *HTTPRegistry {
	return &HTTPRegistry{base: strings.TrimRight(baseURL, "/"), http: newHTTPOptions(opts)}
}

func (r *HTTPRegistry) Lookup(ctx context.Context, id string) (*RegistryEntry, error) {
	status, body, err := r.http.get(ctx, r.base+"/api/v1/skills/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		status, body, err = r.http.get(ctx, r.base+"/api/skills/"+url.PathEscape(id))
		if err != nil {
			return nil, err
		}
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("SRC_REGISTRY: lookup %q returned status %d", id, status)
	}
	var entry RegistryEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("SRC_REGISTRY_PARSE: %w", err)
	}
	if entry.ID == "" {
		entry.ID = id
	}
	return &entry, nil
}

// NewRegistry builds the registry named by kind: "file", "http" or "none".
// "none" returns nil, which resolves no registry ids.
func NewRegistry(kind, path, baseURL string, opts ...HTTPOption) (Registry, error) {
	switch kind {
	case "", "file":
		return NewFileRegistry(path), nil
	case "http":
		if baseURL == "" {
			return nil, fmt.Errorf("SRC_REGISTRY: http registry requires a url")
		}
		return NewHTTPRegistry(baseURL, opts...), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("SRC_REGISTRY: unsupported registry kind %q", kind)
	}
}
