package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("SRC_NOT_FOUND: remote file not found")
	ErrNotInstallable    = errors.New("SRC_NOT_INSTALLABLE: registry entry has no source location")
	ErrUnknownSkill      = errors.New("SRC_UNKNOWN_SKILL: no registry record for identifier")
	ErrInvalidIdentifier = errors.New("SRC_REF_PARSE: invalid skill identifier")
)

// Locator addresses a skill directory inside a remote repository.
type Locator struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Slug is owner/repo[/path], without the branch.
func (l Locator) Slug() string {
	s := l.Owner + "/" + l.Repo
	if l.Path != "" {
		s += "/" + l.Path
	}
	return s
}

func (l Locator) String() string {
	if l.Branch == "" {
		return l.Slug()
	}
	return l.Slug() + "@" + l.Branch
}

// WebURL is the browsable location recorded as a manifest entry's source.
func (l Locator) WebURL() string {
	u := fmt.Sprintf("https://github.com/%s/%s", l.Owner, l.Repo)
	if l.Branch == "" && l.Path == "" {
		return u
	}
	branch := l.Branch
	if branch == "" {
		branch = "HEAD"
	}
	u += "/tree/" + branch
	if l.Path != "" {
		u += "/" + l.Path
	}
	return u
}

// RegistryEntry is one skill record in a registry. An entry without a
// repository is metadata-only and cannot be installed.
type RegistryEntry struct {
	ID          string `toml:"id" json:"id"`
	Name        string `toml:"name" json:"name"`
	Description string `toml:"description,omitempty" json:"description,omitempty"`
	Version     string `toml:"version,omitempty" json:"version,omitempty"`
	Tier        string `toml:"tier,omitempty" json:"trustTier,omitempty"`
	Repository  string `toml:"repository,omitempty" json:"repository,omitempty"`
	Branch      string `toml:"branch,omitempty" json:"branch,omitempty"`
	Path        string `toml:"path,omitempty" json:"path,omitempty"`
}

// Locator returns where the entry's content lives, if it says.
func (e RegistryEntry) Locator() (Locator, bool) {
	owner, repo, ok := strings.Cut(strings.Trim(e.Repository, "/"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return Locator{}, false
	}
	return Locator{
		Owner:  owner,
		Repo:   strings.TrimSuffix(repo, ".git"),
		Branch: e.Branch,
		Path:   strings.Trim(e.Path, "/"),
	}, true
}

// Fetcher retrieves one file from a remote skill directory. It returns an
// error wrapping ErrNotFound when the file does not exist.
type Fetcher interface {
	Fetch(ctx context.Context, loc Locator, file string) (string, error)
}

// Registry maps registry identifiers to entries. Lookup returns a nil entry
// and nil error when there is no record.
type Registry interface {
	Lookup(ctx context.Context, id string) (*RegistryEntry, error)
}

// Lister is implemented by registries that can enumerate their entries.
type Lister interface {
	List(ctx context.Context) ([]RegistryEntry, error)
}
