package source

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Identifier is a parsed install argument: either a registry id or a direct
// repository locator.
type Identifier struct {
	Raw        string
	RegistryID string
	Locator    *Locator
	Constraint string
}

func (id Identifier) IsDirect() bool { return id.Locator != nil }

// ParseIdentifier accepts a repository URL, owner/repo[/path][@branch], or a
// bare registry id[@branch].
func ParseIdentifier(raw string) (Identifier, error) {
	in := strings.TrimSpace(raw)
	if in == "" {
		return Identifier{}, fmt.Errorf("%w: empty identifier", ErrInvalidIdentifier)
	}
	if strings.HasPrefix(in, "http://") || strings.HasPrefix(in, "https://") {
		loc, err := parseURL(in)
		if err != nil {
			return Identifier{}, err
		}
		return Identifier{Raw: in, Locator: &loc, Constraint: loc.Branch}, nil
	}

	left, constraint, _ := strings.Cut(in, "@")
	constraint = strings.TrimSpace(constraint)
	if !strings.Contains(left, "/") {
		if !validSegment(left) {
			return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
		}
		return Identifier{Raw: in, RegistryID: left, Constraint: constraint}, nil
	}

	parts := strings.Split(strings.Trim(left, "/"), "/")
	if len(parts) < 2 {
		return Identifier{}, fmt.Errorf("%w: expected owner/repo[/path][@branch], got %q", ErrInvalidIdentifier, raw)
	}
	for _, p := range parts {
		if !validSegment(p) {
			return Identifier{}, fmt.Errorf("%w: bad path segment in %q", ErrInvalidIdentifier, raw)
		}
	}
	loc := Locator{
		Owner:  parts[0],
		Repo:   strings.TrimSuffix(parts[1], ".git"),
		Branch: constraint,
		Path:   stripTrailingFile(strings.Join(parts[2:], "/")),
	}
	return Identifier{Raw: in, Locator: &loc, Constraint: constraint}, nil
}

func parseURL(raw string) (Locator, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Locator{}, fmt.Errorf("%w: URL must have at least owner/repo: %q", ErrInvalidIdentifier, raw)
	}
	for _, p := range parts {
		if p == ".." {
			return Locator{}, fmt.Errorf("%w: bad path segment in %q", ErrInvalidIdentifier, raw)
		}
	}
	loc := Locator{Owner: parts[0], Repo: strings.TrimSuffix(parts[1], ".git")}
	rest := parts[2:]
	// GitLab-style /-/tree/<branch>/...
	if len(rest) > 0 && rest[0] == "-" {
		rest = rest[1:]
	}
	if len(rest) >= 2 && (rest[0] == "tree" || rest[0] == "blob") {
		loc.Branch = rest[1]
		loc.Path = stripTrailingFile(strings.Join(rest[2:], "/"))
	}
	return loc, nil
}

// stripTrailingFile removes a trailing file name (containing ".") from a skill path.
func stripTrailingFile(skillPath string) string {
	if skillPath == "" {
		return ""
	}
	base := path.Base(skillPath)
	if strings.Contains(base, ".") {
		skillPath = path.Dir(skillPath)
		if skillPath == "." {
			return ""
		}
	}
	return skillPath
}

func validSegment(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `\ `)
}

// NormalizeName lowercases name and maps anything outside [a-z0-9._-] to
// '-', so the result is safe as a single directory name.
func NormalizeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" || out == "." || out == ".." {
		return ""
	}
	return out
}
