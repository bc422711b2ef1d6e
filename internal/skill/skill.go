// Package skill parses and validates SKILL.md documents.
package skill

import (
	"bufio"
	"errors"
	"fmt"
	"path"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

const (
	PrimaryFile    = "SKILL.md"
	CompanionFile  = "README.md"
	DefaultVersion = "0.0.0"

	// MinContentLength rejects stubs too short to carry instructions.
	MinContentLength = 50

	// MaxCompanions bounds the files a skill may declare.
	MaxCompanions = 16
)

var ErrInvalid = errors.New("SKILL_INVALID")

// Metadata is the YAML front-matter of a SKILL.md.
type Metadata struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Version      string         `yaml:"version,omitempty"`
	License      string         `yaml:"license,omitempty"`
	AllowedTools []string       `yaml:"allowed-tools,omitempty"`
	Files        []string       `yaml:"files,omitempty"`
	Extra        map[string]any `yaml:"metadata,omitempty"`
}

// Document is a parsed SKILL.md.
type Document struct {
	Meta    Metadata
	Body    string
	Version string
}

// Companions returns the optional files to fetch alongside the primary:
// the README plus any relative paths declared under files.
func (d Document) Companions() []string {
	out := []string{CompanionFile}
	seen := map[string]struct{}{strings.ToLower(CompanionFile): {}, strings.ToLower(PrimaryFile): {}}
	for _, f := range d.Meta.Files {
		if len(out) >= MaxCompanions {
			break
		}
		clean := path.Clean(strings.TrimSpace(f))
		if clean == "." || strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
			continue
		}
		key := strings.ToLower(clean)
		if _, dup := seen[key]; dup || nestsWith(key, seen) {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, clean)
	}
	return out
}

// nestsWith reports whether key is a directory of, or lies inside, a name
// already taken. Both cannot exist on disk at once.
func nestsWith(key string, seen map[string]struct{}) bool {
	for other := range seen {
		if strings.HasPrefix(key, other+"/") || strings.HasPrefix(other, key+"/") {
			return true
		}
	}
	return false
}

// Parse splits front-matter from body without checking required fields.
func Parse(content string) (Document, error) {
	fm, body, ok := splitFrontMatter(content)
	if !ok {
		return Document{}, fmt.Errorf("%w: missing YAML front-matter", ErrInvalid)
	}
	var meta Metadata
	if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
		return Document{}, fmt.Errorf("%w: front-matter: %v", ErrInvalid, err)
	}
	return Document{Meta: meta, Body: body}, nil
}

// Validate parses content and enforces the structural rules for install:
// front-matter with name and description, a minimum length, and a valid
// version if one is given.
func Validate(content string) (Document, error) {
	if len(strings.TrimSpace(content)) < MinContentLength {
		return Document{}, fmt.Errorf("%w: content shorter than %d bytes", ErrInvalid, MinContentLength)
	}
	doc, err := Parse(content)
	if err != nil {
		return Document{}, err
	}
	if strings.TrimSpace(doc.Meta.Name) == "" {
		return Document{}, fmt.Errorf("%w: front-matter is missing name", ErrInvalid)
	}
	if strings.TrimSpace(doc.Meta.Description) == "" {
		return Document{}, fmt.Errorf("%w: front-matter is missing description", ErrInvalid)
	}
	v, err := NormalizeVersion(doc.Meta.Version)
	if err != nil {
		return Document{}, err
	}
	doc.Version = v
	return doc, nil
}

// NormalizeVersion canonicalizes a semantic version without the leading
// "v". An empty version becomes DefaultVersion.
func NormalizeVersion(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultVersion, nil
	}
	sv := v
	if !strings.HasPrefix(sv, "v") {
		sv = "v" + sv
	}
	if !semver.IsValid(sv) {
		return "", fmt.Errorf("%w: invalid version %q", ErrInvalid, v)
	}
	return strings.TrimPrefix(semver.Canonical(sv), "v"), nil
}

// splitFrontMatter returns the YAML between leading --- delimiters.
func splitFrontMatter(content string) (string, string, bool) {
	trimmed := strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return "", content, false
	}
	nl := strings.IndexByte(trimmed, '\n')
	if nl < 0 {
		return "", content, false
	}
	rest := trimmed[nl+1:]
	sc := bufio.NewScanner(strings.NewReader(rest))
	sc.Buffer(make([]byte, 64*1024), len(rest)+1)
	pos := 0
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "---" {
			body := rest[min(len(rest), pos+len(line)+1):]
			return rest[:pos], body, true
		}
		pos += len(line) + 1
	}
	return "", content, false
}
