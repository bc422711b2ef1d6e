package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"skillgate/internal/security"
	"skillgate/internal/skill"
	"skillgate/internal/source"
)

// Descriptor is a directory that has the shape of a skill.
type Descriptor struct {
	Name      string
	RootPath  string
	SkillFile string
}

// ValidateSkillDir checks that path holds a regular SKILL.md and derives
// the skill's local name from the directory name.
func ValidateSkillDir(path string) (Descriptor, error) {
	clean := filepath.Clean(path)
	skillFile := filepath.Join(clean, skill.PrimaryFile)
	info, err := os.Lstat(skillFile)
	if err != nil {
		if os.IsNotExist(err) {
			return Descriptor{}, fmt.Errorf("INGEST_SKILL_SHAPE: missing %s", skill.PrimaryFile)
		}
		return Descriptor{}, err
	}
	if info.IsDir() {
		return Descriptor{}, fmt.Errorf("INGEST_SKILL_SHAPE: %s is a directory", skill.PrimaryFile)
	}
	if err := security.ValidateNoSymlinkPath(clean, skillFile); err != nil {
		return Descriptor{}, fmt.Errorf("INGEST_SKILL_SHAPE: %w", err)
	}
	name := source.NormalizeName(filepath.Base(clean))
	if strings.TrimSpace(name) == "" {
		return Descriptor{}, fmt.Errorf("INGEST_SKILL_SHAPE: invalid skill directory name")
	}
	return Descriptor{Name: name, RootPath: clean, SkillFile: skillFile}, nil
}

// ReadSkill loads and validates the SKILL.md named by d.
func ReadSkill(d Descriptor) (string, skill.Document, error) {
	blob, err := os.ReadFile(d.SkillFile)
	if err != nil {
		return "", skill.Document{}, fmt.Errorf("INGEST_READ: %w", err)
	}
	content := string(blob)
	doc, err := skill.Validate(content)
	if err != nil {
		return content, skill.Document{}, err
	}
	return content, doc, nil
}
