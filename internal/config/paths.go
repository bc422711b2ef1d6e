package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "skillgate", "config.toml")
}

func DefaultStateDir() string {
	return filepath.Join(xdg.StateHome, "skillgate")
}

func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

// Paths is the resolved on-disk layout for one configuration.
type Paths struct {
	SkillsDir    string
	StateDir     string
	ManifestPath string
	RegistryPath string
	Quarantine   string
}

func ResolvePaths(cfg Config) (Paths, error) {
	skills, err := expandClean(cfg.Storage.SkillsDir)
	if err != nil {
		return Paths{}, err
	}
	state, err := expandClean(cfg.Storage.StateDir)
	if err != nil {
		return Paths{}, err
	}
	p := Paths{
		SkillsDir:    skills,
		StateDir:     state,
		ManifestPath: filepath.Join(skills, ".skillgate-manifest.json"),
		RegistryPath: filepath.Join(state, "registry.toml"),
		Quarantine:   filepath.Join(state, "quarantine.db"),
	}
	if cfg.Manifest.Path != "" {
		if p.ManifestPath, err = expandClean(cfg.Manifest.Path); err != nil {
			return Paths{}, err
		}
	}
	if cfg.Registry.Path != "" {
		if p.RegistryPath, err = expandClean(cfg.Registry.Path); err != nil {
			return Paths{}, err
		}
	}
	if cfg.Quarantine.Database != "" {
		if p.Quarantine, err = expandClean(cfg.Quarantine.Database); err != nil {
			return Paths{}, err
		}
	}
	return p, nil
}

func expandClean(path string) (string, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(expanded), nil
}
