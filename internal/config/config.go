// Package config loads and saves the skillgate TOML configuration and
// resolves the directories it names.
//
// A missing file is created with DefaultConfig on first use. Keys left out
// of the document keep their defaults; keys the schema does not know are
// rejected so typos surface instead of being ignored.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"skillgate/internal/fsutil"
)

// EnvConfigPath names the environment variable that overrides the default
// config location when no explicit path is given.
const EnvConfigPath = "SKILLGATE_CONFIG"

func resolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultConfigPath()
}

// Ensure loads the config at path, writing the defaults first if the file
// does not exist yet.
func Ensure(path string) (Config, error) {
	path = resolvePath(path)
	cfg, err := Load(path)
	if !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	cfg = DefaultConfig()
	if err := Save(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads, normalizes and validates the config at path. The error wraps
// os.ErrNotExist when the file is absent.
func Load(path string) (Config, error) {
	path = resolvePath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("DOC_CONFIG_UNKNOWN_KEY: %s: %s", path, unknownKeys(strict))
		}
		return Config{}, fmt.Errorf("DOC_CONFIG_PARSE: %w", err)
	}
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func unknownKeys(strict *toml.StrictMissingError) string {
	keys := make([]string, 0, len(strict.Errors))
	for i := range strict.Errors {
		keys = append(keys, strings.Join(strict.Errors[i].Key(), "."))
	}
	return strings.Join(keys, ", ")
}

const header = "# skillgate configuration. Durations use Go syntax, e.g. \"10s\".\n\n"

// Save validates cfg and writes it atomically.
func Save(path string, cfg Config) error {
	path = resolvePath(path)
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("DOC_CONFIG_WRITE: %w", err)
	}
	blob, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("DOC_CONFIG_ENCODE: %w", err)
	}
	if err := fsutil.AtomicWrite(path, append([]byte(header), blob...), 0o644); err != nil {
		return fmt.Errorf("DOC_CONFIG_WRITE: %w", err)
	}
	return nil
}
