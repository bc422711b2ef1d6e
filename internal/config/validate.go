package config

import (
	"fmt"
	"net/url"
	"time"
)

var allowedTrustTiers = map[string]struct{}{
	"verified":     {},
	"community":    {},
	"experimental": {},
	"unknown":      {},
}

var allowedRegistryKinds = map[string]struct{}{
	"file": {},
	"http": {},
	"none": {},
}

var allowedLogFormats = map[string]struct{}{
	"text": {},
	"json": {},
}

func Validate(cfg Config) error {
	if cfg.Version != SchemaVersion {
		return fmt.Errorf("DOC_CONFIG_VERSION: unsupported version %d", cfg.Version)
	}
	if cfg.Storage.SkillsDir == "" || cfg.Storage.StateDir == "" {
		return fmt.Errorf("DOC_CONFIG_STORAGE: missing skills_dir/state_dir")
	}
	for name, raw := range map[string]string{
		"manifest.lock_timeout":  cfg.Manifest.LockTimeout,
		"manifest.poll_interval": cfg.Manifest.PollInterval,
		"fetch.timeout":          cfg.Fetch.Timeout,
		"transform.timeout":      cfg.Transform.Timeout,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("DOC_CONFIG_DURATION: %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("DOC_CONFIG_DURATION: %s must be positive", name)
		}
	}
	if lt, pi := cfg.LockTimeout(), cfg.PollInterval(); pi > lt {
		return fmt.Errorf("DOC_CONFIG_MANIFEST: poll_interval %s exceeds lock_timeout %s", pi, lt)
	}
	u, err := url.Parse(cfg.Fetch.RawBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("DOC_CONFIG_FETCH: invalid raw_base_url %q", cfg.Fetch.RawBaseURL)
	}
	if cfg.Fetch.DefaultBranch == "" || cfg.Fetch.FallbackBranch == "" {
		return fmt.Errorf("DOC_CONFIG_FETCH: missing default/fallback branch")
	}
	if _, ok := allowedRegistryKinds[cfg.Registry.Kind]; !ok {
		return fmt.Errorf("DOC_CONFIG_REGISTRY: unsupported registry kind %q", cfg.Registry.Kind)
	}
	if cfg.Registry.Kind == "http" && cfg.Registry.URL == "" {
		return fmt.Errorf("DOC_CONFIG_REGISTRY: http registry requires url")
	}
	if _, ok := allowedTrustTiers[cfg.Security.DefaultTier]; !ok {
		return fmt.Errorf("SEC_CONFIG_TRUST: invalid default tier %q", cfg.Security.DefaultTier)
	}
	if cfg.Logging.Level == "" {
		return fmt.Errorf("DOC_CONFIG_LOGGING: missing logging level")
	}
	if _, ok := allowedLogFormats[cfg.Logging.Format]; !ok {
		return fmt.Errorf("DOC_CONFIG_LOGGING: unsupported format %q", cfg.Logging.Format)
	}
	return nil
}

// LockTimeout returns the parsed lease timeout, falling back to the default.
func (c Config) LockTimeout() time.Duration {
	return parseDurationOr(c.Manifest.LockTimeout, DefaultLockTimeout)
}

func (c Config) PollInterval() time.Duration {
	return parseDurationOr(c.Manifest.PollInterval, DefaultPollInterval)
}

func (c Config) FetchTimeout() time.Duration {
	return parseDurationOr(c.Fetch.Timeout, DefaultFetchTimeout)
}

func (c Config) TransformTimeout() time.Duration {
	return parseDurationOr(c.Transform.Timeout, 20*time.Second)
}

func parseDurationOr(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
