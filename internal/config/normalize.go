package config

import "strings"

func Normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Version == 0 {
		cfg.Version = SchemaVersion
	}
	if cfg.Storage.SkillsDir == "" {
		cfg.Storage.SkillsDir = def.Storage.SkillsDir
	}
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = def.Storage.StateDir
	}
	if cfg.Manifest.LockTimeout == "" {
		cfg.Manifest.LockTimeout = def.Manifest.LockTimeout
	}
	if cfg.Manifest.PollInterval == "" {
		cfg.Manifest.PollInterval = def.Manifest.PollInterval
	}
	if cfg.Fetch.RawBaseURL == "" {
		cfg.Fetch.RawBaseURL = def.Fetch.RawBaseURL
	}
	cfg.Fetch.RawBaseURL = strings.TrimRight(cfg.Fetch.RawBaseURL, "/")
	if cfg.Fetch.DefaultBranch == "" {
		cfg.Fetch.DefaultBranch = def.Fetch.DefaultBranch
	}
	if cfg.Fetch.FallbackBranch == "" {
		cfg.Fetch.FallbackBranch = def.Fetch.FallbackBranch
	}
	if cfg.Fetch.Timeout == "" {
		cfg.Fetch.Timeout = def.Fetch.Timeout
	}
	if cfg.Fetch.Retries < 0 {
		cfg.Fetch.Retries = 0
	}
	if cfg.Registry.Kind == "" {
		cfg.Registry.Kind = def.Registry.Kind
	}
	cfg.Registry.Kind = strings.ToLower(cfg.Registry.Kind)
	cfg.Security.DefaultTier = strings.ToLower(strings.TrimSpace(cfg.Security.DefaultTier))
	if cfg.Security.DefaultTier == "" {
		cfg.Security.DefaultTier = def.Security.DefaultTier
	}
	if cfg.Transform.Timeout == "" {
		cfg.Transform.Timeout = def.Transform.Timeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	return cfg
}
