package config

// Config is the v1 configuration document.
type Config struct {
	Version    int              `toml:"version"`
	Storage    StorageConfig    `toml:"storage"`
	Manifest   ManifestConfig   `toml:"manifest"`
	Fetch      FetchConfig      `toml:"fetch"`
	Registry   RegistryConfig   `toml:"registry"`
	Security   SecurityConfig   `toml:"security"`
	Transform  TransformConfig  `toml:"transform"`
	Quarantine QuarantineConfig `toml:"quarantine"`
	Logging    LoggingConfig    `toml:"logging"`
}

type StorageConfig struct {
	// SkillsDir is where skills are installed, one directory per skill name.
	SkillsDir string `toml:"skills_dir"`
	// StateDir holds the audit log, baselines and backups.
	StateDir string `toml:"state_dir"`
}

type ManifestConfig struct {
	Path         string `toml:"path,omitempty"`
	LockTimeout  string `toml:"lock_timeout"`
	PollInterval string `toml:"poll_interval"`
}

type FetchConfig struct {
	RawBaseURL     string `toml:"raw_base_url"`
	DefaultBranch  string `toml:"default_branch"`
	FallbackBranch string `toml:"fallback_branch"`
	Timeout        string `toml:"timeout"`
	Retries        int    `toml:"retries"`
}

type RegistryConfig struct {
	Kind string `toml:"kind"`
	Path string `toml:"path,omitempty"`
	URL  string `toml:"url,omitempty"`
}

type SecurityConfig struct {
	ScanEnabled bool   `toml:"scan_enabled"`
	DefaultTier string `toml:"default_tier"`
}

type TransformConfig struct {
	Command string   `toml:"command,omitempty"`
	Args    []string `toml:"args,omitempty"`
	Timeout string   `toml:"timeout"`
}

type QuarantineConfig struct {
	Database string `toml:"database"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}
