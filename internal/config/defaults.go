package config

import "time"

const (
	SchemaVersion = 1
)

const (
	DefaultLockTimeout  = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultFetchTimeout = 30 * time.Second
)

// Build metadata, overridden through -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// DefaultConfig returns a fully-populated v1 config document.
func DefaultConfig() Config {
	return Config{
		Version: SchemaVersion,
		Storage: StorageConfig{
			SkillsDir: "~/.claude/skills",
			StateDir:  DefaultStateDir(),
		},
		Manifest: ManifestConfig{
			LockTimeout:  DefaultLockTimeout.String(),
			PollInterval: DefaultPollInterval.String(),
		},
		Fetch: FetchConfig{
			RawBaseURL:     "https://raw.githubusercontent.com",
			DefaultBranch:  "main",
			FallbackBranch: "master",
			Timeout:        DefaultFetchTimeout.String(),
			Retries:        2,
		},
		Registry: RegistryConfig{
			Kind: "file",
		},
		Security: SecurityConfig{
			ScanEnabled: true,
			DefaultTier: "unknown",
		},
		Transform: TransformConfig{
			Timeout: "20s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
