package store

import "path/filepath"

// LockSuffix is appended to the manifest path to name its lease file.
const LockSuffix = ".lock"

func LockPath(manifestPath string) string {
	return manifestPath + LockSuffix
}

// StagingRoot holds in-progress installs. It lives inside the skills
// directory so the final rename stays on one filesystem.
func StagingRoot(skillsDir string) string {
	return filepath.Join(skillsDir, ".staging")
}

func BackupRoot(stateDir string) string {
	return filepath.Join(stateDir, "backups")
}

func BaselineRoot(stateDir string) string {
	return filepath.Join(stateDir, "baselines")
}

func AuditPath(stateDir string) string {
	return filepath.Join(stateDir, "audit.log")
}
