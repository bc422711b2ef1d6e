// Package doctor inspects the local skillgate layout and reports problems.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"skillgate/internal/config"
	"skillgate/internal/quarantine"
	"skillgate/internal/store"
)

type Finding struct {
	Code    string `json:"code"`
	Level   string `json:"level"`
	Message string `json:"message"`
	Fixed   bool   `json:"fixed,omitempty"`
}

type Report struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

type Service struct {
	ConfigPath string
	Paths      config.Paths
	// LockTTL is the age past which a manifest lock counts as stale.
	LockTTL time.Duration
	Now     func() time.Time
}

// Run performs every check. With fix set, a stale manifest lock and
// leftover staging directories are removed.
func (s *Service) Run(ctx context.Context, fix bool) Report {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	findings := []Finding{}

	if _, err := os.Stat(s.ConfigPath); err != nil {
		findings = append(findings, Finding{Code: "DOC_CONFIG_MISSING", Level: "error", Message: err.Error()})
	} else if _, err := config.Load(s.ConfigPath); err != nil {
		findings = append(findings, Finding{Code: "DOC_CONFIG_INVALID", Level: "error", Message: err.Error()})
	}

	manifests := store.NewManifestStore(s.Paths.ManifestPath, store.LeaseOptions{})
	m, err := manifests.Load()
	if err != nil {
		findings = append(findings, Finding{Code: "DOC_MANIFEST_INVALID", Level: "error", Message: err.Error()})
	} else {
		for _, e := range m.Entries() {
			dir := e.InstallPath
			if dir == "" {
				dir = filepath.Join(s.Paths.SkillsDir, e.Name)
			}
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				findings = append(findings, Finding{
					Code:    "DOC_SKILL_MISSING",
					Level:   "warn",
					Message: fmt.Sprintf("%s is recorded as installed but its directory is gone; reinstall or uninstall it", e.Name),
				})
			}
		}
	}

	findings = append(findings, s.checkLock(manifests.LockPath(), now(), fix)...)
	findings = append(findings, s.checkStaging(fix)...)
	findings = append(findings, s.checkQuarantine(ctx)...)

	healthy := true
	for _, f := range findings {
		if f.Level == "error" {
			healthy = false
			break
		}
	}
	return Report{Healthy: healthy, Findings: findings}
}

func (s *Service) checkLock(path string, now time.Time, fix bool) []Finding {
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = store.DefaultLeaseTTL
	}
	exists, stale, err := store.LeaseStale(path, ttl, now)
	switch {
	case err != nil:
		return []Finding{{Code: "DOC_LOCK_UNREADABLE", Level: "error", Message: err.Error()}}
	case !exists:
		return nil
	case !stale:
		return []Finding{{Code: "DOC_LOCK_HELD", Level: "info", Message: "manifest lock is held by a running operation"}}
	}
	f := Finding{Code: "DOC_LOCK_STALE", Level: "warn", Message: "manifest lock is older than " + ttl.String() + "; run doctor --fix to remove it"}
	if info, err := store.ReadLeaseInfo(path); err == nil && info.Holder != "" {
		f.Message += " (holder " + info.Holder + ")"
	}
	if fix {
		if err := os.Remove(path); err == nil || os.IsNotExist(err) {
			f.Fixed = true
		}
	}
	return []Finding{f}
}

func (s *Service) checkStaging(fix bool) []Finding {
	root := store.StagingRoot(s.Paths.SkillsDir)
	entries, err := os.ReadDir(root)
	if err != nil || len(entries) == 0 {
		return nil
	}
	f := Finding{
		Code:    "DOC_STAGING_LEFTOVER",
		Level:   "warn",
		Message: fmt.Sprintf("%d interrupted install(s) left files in the staging area", len(entries)),
	}
	if fix {
		f.Fixed = true
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
				f.Fixed = false
			}
		}
	}
	return []Finding{f}
}

func (s *Service) checkQuarantine(ctx context.Context) []Finding {
	if s.Paths.Quarantine == "" {
		return nil
	}
	if _, err := os.Stat(s.Paths.Quarantine); os.IsNotExist(err) {
		return nil
	}
	q, err := quarantine.Open(ctx, s.Paths.Quarantine)
	if err != nil {
		return []Finding{{Code: "DOC_QUARANTINE_UNREADABLE", Level: "error", Message: err.Error()}}
	}
	defer q.Close()
	stats, err := q.Stats(ctx)
	if err != nil {
		return []Finding{{Code: "DOC_QUARANTINE_UNREADABLE", Level: "error", Message: err.Error()}}
	}
	if n := stats.ByStatus[quarantine.StatusPending]; n > 0 {
		return []Finding{{
			Code:    "DOC_QUARANTINE_PENDING",
			Level:   "warn",
			Message: fmt.Sprintf("%d quarantined skill(s) await review", n),
		}}
	}
	return nil
}
