// Package installer runs the install pipeline: resolve, fetch, validate,
// gate on the security scan, write atomically and record the result in the
// manifest.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"skillgate/internal/audit"
	"skillgate/internal/conflict"
	"skillgate/internal/fsutil"
	"skillgate/internal/logging"
	"skillgate/internal/security"
	"skillgate/internal/skill"
	"skillgate/internal/source"
	"skillgate/internal/store"
	"skillgate/internal/transform"
)

// Request is one install invocation.
type Request struct {
	Identifier     string
	Force          bool
	SkipScan       bool
	SkipTransform  bool
	ConflictAction conflict.Action
}

// Result is the outcome of Install. Err is set exactly when Status is not
// StatusInstalled.
type Result struct {
	Status      Status
	Name        string
	ID          string
	Tier        string
	Version     string
	InstallPath string
	Source      string

	Report      *security.ScanReport
	Transformed bool
	Merged      bool
	BackupPath  string
	SubFiles    []string
	Companions  []string
	Skipped     []string

	// ClaudeMdSnippet is text the transform suggests adding to the agent's
	// CLAUDE.md. It is reported, never written.
	ClaudeMdSnippet string

	Entry *store.ManifestEntry
	Err   *Error
}

// Service holds the collaborators of the pipeline. Transformer, Audit and
// Logger are optional.
type Service struct {
	SkillsDir string
	StateDir  string

	Resolver    *source.Resolver
	Fetcher     source.Fetcher
	Branches    source.Branches
	Scanner     *security.Scanner
	Transformer transform.Transformer
	Manifest    *store.ManifestStore
	Baselines   *store.BaselineStore
	Audit       *audit.Logger
	Logger      *slog.Logger
	Now         func() time.Time

	journalOpts []fsutil.JournalOption
	rename      func(oldpath, newpath string) error
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logging.Discard()
}

var defaultScanner = sync.OnceValue(func() *security.Scanner { return security.NewScanner() })

func (s *Service) scanner() *security.Scanner {
	if s.Scanner != nil {
		return s.Scanner
	}
	return defaultScanner()
}

// Install runs the pipeline for one identifier. It never returns a Go error:
// every outcome, including local failures, is reported through Result.
func (s *Service) Install(ctx context.Context, req Request) Result {
	res := s.install(ctx, req)
	s.finish(req, &res)
	return res
}

func (s *Service) install(ctx context.Context, req Request) Result {
	log := s.log().With("identifier", req.Identifier)
	var res Result

	resolved, err := s.Resolver.Resolve(ctx, req.Identifier)
	if err != nil {
		return reject(res, resolutionError(err))
	}
	res.Name, res.ID, res.Tier, res.Version = resolved.Name, resolved.ID, resolved.Tier, resolved.Version
	log = log.With("skill", resolved.Name, "tier", resolved.Tier)
	log.Debug("resolved", "locator", resolved.Locator.String(), "registry", resolved.FromRegistry)

	manifest, err := s.Manifest.Load()
	if err != nil {
		return reject(res, newError(KindWriteFailure, "installed-skills manifest is unreadable; run doctor", err))
	}
	existing, installed := manifest.Get(resolved.Name)
	finalDir := filepath.Join(s.SkillsDir, resolved.Name)
	unmanaged := false
	if !installed {
		if _, err := os.Lstat(finalDir); err == nil {
			unmanaged = true
		}
	}
	if (installed || unmanaged) && !req.Force {
		return reject(res, newError(KindAlreadyInstalled, "skill is already installed; reinstall with --force", nil))
	}

	policy := security.PolicyFor(resolved.Tier)
	content, loc, err := source.FetchWithFallback(ctx, s.Fetcher, resolved.Locator, skill.PrimaryFile, s.Branches)
	if err != nil {
		return reject(res, fetchError(err))
	}
	res.Source = loc.WebURL()
	log.Debug("fetched", "branch", loc.Branch, "bytes", len(content))

	doc, err := skill.Validate(content)
	if err != nil {
		return reject(res, newError(KindValidation, validationMessage(err), err))
	}
	if res.Version == "" {
		res.Version = doc.Version
	}

	plan := writePlan{content: content}
	if req.Force && (installed || unmanaged) {
		if rerr := s.planReinstall(&plan, existing, installed, finalDir, content, req.ConflictAction); rerr != nil {
			return reject(res, rerr)
		}
		res.Merged = plan.merged
	}

	if !req.SkipScan {
		report := s.scanner().Scan(resolved.ID, content, policy)
		res.Report = &report
		log.Debug("scanned", "score", report.RiskScore, "passed", report.Passed, "findings", len(report.Findings))
		if !report.Passed {
			return reject(res, scanGateError(report, policy))
		}
		if plan.merged {
			merged := s.scanner().Scan(resolved.ID, plan.content, policy)
			if !merged.Passed {
				return reject(res, scanGateError(merged, policy))
			}
		}
	}

	files := []stagedFile{{rel: skill.PrimaryFile}}
	var companionOverride string
	if !req.SkipTransform && !plan.merged && s.Transformer != nil {
		if t, ok := s.applyTransform(ctx, log, resolved, doc, plan.content, policy, req.SkipScan); ok {
			plan.content = t.content
			files = append(files, t.subFiles...)
			companionOverride = t.companion
			res.Transformed = true
			res.ClaudeMdSnippet = t.snippet
			for _, f := range t.subFiles {
				res.SubFiles = append(res.SubFiles, f.rel)
			}
		}
	}
	files[0].data = []byte(plan.content)

	var optional []stagedFile
	for _, c := range s.fetchCompanions(ctx, loc, doc, resolved.ID, policy, req.SkipScan) {
		if c.name == skill.CompanionFile && companionOverride != "" {
			continue
		}
		if c.skipped || collides(c.name, files) {
			res.Skipped = append(res.Skipped, c.name)
			continue
		}
		optional = append(optional, stagedFile{rel: c.name, data: []byte(c.content)})
	}
	if companionOverride != "" {
		optional = append([]stagedFile{{rel: skill.CompanionFile, data: []byte(companionOverride)}}, optional...)
	}

	if plan.backup && plan.local != "" {
		path, err := conflict.Backup(store.BackupRoot(s.StateDir), resolved.Name, plan.local, s.now())
		if err != nil {
			return reject(res, newError(KindWriteFailure, "could not back up local changes; nothing was installed", err))
		}
		res.BackupPath = path
		log.Info("backed up local changes")
	}

	installPath, written, skipped, err := s.commitFiles(ctx, resolved.Name, files, optional)
	if err != nil {
		return reject(res, newError(KindWriteFailure, "could not write skill files; nothing was installed", err))
	}
	res.InstallPath = installPath
	res.Companions = written
	res.Skipped = append(res.Skipped, skipped...)
	if len(res.Skipped) > 0 {
		log.Info("companion files skipped", "files", res.Skipped)
	}
	log.Debug("files committed", "files", len(files)+len(written))

	hash := store.ContentHash(plan.content)
	if _, err := s.Baselines.Put(plan.content); err != nil {
		// Without a baseline a later merge fails closed; the install stands.
		log.Warn("baseline not recorded", "err", err)
	}

	now := s.now().UTC()
	entry := store.ManifestEntry{
		ID:                  resolved.ID,
		Name:                resolved.Name,
		Version:             res.Version,
		Source:              res.Source,
		InstallPath:         installPath,
		InstalledAt:         now,
		LastUpdated:         now,
		OriginalContentHash: hash,
	}
	err = s.Manifest.Update(ctx, func(m *store.Manifest) error {
		m.Upsert(entry)
		entry, _ = m.Get(entry.Name)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrLeaseTimeout) {
			return reject(res, newError(KindLockTimeout, "files were written but the manifest is locked by another process; rerun with --force to record the install", err))
		}
		return reject(res, newError(KindWriteFailure, "files were written but the manifest could not be saved; rerun with --force to record the install", err))
	}
	res.Entry = &entry
	res.Status = StatusInstalled
	return res
}

func reject(res Result, err *Error) Result {
	res.Status = err.Kind.Status()
	res.Err = err
	return res
}

func (s *Service) finish(req Request, res *Result) {
	ev := audit.Event{
		Operation: "install",
		Phase:     "commit",
		Fields:    map[string]string{"identifier": req.Identifier},
	}
	if res.Name != "" {
		ev.Fields["skill"] = res.Name
	}
	if res.Tier != "" {
		ev.Fields["tier"] = res.Tier
	}
	if res.Report != nil {
		ev.Fields["riskScore"] = fmt.Sprint(res.Report.RiskScore)
	}
	log := s.log().With("identifier", req.Identifier, "skill", res.Name)
	switch res.Status {
	case StatusInstalled:
		ev.Status = audit.StatusOK
		log.Info("skill installed", "version", res.Version, "transformed", res.Transformed, "merged", res.Merged)
	case StatusRejected:
		ev.Status = audit.StatusRejected
		ev.Code = string(res.Err.Kind)
		ev.Message = res.Err.Message
		log.Warn("install rejected", "kind", res.Err.Kind, "reason", res.Err.Message)
	default:
		ev.Status = audit.StatusFailed
		ev.Code = string(res.Err.Kind)
		ev.Message = res.Err.Message
		log.Error("install failed", "kind", res.Err.Kind, "err", res.Err.Unwrap())
	}
	if err := s.Audit.Log(ev); err != nil {
		log.Warn("audit log write failed", "err", err)
	}
}

// writePlan is the primary content to write and what to do with the local
// copy it replaces.
type writePlan struct {
	content string
	local   string
	backup  bool
	merged  bool
}

func (s *Service) planReinstall(plan *writePlan, existing store.ManifestEntry, managed bool, finalDir, upstream string, action conflict.Action) *Error {
	primary := filepath.Join(finalDir, skill.PrimaryFile)
	if !managed {
		// Unmanaged directory: nothing to compare against, keep a copy.
		blob, err := os.ReadFile(primary)
		if err == nil {
			plan.local = string(blob)
			plan.backup = true
		}
		return nil
	}
	status, local, err := conflict.DetectFile(existing, primary)
	if err != nil {
		return newError(KindWriteFailure, "could not read the installed skill", err)
	}
	if !status.Diverged {
		return nil
	}
	in := conflict.Input{Local: local, Upstream: upstream}
	if base, err := s.Baselines.Get(existing.OriginalContentHash); err == nil {
		in.Base, in.BaseKnown = base, true
	}
	resolution, err := conflict.Resolve(action, in)
	if err != nil {
		return conflictError(err)
	}
	plan.content = resolution.Content
	plan.local = local
	plan.backup = resolution.Backup
	plan.merged = resolution.Merged
	return nil
}

// transformed is the accepted output of the transform tool.
type transformed struct {
	content   string
	subFiles  []stagedFile
	companion string
	snippet   string
}

// applyTransform runs the transformer. It returns ok=false, and the caller
// keeps the original content, when the tool fails, declines, returns an
// invalid reply, or returns anything that no longer passes the scan.
func (s *Service) applyTransform(ctx context.Context, log *slog.Logger, r source.Resolved, doc skill.Document, content string, policy security.TrustTierPolicy, skipScan bool) (transformed, bool) {
	out, err := s.Transformer.Transform(ctx, transform.Input{
		ID:          r.ID,
		Name:        r.Name,
		Description: doc.Meta.Description,
		Content:     content,
	})
	if err != nil {
		log.Warn("transform failed, installing original content", "err", err)
		return transformed{}, false
	}
	if !out.Transformed {
		log.Debug("transform declined")
		return transformed{}, false
	}
	reserved := []string{skill.PrimaryFile}
	if out.CompanionContent != "" {
		reserved = append(reserved, skill.CompanionFile)
	}
	if err := out.Validate(reserved...); err != nil {
		log.Warn("transform reply rejected, installing original content", "err", err)
		return transformed{}, false
	}
	if !skipScan {
		parts := map[string]string{skill.PrimaryFile: out.MainContent}
		for _, f := range out.SubFiles {
			parts[f.Filename] = f.Content
		}
		if out.CompanionContent != "" {
			parts[skill.CompanionFile] = out.CompanionContent
		}
		for file, report := range s.scanner().ScanFiles(r.ID, parts, policy) {
			if !report.Passed {
				log.Warn("transformed content failed the scan, installing original content", "file", file, "score", report.RiskScore)
				return transformed{}, false
			}
		}
	}
	t := transformed{content: out.MainContent, companion: out.CompanionContent, snippet: out.ClaudeMdSnippet}
	for _, f := range out.SubFiles {
		t.subFiles = append(t.subFiles, stagedFile{rel: f.Filename, data: []byte(f.Content)})
	}
	log.Debug("transformed", "subFiles", len(t.subFiles))
	return t, true
}

func resolutionError(err error) *Error {
	switch {
	case errors.Is(err, source.ErrInvalidIdentifier):
		return newError(KindResolution, "identifier must be a registry id, owner/repo[/path][@branch] or a repository URL", err)
	case errors.Is(err, source.ErrUnknownSkill):
		return newError(KindResolution, "no skill is registered under that id; check the id or install by repository", err)
	case errors.Is(err, source.ErrNotInstallable):
		return newError(KindResolution, "registry entry has no source repository and cannot be installed", err)
	default:
		return newError(KindResolution, "registry lookup failed; retry later", err)
	}
}

func fetchError(err error) *Error {
	if errors.Is(err, source.ErrNotFound) {
		return newError(KindFetch, "SKILL.md was not found at the source on either conventional branch; check the path or pin a branch", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindFetch, "fetch was cancelled or timed out; retry", err)
	}
	return newError(KindFetch, "source is unreachable; retry later", err)
}

// validationMessage keeps only the structural reason. Parser errors and
// version strings can echo remote text, so those get fixed wording.
func validationMessage(err error) string {
	msg := err.Error()
	switch {
	case !errors.Is(err, skill.ErrInvalid):
		return "SKILL.md is malformed"
	case strings.Contains(msg, "front-matter: "):
		return "SKILL.md is malformed: front-matter is not valid YAML"
	case strings.Contains(msg, "invalid version"):
		return "SKILL.md is malformed: version is not a valid semantic version"
	default:
		return "SKILL.md is malformed: " + strings.TrimPrefix(msg, skill.ErrInvalid.Error()+": ")
	}
}

func conflictError(err error) *Error {
	switch {
	case errors.Is(err, conflict.ErrCancelled):
		return newError(KindConflict, "reinstall cancelled; local changes were kept", err)
	case errors.Is(err, conflict.ErrUnresolvable):
		return newError(KindConflict, "local and upstream changes could not be merged; resolve by hand or choose overwrite", err)
	default:
		return newError(KindConflict, "the installed skill has local changes; choose overwrite, merge or cancel", err)
	}
}

func scanGateError(report security.ScanReport, policy security.TrustTierPolicy) *Error {
	counts := map[string]int{}
	for sev, n := range report.CountBySeverity() {
		counts[sev.String()] = n
	}
	msg := "security scan exceeded the risk threshold for this tier"
	if report.HasCritical() {
		msg = "security scan found critical issues"
	}
	return &Error{
		Kind:      KindScanGate,
		Message:   msg,
		Tier:      string(policy.Tier),
		Threshold: policy.RiskThreshold,
		RiskScore: report.RiskScore,
		Counts:    counts,
	}
}
