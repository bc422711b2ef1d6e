// Package app wires the skillgate services from one configuration file.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"skillgate/internal/audit"
	"skillgate/internal/config"
	"skillgate/internal/conflict"
	"skillgate/internal/doctor"
	"skillgate/internal/ingest"
	"skillgate/internal/installer"
	"skillgate/internal/logging"
	"skillgate/internal/quarantine"
	"skillgate/internal/security"
	"skillgate/internal/source"
	"skillgate/internal/store"
	"skillgate/internal/transform"
)

type Options struct {
	ConfigPath string
	HTTPClient *http.Client
	// Logger overrides the logger built from the logging section.
	Logger *slog.Logger
	// LogLevel overrides logging.level when Logger is nil.
	LogLevel string
}

type Service struct {
	ConfigPath string
	Config     config.Config
	Paths      config.Paths

	Registry  source.Registry
	Installer *installer.Service
	Ingester  *ingest.Ingester
	Doctor    *doctor.Service
	Audit     *audit.Logger
	Logger    *slog.Logger

	qmu        sync.Mutex
	quarantine *quarantine.Store
}

func New(opts Options) (*Service, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Ensure(configPath)
	if err != nil {
		return nil, err
	}
	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{paths.SkillsDir, paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("APP_LAYOUT: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		levelName := cfg.Logging.Level
		if opts.LogLevel != "" {
			levelName = opts.LogLevel
		}
		level, err := logging.ParseLevel(levelName)
		if err != nil {
			return nil, err
		}
		logger = logging.New(logging.WithLevel(level), logging.WithFormat(logging.ParseFormat(cfg.Logging.Format)))
	}

	var httpOpts []source.HTTPOption
	if opts.HTTPClient != nil {
		httpOpts = append(httpOpts, source.WithHTTPClient(opts.HTTPClient))
	} else {
		httpOpts = append(httpOpts, source.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout()}))
	}
	httpOpts = append(httpOpts, source.WithRetries(cfg.Fetch.Retries))

	registry, err := source.NewRegistry(cfg.Registry.Kind, paths.RegistryPath, cfg.Registry.URL, httpOpts...)
	if err != nil {
		return nil, err
	}

	var transformer transform.Transformer
	if cfg.Transform.Command != "" {
		transformer = transform.NewCommand(cfg.Transform.Command, cfg.Transform.Args, cfg.TransformTimeout())
	}

	lease := store.LeaseOptions{
		TTL:          cfg.LockTimeout(),
		PollInterval: cfg.PollInterval(),
		WaitTimeout:  cfg.LockTimeout(),
	}
	auditLog := audit.New(store.AuditPath(paths.StateDir))
	scanner := security.NewScanner()

	return &Service{
		ConfigPath: configPath,
		Config:     cfg,
		Paths:      paths,
		Registry:   registry,
		Installer: &installer.Service{
			SkillsDir:   paths.SkillsDir,
			StateDir:    paths.StateDir,
			Resolver:    &source.Resolver{Registry: registry},
			Fetcher:     source.NewHTTPFetcher(cfg.Fetch.RawBaseURL, httpOpts...),
			Branches:    source.Branches{Default: cfg.Fetch.DefaultBranch, Fallback: cfg.Fetch.FallbackBranch},
			Scanner:     scanner,
			Transformer: transformer,
			Manifest:    store.NewManifestStore(paths.ManifestPath, lease),
			Baselines:   store.NewBaselineStore(store.BaselineRoot(paths.StateDir)),
			Audit:       auditLog,
			Logger:      logger,
		},
		Ingester: &ingest.Ingester{Scanner: scanner, Audit: auditLog, Logger: logger},
		Doctor:   &doctor.Service{ConfigPath: configPath, Paths: paths, LockTTL: cfg.LockTimeout()},
		Audit:    auditLog,
		Logger:   logger,
	}, nil
}

// Close releases the quarantine database if it was opened.
func (s *Service) Close() error {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.quarantine == nil {
		return nil
	}
	err := s.quarantine.Close()
	s.quarantine = nil
	return err
}

func (s *Service) SaveConfig() error {
	return config.Save(s.ConfigPath, s.Config)
}

// InstallOptions are the caller-facing knobs of one install.
type InstallOptions struct {
	Force         bool
	SkipScan      bool
	SkipTransform bool
	OnConflict    string
}

func (s *Service) Install(ctx context.Context, identifier string, opts InstallOptions) (installer.Result, error) {
	action, err := conflict.ParseAction(opts.OnConflict)
	if err != nil {
		return installer.Result{}, err
	}
	return s.Installer.Install(ctx, installer.Request{
		Identifier:     identifier,
		Force:          opts.Force,
		SkipScan:       opts.SkipScan || !s.Config.Security.ScanEnabled,
		SkipTransform:  opts.SkipTransform,
		ConflictAction: action,
	}), nil
}

func (s *Service) Uninstall(ctx context.Context, name string) (store.ManifestEntry, error) {
	return s.Installer.Uninstall(ctx, name)
}

func (s *Service) List() ([]store.ManifestEntry, error) {
	return s.Installer.List()
}

func (s *Service) Status(ctx context.Context) ([]installer.SkillStatus, error) {
	return s.Installer.Status(ctx)
}

// FileReport is the scan result for one local file.
type FileReport struct {
	Path   string              `json:"path"`
	Report security.ScanReport `json:"report"`
}

// ScanPath scans a single file, or every non-hidden file under a directory,
// under the policy for tier. An empty tier uses the configured default.
func (s *Service) ScanPath(ctx context.Context, path, tier string) ([]FileReport, security.TrustTierPolicy, error) {
	if tier == "" {
		tier = s.Config.Security.DefaultTier
	}
	policy := security.PolicyFor(tier)
	files, err := collectFiles(ctx, path)
	if err != nil {
		return nil, policy, err
	}
	reports := s.Installer.Scanner.ScanFiles(filepath.Base(path), files, policy)
	out := make([]FileReport, 0, len(reports))
	for name, r := range reports {
		out = append(out, FileReport{Path: name, Report: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, policy, nil
}

func collectFiles(ctx context.Context, root string) (map[string]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("SCAN_PATH: %w", err)
	}
	if !info.IsDir() {
		blob, err := os.ReadFile(root)
		if err != nil {
			return nil, fmt.Errorf("SCAN_PATH: %w", err)
		}
		return map[string]string{filepath.Base(root): string(blob)}, nil
	}
	files := map[string]string{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		blob, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(blob)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("SCAN_PATH: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("SCAN_PATH: no files under %s", root)
	}
	return files, nil
}

// Ingest screens a local directory tree. An empty tier uses the configured
// default.
func (s *Service) Ingest(ctx context.Context, root, tier string) (ingest.Summary, error) {
	if tier == "" {
		tier = s.Config.Security.DefaultTier
	}
	q, err := s.Quarantine(ctx)
	if err != nil {
		return ingest.Summary{}, err
	}
	in := *s.Ingester
	in.Quarantine = q
	return in.Ingest(ctx, root, tier)
}

// Quarantine opens the quarantine database on first use.
func (s *Service) Quarantine(ctx context.Context) (*quarantine.Store, error) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.quarantine != nil {
		return s.quarantine, nil
	}
	q, err := quarantine.Open(ctx, s.Paths.Quarantine)
	if err != nil {
		return nil, err
	}
	s.quarantine = q
	return q, nil
}

var ErrRegistryNotListable = errors.New("SRC_REGISTRY: configured registry cannot list its entries")

func (s *Service) RegistryList(ctx context.Context) ([]source.RegistryEntry, error) {
	lister, ok := s.Registry.(source.Lister)
	if !ok {
		return nil, ErrRegistryNotListable
	}
	return lister.List(ctx)
}

func (s *Service) AuditTail(n int) ([]audit.Event, error) {
	return s.Audit.Tail(n)
}

func (s *Service) DoctorRun(ctx context.Context, fix bool) doctor.Report {
	return s.Doctor.Run(ctx, fix)
}

// ReviewQuarantine records a reviewer's decision and audits it.
func (s *Service) ReviewQuarantine(ctx context.Context, id string, r quarantine.Review) (quarantine.Entry, error) {
	q, err := s.Quarantine(ctx)
	if err != nil {
		return quarantine.Entry{}, err
	}
	entry, err := q.Review(ctx, id, r)
	ev := audit.Event{Operation: "quarantine", Phase: "review", Status: audit.StatusOK,
		Fields: map[string]string{"id": id, "decision": string(r.Status), "reviewer": r.Reviewer}}
	if err != nil {
		ev.Status, ev.Message = audit.StatusFailed, err.Error()
	}
	_ = s.Audit.Log(ev)
	return entry, err
}

func (s *Service) PurgeQuarantine(ctx context.Context, id string) error {
	q, err := s.Quarantine(ctx)
	if err != nil {
		return err
	}
	if err := q.Purge(ctx, id); err != nil {
		return err
	}
	_ = s.Audit.Log(audit.Event{Operation: "quarantine", Phase: "purge", Status: audit.StatusOK, Fields: map[string]string{"id": id}})
	return nil
}
