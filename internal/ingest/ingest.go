// Package ingest screens local skill directories in bulk. Each directory is
// shape-checked, validated and scanned at a caller-chosen tier; anything
// that fails is recorded in quarantine for review.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"skillgate/internal/audit"
	"skillgate/internal/logging"
	"skillgate/internal/quarantine"
	"skillgate/internal/security"
	"skillgate/internal/skill"
)

// Outcome is what happened to one directory.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeQuarantined Outcome = "quarantined"
)

// Recorder stores quarantine entries. *quarantine.Store implements it.
type Recorder interface {
	Create(ctx context.Context, e quarantine.Entry) (quarantine.Entry, error)
}

// Item is the result for one directory.
type Item struct {
	Name         string
	Path         string
	Outcome      Outcome
	Severity     quarantine.Severity
	QuarantineID string
	Reason       string
	Report       *security.ScanReport
}

// Summary is the result of one Ingest call.
type Summary struct {
	Tier        security.Tier
	Items       []Item
	Accepted    int
	Quarantined int
}

type Ingester struct {
	Scanner    *security.Scanner
	Quarantine Recorder
	Audit      *audit.Logger
	Logger     *slog.Logger
	// Workers bounds concurrent scans. Zero means 4.
	Workers int
}

func (in *Ingester) log() *slog.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return logging.Discard()
}

// Ingest screens root. If root itself holds a SKILL.md it is the only
// candidate; otherwise every non-hidden subdirectory is one. Validation
// failures are quarantined as LOW_QUALITY, scan failures at the severity
// the report implies. An error is returned only when root cannot be read
// or quarantine cannot be written.
func (in *Ingester) Ingest(ctx context.Context, root, tier string) (Summary, error) {
	policy := security.PolicyFor(tier)
	sum := Summary{Tier: policy.Tier}

	dirs, err := candidates(root)
	if err != nil {
		return sum, err
	}
	items := make([]Item, len(dirs))

	workers := in.Workers
	if workers <= 0 {
		workers = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, dir := range dirs {
		i, dir := i, dir
		g.Go(func() error {
			item, err := in.screen(gctx, dir, policy)
			if err != nil {
				return err
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	for _, item := range items {
		switch item.Outcome {
		case OutcomeAccepted:
			sum.Accepted++
		case OutcomeQuarantined:
			sum.Quarantined++
		}
	}
	sum.Items = items
	_ = in.Audit.Log(audit.Event{
		Operation: "ingest",
		Phase:     "commit",
		Status:    audit.StatusOK,
		Message:   fmt.Sprintf("accepted=%d quarantined=%d", sum.Accepted, sum.Quarantined),
		Fields:    map[string]string{"tier": string(policy.Tier)},
	})
	in.log().Info("ingest complete", "tier", policy.Tier, "accepted", sum.Accepted, "quarantined", sum.Quarantined)
	return sum, nil
}

func candidates(root string) ([]string, error) {
	clean := filepath.Clean(root)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("INGEST_ROOT: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("INGEST_ROOT: %s is not a directory", clean)
	}
	if _, err := os.Lstat(filepath.Join(clean, skill.PrimaryFile)); err == nil {
		return []string{clean}, nil
	}
	entries, err := os.ReadDir(clean)
	if err != nil {
		return nil, fmt.Errorf("INGEST_ROOT: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, filepath.Join(clean, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func (in *Ingester) screen(ctx context.Context, dir string, policy security.TrustTierPolicy) (Item, error) {
	item := Item{Path: dir, Name: filepath.Base(dir)}

	desc, err := ValidateSkillDir(dir)
	if err != nil {
		return in.quarantineInvalid(ctx, item, err)
	}
	item.Name = desc.Name

	content, _, err := ReadSkill(desc)
	if err != nil {
		if content == "" {
			return in.quarantineInvalid(ctx, item, err)
		}
		// Malformed but readable: still scan so a hostile file is not
		// filed as merely low quality.
		report := in.scanner().Scan(desc.Name, content, policy)
		if !report.Passed {
			return in.quarantineReport(ctx, item, desc, report, policy)
		}
		return in.quarantineInvalid(ctx, item, err)
	}

	report := in.scanner().Scan(desc.Name, content, policy)
	item.Report = &report
	if !report.Passed {
		return in.quarantineReport(ctx, item, desc, report, policy)
	}
	item.Outcome = OutcomeAccepted
	in.log().Debug("skill accepted", "skill", desc.Name, "score", report.RiskScore)
	return item, nil
}

func (in *Ingester) scanner() *security.Scanner {
	if in.Scanner == nil {
		return security.NewScanner()
	}
	return in.Scanner
}

func (in *Ingester) quarantineInvalid(ctx context.Context, item Item, cause error) (Item, error) {
	reason := "validation failed: " + shapeReason(cause)
	entry := quarantine.Entry{
		SkillID:          item.Name,
		Source:           "file://" + filepath.ToSlash(item.Path),
		QuarantineReason: reason,
		Severity:         quarantine.SeverityLowQuality,
		DetectedPatterns: []string{"validation"},
	}
	return in.record(ctx, item, entry)
}

func (in *Ingester) quarantineReport(ctx context.Context, item Item, desc Descriptor, report security.ScanReport, policy security.TrustTierPolicy) (Item, error) {
	item.Report = &report
	entry := quarantine.EntryFromReport(desc.Name, "file://"+filepath.ToSlash(desc.RootPath), report, policy)
	return in.record(ctx, item, entry)
}

func (in *Ingester) record(ctx context.Context, item Item, entry quarantine.Entry) (Item, error) {
	item.Outcome = OutcomeQuarantined
	item.Severity = entry.Severity
	item.Reason = entry.QuarantineReason
	if in.Quarantine == nil {
		return item, errors.New("INGEST_QUARANTINE: no quarantine store configured")
	}
	saved, err := in.Quarantine.Create(ctx, entry)
	if err != nil {
		return item, fmt.Errorf("INGEST_QUARANTINE: %s: %w", item.Name, err)
	}
	item.QuarantineID = saved.ID
	in.log().Info("skill quarantined", "skill", item.Name, "severity", entry.Severity, "id", saved.ID)
	_ = in.Audit.Log(audit.Event{
		Operation: "ingest",
		Phase:     "quarantine",
		Status:    audit.StatusRejected,
		Code:      string(entry.Severity),
		Fields:    map[string]string{"skill": item.Name, "id": saved.ID},
	})
	return item, nil
}

// shapeReason strips error codes and keeps the structural reason.
func shapeReason(err error) string {
	msg := err.Error()
	if errors.Is(err, skill.ErrInvalid) {
		switch {
		case strings.Contains(msg, "front-matter: "):
			return "front-matter is not valid YAML"
		case strings.Contains(msg, "invalid version"):
			return "version is not a valid semantic version"
		}
		return strings.TrimPrefix(msg, skill.ErrInvalid.Error()+": ")
	}
	if i := strings.Index(msg, ": "); i > 0 && strings.HasPrefix(msg, "INGEST_") {
		return msg[i+2:]
	}
	return msg
}
