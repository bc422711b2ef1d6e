package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"skillgate/internal/fsutil"
	"skillgate/internal/security"
	"skillgate/internal/skill"
	"skillgate/internal/source"
	"skillgate/internal/store"
)

const fanOut = 4

type stagedFile struct {
	rel  string
	data []byte
}

type companion struct {
	name    string
	content string
	skipped bool
}

// fetchCompanions fetches the optional files next to SKILL.md. Each file is
// scanned on its own; a file that is missing is dropped, and one that fails
// to fetch or fails its scan is reported as skipped. No companion outcome
// fails the install.
func (s *Service) fetchCompanions(ctx context.Context, loc source.Locator, doc skill.Document, id string, policy security.TrustTierPolicy, skipScan bool) []companion {
	names := doc.Companions()
	results := make([]*companion, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			content, err := s.Fetcher.Fetch(gctx, loc, name)
			if errors.Is(err, source.ErrNotFound) {
				return nil
			}
			if err != nil {
				s.log().Debug("companion fetch failed", "file", name, "err", err)
				results[i] = &companion{name: name, skipped: true}
				return nil
			}
			if !skipScan {
				if report := s.scanner().Scan(id+":"+name, content, policy); !report.Passed {
					s.log().Debug("companion failed scan", "file", name, "score", report.RiskScore)
					results[i] = &companion{name: name, skipped: true}
					return nil
				}
			}
			results[i] = &companion{name: name, content: content}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]companion, 0, len(results))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// collides reports whether name would clash with a required file: the same
// path ignoring case, or one being a directory of the other.
func collides(name string, files []stagedFile) bool {
	key := strings.ToLower(name)
	for _, f := range files {
		other := strings.ToLower(f.rel)
		if key == other || strings.HasPrefix(key, other+"/") || strings.HasPrefix(other, key+"/") {
			return true
		}
	}
	return false
}

// commitFiles writes files into a fresh staging directory and renames it over
// the install directory. Until the final rename succeeds the install
// directory is untouched and every staged path is removed on return.
//
// required files fail the commit on any error. optional files are written
// afterwards, one at a time; one that cannot be written is removed and
// returned in skipped.
func (s *Service) commitFiles(ctx context.Context, name string, required, optional []stagedFile) (final string, written, skipped []string, err error) {
	rename := s.rename
	if rename == nil {
		rename = os.Rename
	}
	stagingRoot := store.StagingRoot(s.SkillsDir)
	stage := filepath.Join(stagingRoot, name+"-"+strconv.FormatInt(s.now().UnixNano(), 10))
	final, err = security.SafeJoin(s.SkillsDir, name)
	if err != nil {
		return "", nil, nil, err
	}

	// The staging root is shared by concurrent installs and is never removed.
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return "", nil, nil, fmt.Errorf("INS_STAGE_CREATE: %w", err)
	}
	j := fsutil.NewJournal(s.journalOpts...)
	defer func() {
		if err := j.Close(); err != nil {
			s.log().Warn("staging cleanup incomplete", "err", err)
		}
	}()
	if err := j.MkdirAll(stage, 0o755); err != nil {
		return "", nil, nil, fmt.Errorf("INS_STAGE_CREATE: %w", err)
	}
	// Optional files are journaled separately; the stage tree as a whole
	// goes on rollback.
	j.Track(stage)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for _, f := range required {
		f := f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dst, err := security.SafeJoin(stage, f.rel)
			if err != nil {
				return err
			}
			return j.WriteFile(dst, f.data, 0o644)
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, nil, fmt.Errorf("INS_STAGE_WRITE: %w", err)
	}

	for _, f := range optional {
		if err := ctx.Err(); err != nil {
			return "", nil, nil, fmt.Errorf("INS_STAGE_WRITE: %w", err)
		}
		if err := s.writeOptional(stage, f); err != nil {
			s.log().Debug("companion not written", "file", f.rel, "err", err)
			skipped = append(skipped, f.rel)
			continue
		}
		written = append(written, f.rel)
	}

	var displaced string
	if _, err := os.Lstat(final); err == nil {
		if err := security.ValidateNoSymlinkPath(s.SkillsDir, final); err != nil {
			return "", nil, nil, err
		}
		displaced = stage + ".prev"
		if err := rename(final, displaced); err != nil {
			return "", nil, nil, fmt.Errorf("INS_COMMIT_BACKUP: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", nil, nil, fmt.Errorf("INS_COMMIT_STAT: %w", err)
	}
	if err := rename(stage, final); err != nil {
		if displaced != "" {
			if rerr := rename(displaced, final); rerr != nil {
				return "", nil, nil, errors.Join(fmt.Errorf("INS_COMMIT_ATOMIC: %w", err), fmt.Errorf("INS_COMMIT_RESTORE: %w", rerr))
			}
		}
		return "", nil, nil, fmt.Errorf("INS_COMMIT_ATOMIC: %w", err)
	}
	j.Commit()

	if displaced != "" {
		if err := os.RemoveAll(displaced); err != nil {
			s.log().Warn("previous install not removed", "err", err)
		}
	}
	return final, written, skipped, nil
}

// writeOptional writes one optional file under its own journal so a failure
// removes only what that file created.
func (s *Service) writeOptional(stage string, f stagedFile) error {
	dst, err := security.SafeJoin(stage, f.rel)
	if err != nil {
		return err
	}
	cj := fsutil.NewJournal(s.journalOpts...)
	if err := cj.WriteFile(dst, f.data, 0o644); err != nil {
		if rerr := cj.Rollback(); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	cj.Commit()
	return nil
}
