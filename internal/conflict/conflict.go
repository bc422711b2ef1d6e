package conflict

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"skillgate/internal/fsutil"
	"skillgate/internal/store"
)

// Action is the caller's choice for handling local edits on reinstall.
type Action string

const (
	ActionNone      Action = ""
	ActionOverwrite Action = "overwrite"
	ActionMerge     Action = "merge"
	ActionCancel    Action = "cancel"
)

var (
	ErrNoAction     = errors.New("CONFLICT_UNRESOLVED: local changes detected and no conflict action chosen")
	ErrCancelled    = errors.New("CONFLICT_CANCELLED: reinstall cancelled by conflict action")
	ErrUnresolvable = errors.New("CONFLICT_MERGE: changes could not be merged automatically")
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionNone, ActionOverwrite, ActionMerge, ActionCancel:
		return a, nil
	default:
		return ActionNone, fmt.Errorf("CONFLICT_ACTION: unknown action %q (want overwrite, merge or cancel)", s)
	}
}

// Status describes how on-disk content relates to what was last installed.
type Status struct {
	Diverged     bool
	Missing      bool
	CurrentHash  string
	ExpectedHash string
}

// Detect compares current content with the hash recorded at install time.
func Detect(entry store.ManifestEntry, current string) Status {
	h := store.ContentHash(current)
	return Status{
		Diverged:     entry.OriginalContentHash != "" && h != entry.OriginalContentHash,
		CurrentHash:  h,
		ExpectedHash: entry.OriginalContentHash,
	}
}

// DetectFile reads path and runs Detect. A missing file is reported as
// Missing and not diverged.
func DetectFile(entry store.ManifestEntry, path string) (Status, string, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Status{Missing: true, ExpectedHash: entry.OriginalContentHash}, "", nil
		}
		return Status{}, "", err
	}
	return Detect(entry, string(blob)), string(blob), nil
}

// Input is the three texts a resolution is computed from. BaseKnown is false
// when the last-installed text is no longer available.
type Input struct {
	Base      string
	BaseKnown bool
	Local     string
	Upstream  string
}

// Resolution is the content to write and whether the local text must be
// backed up first.
type Resolution struct {
	Content string
	Backup  bool
	Merged  bool
}

// Resolve applies action to diverged content. It never picks a side on its
// own: no action, cancel and an unclean merge are all errors.
func Resolve(action Action, in Input) (Resolution, error) {
	switch action {
	case ActionOverwrite:
		return Resolution{Content: in.Upstream, Backup: true}, nil
	case ActionCancel:
		return Resolution{}, ErrCancelled
	case ActionMerge:
		if !in.BaseKnown {
			return Resolution{}, fmt.Errorf("%w: no baseline recorded for the installed version", ErrUnresolvable)
		}
		r := Merge3(in.Base, in.Local, in.Upstream)
		if !r.Clean {
			return Resolution{}, fmt.Errorf("%w: %d conflicting region(s)", ErrUnresolvable, r.Conflicts)
		}
		return Resolution{Content: r.Content, Backup: true, Merged: true}, nil
	default:
		return Resolution{}, ErrNoAction
	}
}

// Backup writes content to a timestamped file under dir and returns its path.
func Backup(dir, name, content string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("CONFLICT_BACKUP: %w", err)
	}
	stamp := now.UTC().Format(backupStamp)
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.md", name, stamp))
	if err := fsutil.AtomicWrite(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("CONFLICT_BACKUP: %w", err)
	}
	return path, nil
}

const backupStamp = "20060102T150405.000000000Z"

// ListBackups returns the backup files for name, oldest first. Files of
// other skills whose names share the prefix are not matched.
func ListBackups(dir, name string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("CONFLICT_BACKUP_LIST: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stamp, ok := strings.CutPrefix(e.Name(), name+"-")
		if !ok {
			continue
		}
		stamp, ok = strings.CutSuffix(stamp, ".md")
		if !ok {
			continue
		}
		if _, err := time.Parse(backupStamp, stamp); err != nil {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	// Fixed-width stamps sort chronologically.
	sort.Strings(out)
	return out, nil
}
