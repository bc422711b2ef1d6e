package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"skillgate/internal/fsutil"
)

var ErrBaselineNotFound = errors.New("baseline not found")

// ContentHash returns the canonical digest string for content, e.g.
// "sha256:ab12...".
func ContentHash(content string) string {
	return digest.FromString(content).String()
}

// BaselineStore keeps content-addressed copies of every primary file this
// tool wrote, keyed by ContentHash. They are the base text for three-way
// merges.
type BaselineStore struct {
	root string
}

func NewBaselineStore(root string) *BaselineStore {
	return &BaselineStore{root: root}
}

func (b *BaselineStore) Root() string { return b.root }

func (b *BaselineStore) blobPath(d digest.Digest) string {
	return filepath.Join(b.root, d.Algorithm().String(), d.Encoded())
}

// Put stores content and returns its digest. Storing the same content twice
// is a no-op.
func (b *BaselineStore) Put(content string) (digest.Digest, error) {
	d := digest.FromString(content)
	path := b.blobPath(d)
	if _, err := os.Stat(path); err == nil {
		return d, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("writing baseline: %w", err)
	}
	if err := fsutil.AtomicWrite(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing baseline: %w", err)
	}
	return d, nil
}

// Get returns the content stored under hash and verifies it still matches.
func (b *BaselineStore) Get(hash string) (string, error) {
	d, err := digest.Parse(hash)
	if err != nil {
		return "", fmt.Errorf("invalid baseline digest %q: %w", hash, err)
	}
	blob, err := os.ReadFile(b.blobPath(d))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrBaselineNotFound, d)
		}
		return "", fmt.Errorf("reading baseline: %w", err)
	}
	v := d.Verifier()
	_, _ = v.Write(blob)
	if !v.Verified() {
		return "", fmt.Errorf("baseline %s is corrupt", d)
	}
	return string(blob), nil
}

// Prune removes every baseline whose digest is not in keep.
func (b *BaselineStore) Prune(keep map[string]struct{}) (int, error) {
	removed := 0
	algos, err := os.ReadDir(b.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	for _, algo := range algos {
		if !algo.IsDir() {
			continue
		}
		dir := filepath.Join(b.root, algo.Name())
		blobs, err := os.ReadDir(dir)
		if err != nil {
			return removed, err
		}
		for _, blob := range blobs {
			key := algo.Name() + ":" + blob.Name()
			if _, ok := keep[key]; ok {
				continue
			}
			if err := os.Remove(filepath.Join(dir, blob.Name())); err != nil && !os.IsNotExist(err) {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
