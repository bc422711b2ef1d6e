package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

var (
	ErrLeaseTimeout = errors.New("LOCK_TIMEOUT: timed out waiting for manifest lock")
	ErrLeaseLost    = errors.New("LOCK_LOST: lock no longer held by this process")
)

const (
	DefaultLeaseTTL          = 10 * time.Second
	DefaultLeasePollInterval = 100 * time.Millisecond
)

// LeaseOptions configure lock acquisition. A lock file whose mtime is older
// than TTL is treated as abandoned. WaitTimeout bounds acquisition and
// defaults to TTL.
type LeaseOptions struct {
	TTL          time.Duration
	PollInterval time.Duration
	WaitTimeout  time.Duration
	Holder       string
	Now          func() time.Time
}

func (o LeaseOptions) withDefaults() LeaseOptions {
	if o.TTL <= 0 {
		o.TTL = DefaultLeaseTTL
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultLeasePollInterval
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = o.TTL
	}
	if o.Holder == "" {
		o.Holder = defaultHolder()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// LeaseInfo is the advisory content of a lock file. Only the file's
// existence and mtime decide ownership; Token lets a holder recognise its
// own lock on Renew and Release.
type LeaseInfo struct {
	Token      string    `json:"token"`
	Holder     string    `json:"holder"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Lease is a held advisory lock file.
type Lease struct {
	path string
	info LeaseInfo
	now  func() time.Time
}

var errLockHeld = errors.New("lock held")

// AcquireLease creates path exclusively, polling every PollInterval until
// WaitTimeout. A lock older than TTL is removed before the next attempt.
//
// Two waiters that both see the same stale lock can race: the slower one may
// remove the lock the faster one just created. Single-machine use keeps the
// window small, and it is not closed here.
func AcquireLease(ctx context.Context, path string, opts LeaseOptions) (*Lease, error) {
	opts = opts.withDefaults()
	info := LeaseInfo{
		Token:  uuid.NewString(),
		Holder: opts.Holder,
		PID:    os.Getpid(),
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.WaitTimeout)
	defer cancel()

	attempt := func() error {
		info.AcquiredAt = opts.Now().UTC()
		err := createLockFile(path, info)
		if err == nil {
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return backoff.Permanent(err)
		}
		if removeIfStale(path, opts.TTL, opts.Now()) {
			if err := createLockFile(path, info); err == nil {
				return nil
			} else if !errors.Is(err, os.ErrExist) {
				return backoff.Permanent(err)
			}
		}
		return errLockHeld
	}

	bo := backoff.WithContext(backoff.NewConstantBackOff(opts.PollInterval), waitCtx)
	if err := backoff.Retry(attempt, bo); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errLockHeld) {
			return nil, fmt.Errorf("%w after %s", ErrLeaseTimeout, opts.WaitTimeout)
		}
		return nil, fmt.Errorf("LOCK_ACQUIRE: %w", err)
	}
	return &Lease{path: path, info: info, now: opts.Now}, nil
}

func createLockFile(path string, info LeaseInfo) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	blob, _ := json.Marshal(info)
	_, werr := f.Write(blob)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return errors.Join(werr, cerr)
	}
	return nil
}

func removeIfStale(path string, ttl time.Duration, now time.Time) bool {
	st, err := os.Stat(path)
	if err != nil {
		return os.IsNotExist(err)
	}
	if now.Sub(st.ModTime()) <= ttl {
		return false
	}
	err = os.Remove(path)
	return err == nil || os.IsNotExist(err)
}

func (l *Lease) Path() string { return l.path }

func (l *Lease) Info() LeaseInfo { return l.info }

// Renew refreshes the lock's mtime so waiters do not consider it stale.
func (l *Lease) Renew() error {
	if err := l.owned(); err != nil {
		return err
	}
	now := l.now()
	if err := os.Chtimes(l.path, now, now); err != nil {
		return fmt.Errorf("LOCK_RENEW: %w", err)
	}
	return nil
}

// Release removes the lock file if this lease still owns it. Releasing twice
// returns ErrLeaseLost.
func (l *Lease) Release() error {
	if err := l.owned(); err != nil {
		return err
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("LOCK_RELEASE: %w", err)
	}
	return nil
}

func (l *Lease) owned() error {
	current, err := ReadLeaseInfo(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrLeaseLost
		}
		return err
	}
	if current.Token != l.info.Token {
		return ErrLeaseLost
	}
	return nil
}

// ReadLeaseInfo decodes the advisory content of a lock file.
func ReadLeaseInfo(path string) (LeaseInfo, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return LeaseInfo{}, err
	}
	var info LeaseInfo
	if err := json.Unmarshal(blob, &info); err != nil {
		return LeaseInfo{}, fmt.Errorf("LOCK_PARSE: %w", err)
	}
	return info, nil
}

// LeaseStale reports whether a lock file exists and is older than ttl.
func LeaseStale(path string, ttl time.Duration, now time.Time) (exists, stale bool, err error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, now.Sub(st.ModTime()) > ttl, nil
}

func defaultHolder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
