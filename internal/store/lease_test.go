package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fastLease() LeaseOptions {
	return LeaseOptions{TTL: time.Minute, PollInterval: 5 * time.Millisecond, WaitTimeout: 2 * time.Second, Holder: "test"}
}

func TestAcquireAndReleaseLease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json.lock")
	lease, err := AcquireLease(context.Background(), path, fastLease())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	info, err := ReadLeaseInfo(path)
	if err != nil {
		t.Fatalf("read lease info: %v", err)
	}
	if info.Holder != "test" || info.Token != lease.Info().Token || info.PID != os.Getpid() {
		t.Fatalf("unexpected lease info %+v", info)
	}
	if err := lease.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed, stat err=%v", err)
	}
	if err := lease.Release(); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost on double release, got %v", err)
	}
}

func TestAcquireLeaseTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.lock")
	held, err := AcquireLease(context.Background(), path, fastLease())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	opts := fastLease()
	opts.WaitTimeout = 80 * time.Millisecond
	start := time.Now()
	_, err = AcquireLease(context.Background(), path, opts)
	if !errors.Is(err, ErrLeaseTimeout) {
		t.Fatalf("expected ErrLeaseTimeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("acquisition should be bounded, took %s", time.Since(start))
	}
}

func TestAcquireLeaseRemovesStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.lock")
	if err := os.WriteFile(path, []byte(`{"holder":"crashed"}`), 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	opts := LeaseOptions{TTL: time.Second, PollInterval: 50 * time.Millisecond, Holder: "fresh"}
	start := time.Now()
	lease, err := AcquireLease(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("expected stale lock to be taken over: %v", err)
	}
	defer lease.Release()
	if elapsed := time.Since(start); elapsed > opts.PollInterval+250*time.Millisecond {
		t.Fatalf("expected acquisition within one poll interval, took %s", elapsed)
	}
	info, err := ReadLeaseInfo(path)
	if err != nil || info.Holder != "fresh" {
		t.Fatalf("expected fresh holder, got %+v err=%v", info, err)
	}
}

func TestAcquireLeaseWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.lock")
	held, err := AcquireLease(context.Background(), path, fastLease())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Release()
	}()
	next, err := AcquireLease(context.Background(), path, fastLease())
	if err != nil {
		t.Fatalf("expected waiter to acquire after release: %v", err)
	}
	_ = next.Release()
}

func TestAcquireLeaseHonorsCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.lock")
	held, err := AcquireLease(context.Background(), path, fastLease())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := AcquireLease(ctx, path, fastLease()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLeaseRenew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.lock")
	lease, err := AcquireLease(context.Background(), path, fastLease())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	old := time.Now().Add(-30 * time.Second)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := lease.Renew(); err != nil {
		t.Fatalf("renew: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if time.Since(st.ModTime()) > 5*time.Second {
		t.Fatalf("expected renewed mtime, got %s", st.ModTime())
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := lease.Renew(); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost after removal, got %v", err)
	}
}

func TestReleaseDoesNotRemoveForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.lock")
	lease, err := AcquireLease(context.Background(), path, fastLease())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"token":"someone-else"}`), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := lease.Release(); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("foreign lock must survive: %v", err)
	}
}

func TestLeaseStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.lock")
	exists, stale, err := LeaseStale(path, time.Second, time.Now())
	if err != nil || exists || stale {
		t.Fatalf("expected missing lock, got exists=%v stale=%v err=%v", exists, stale, err)
	}
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	exists, stale, err = LeaseStale(path, time.Second, time.Now().Add(time.Minute))
	if err != nil || !exists || !stale {
		t.Fatalf("expected stale lock, got exists=%v stale=%v err=%v", exists, stale, err)
	}
}
