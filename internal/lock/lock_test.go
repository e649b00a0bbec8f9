package lock

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/boshu2/patchrunner/internal/types"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am_patch.lock")
	now := time.Now()

	l, err := Acquire(path, types.OnConflictFail, 0, now)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Re-acquiring after release must succeed.
	l2, err := Acquire(path, types.OnConflictFail, 0, now)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	defer l2.Release()
}

func TestAcquireFailsOnConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am_patch.lock")
	now := time.Now()

	l, err := Acquire(path, types.OnConflictFail, 0, now)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	_, err = Acquire(path, types.OnConflictFail, 0, now)
	if err == nil {
		t.Fatal("expected second acquire to fail under on_conflict=fail")
	}
}

func TestAcquireStealsAfterTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am_patch.lock")
	start := time.Now()

	l, err := Acquire(path, types.OnConflictFail, 0, start)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_ = l // leave the lockfile in place to simulate a crashed holder

	later := start.Add(time.Hour)
	l2, err := Acquire(path, types.OnConflictSteal, time.Minute, later)
	if err != nil {
		t.Fatalf("expected steal to succeed after TTL: %v", err)
	}
	defer l2.Release()
}

func TestAcquireStealRefusesBeforeTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am_patch.lock")
	start := time.Now()

	l, err := Acquire(path, types.OnConflictFail, 0, start)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	soon := start.Add(time.Second)
	if _, err := Acquire(path, types.OnConflictSteal, time.Hour, soon); err == nil {
		t.Fatal("expected steal to fail before TTL elapses")
	}
}
