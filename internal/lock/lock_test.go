package lock

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquireSucceedsOnFreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.lock")
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer l.Release()
}

func TestSecondAcquireFailsWhileFirstHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.lock")
	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer first.Release()

	_, err = Acquire(path)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestAcquireSucceedsAgainAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.lock")
	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	second, err := Acquire(path)
	if err != nil {
		t.Fatalf("second acquire after release: %v", err)
	}
	defer second.Release()
}
