package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveSyncDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))

	dirA := filepath.Join(tmp, "uni-a")
	dirB := filepath.Join(tmp, "uni-b")

	if _, err := ResolveSyncDir(""); err == nil {
		t.Fatal("ResolveSyncDir() with empty history succeeded")
	}

	got, err := ResolveSyncDir(dirA)
	if err != nil {
		t.Fatalf("ResolveSyncDir() error = %v", err)
	}
	if got != dirA {
		t.Errorf("ResolveSyncDir() = %q, want %q", got, dirA)
	}

	// Without an argument the most recent directory wins.
	got, err = ResolveSyncDir("")
	if err != nil {
		t.Fatalf("ResolveSyncDir() error = %v", err)
	}
	if got != dirA {
		t.Errorf("ResolveSyncDir() = %q, want remembered %q", got, dirA)
	}

	if _, err := ResolveSyncDir(dirB); err != nil {
		t.Fatalf("ResolveSyncDir() error = %v", err)
	}
	if _, err := ResolveSyncDir(dirA); err != nil {
		t.Fatalf("ResolveSyncDir() error = %v", err)
	}

	path, err := historyPath()
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := dirA + "\n" + dirB + "\n"; string(data) != want {
		t.Errorf("history = %q, want %q", data, want)
	}

	got, err = ResolveSyncDir("")
	if err != nil {
		t.Fatalf("ResolveSyncDir() error = %v", err)
	}
	if got != dirA {
		t.Errorf("ResolveSyncDir() = %q, want most recent %q", got, dirA)
	}
}

func TestResolveSyncDirRelative(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(tmp); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})

	got, err := ResolveSyncDir("courses")
	if err != nil {
		t.Fatalf("ResolveSyncDir() error = %v", err)
	}
	if want := filepath.Join(tmp, "courses"); got != want {
		t.Errorf("ResolveSyncDir() = %q, want %q", got, want)
	}
}
