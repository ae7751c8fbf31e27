package creds

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "secret"))

	armored, err := store.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if armored == "hunter2" || strings.Contains(armored, "hunter2") {
		t.Error("password not encrypted")
	}

	password, err := store.Decrypt(armored)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if password != "hunter2" {
		t.Errorf("Decrypt() = %q, want the original password", password)
	}
}

func TestGeneratesKeyOnFirstUse(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", "secret")
	store := NewStore(keyPath)

	if _, err := store.Encrypt("hunter2"); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key file mode = %o, want 0600", perm)
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "AGE-SECRET-KEY-") {
		t.Errorf("key file content = %q", data)
	}
}

func TestKeyIsStable(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "secret")

	armored, err := NewStore(keyPath).Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// A second store over the same key file must decrypt the armored text.
	password, err := NewStore(keyPath).Decrypt(armored)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if password != "hunter2" {
		t.Errorf("Decrypt() = %q", password)
	}
}

func TestReplacedKeyFailsDecryption(t *testing.T) {
	dir := t.TempDir()

	armored, err := NewStore(filepath.Join(dir, "old")).Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := NewStore(filepath.Join(dir, "new")).Decrypt(armored); err == nil {
		t.Error("Decrypt() with a different key succeeded")
	}
}

func TestCorruptKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(keyPath, []byte("not a key\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(keyPath).Encrypt("hunter2"); err == nil {
		t.Error("Encrypt() with a corrupt key file succeeded")
	}
}

func TestCorruptArmoredText(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "secret"))
	if _, err := store.Decrypt("%%% not base64"); err == nil {
		t.Error("Decrypt() accepted malformed armored text")
	}
}
