package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadDefaults(t *testing.T) {
	cfg, err := Read(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Server.StudipBase != "https://studip.uni-passau.de" {
		t.Errorf("studip base = %q", cfg.Server.StudipBase)
	}
	if cfg.Server.SSOBase != "https://sso.uni-passau.de" {
		t.Errorf("sso base = %q", cfg.Server.SSOBase)
	}
	if cfg.Update.Concurrency != 4 {
		t.Errorf("concurrency = %d, want 4", cfg.Update.Concurrency)
	}
}

func TestReadPartialOverride(t *testing.T) {
	doc := `
[server]
studip_base = "https://studip.example"

[update]
concurrency = 8
`
	cfg, err := Read(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Server.StudipBase != "https://studip.example" {
		t.Errorf("studip base = %q", cfg.Server.StudipBase)
	}
	if cfg.Server.SSOBase != "https://sso.uni-passau.de" {
		t.Errorf("sso base lost its default: %q", cfg.Server.SSOBase)
	}
	if cfg.Update.Concurrency != 8 {
		t.Errorf("concurrency = %d, want 8", cfg.Update.Concurrency)
	}
}

func TestReadClampsConcurrency(t *testing.T) {
	cfg, err := Read(strings.NewReader("[update]\nconcurrency = 0\n"))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Update.Concurrency != 1 {
		t.Errorf("concurrency = %d, want clamped to 1", cfg.Update.Concurrency)
	}
}

func TestReadInvalid(t *testing.T) {
	if _, err := Read(strings.NewReader("[server\n")); err == nil {
		t.Error("Read() accepted malformed input")
	}
}

func TestRoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Server.StudipBase = "https://studip.example"
	cfg.Update.Concurrency = 2
	cfg.Login.SaveLogin = "password"
	cfg.Login.UserName = "maier"
	cfg.Login.Password = "YWdlLWNpcGhlcnRleHQ="

	var buf bytes.Buffer
	if err := Write(&buf, cfg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if *got != *cfg {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".studip", "studip.toml")

	cfg, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() on missing file error = %v", err)
	}
	if *cfg != *NewConfig() {
		t.Errorf("missing file yielded %+v, want defaults", cfg)
	}

	cfg.Login.UserName = "maier"
	if err := WriteToFile(path, cfg); err != nil {
		t.Fatalf("WriteToFile() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file mode = %o, want 0600", perm)
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if *got != *cfg {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
}
