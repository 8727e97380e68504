package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		LogDir:   "/var/lib/rustdist/log",
		Database: DatabaseConfig{Path: "/var/lib/rustdist/rust_versions.sqlite3"},
		Server:   ServerConfig{ListenAddr: ":9090"},
		Upstream: UpstreamConfig{
			BaseURL:             "https://mirror.example.org",
			FetchTimeoutSeconds: 30,
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Database.Path != original.Database.Path {
		t.Errorf("Database.Path = %q, want %q", got.Database.Path, original.Database.Path)
	}
	if got.Server.ListenAddr != ":9090" {
		t.Errorf("Server.ListenAddr = %q, want %q", got.Server.ListenAddr, ":9090")
	}
	if got.Upstream.BaseURL != original.Upstream.BaseURL {
		t.Errorf("Upstream.BaseURL = %q, want %q", got.Upstream.BaseURL, original.Upstream.BaseURL)
	}
	if got.Upstream.FetchTimeoutSeconds != 30 {
		t.Errorf("Upstream.FetchTimeoutSeconds = %d, want 30", got.Upstream.FetchTimeoutSeconds)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/rustdist")

	if cfg.LogDir != "/data/rustdist/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/rustdist/log")
	}
	if cfg.Database.Path != "/data/rustdist/rust_versions.sqlite3" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/data/rustdist/rust_versions.sqlite3")
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Upstream.BaseURL != "https://static.rust-lang.org" {
		t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, "https://static.rust-lang.org")
	}
	if cfg.Upstream.FetchTimeoutSeconds != 60 {
		t.Errorf("Upstream.FetchTimeoutSeconds = %d, want 60", cfg.Upstream.FetchTimeoutSeconds)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "rustdist.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "rustdist.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "rustdist.toml")
		cfg := NewConfig(dir)
		cfg.Server.ListenAddr = ":7171"

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Server.ListenAddr != ":7171" {
			t.Errorf("Server.ListenAddr = %q, want %q", got.Server.ListenAddr, ":7171")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/rustdist.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
