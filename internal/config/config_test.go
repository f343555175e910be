package config

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatal("Load() on empty dir succeeded")
	}
}

func TestLoadFile_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(`{"name":"demo"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Name != "demo" {
		t.Fatalf("Name: got %q", cfg.Name)
	}
	if cfg.Address != DefaultAddress {
		t.Fatalf("Address default: got %q", cfg.Address)
	}
	if cfg.Realtime.PrivateNamespace != "user" {
		t.Fatalf("PrivateNamespace default: got %q", cfg.Realtime.PrivateNamespace)
	}
	if cfg.Upload.MaxSizeMB != 10 {
		t.Fatalf("MaxSizeMB default: got %d", cfg.Upload.MaxSizeMB)
	}
	if cfg.Path() != path {
		t.Fatalf("Path(): got %q", cfg.Path())
	}
}

func TestLoadFile_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	os.WriteFile(path, []byte("{not-json"), 0600)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile() accepted invalid JSON")
	}
}

func TestSecretBytes_EnvWins(t *testing.T) {
	fileSecret := bytes.Repeat([]byte("f"), 32)
	envSecret := bytes.Repeat([]byte("e"), 32)

	cfg := New()
	cfg.Secret = base64.RawURLEncoding.EncodeToString(fileSecret)

	got, err := cfg.SecretBytes()
	if err != nil {
		t.Fatalf("SecretBytes() error: %v", err)
	}
	if !bytes.Equal(got, fileSecret) {
		t.Fatal("file secret not used")
	}

	t.Setenv(SecretEnv, base64.RawURLEncoding.EncodeToString(envSecret))
	got, err = cfg.SecretBytes()
	if err != nil {
		t.Fatalf("SecretBytes() error: %v", err)
	}
	if !bytes.Equal(got, envSecret) {
		t.Fatal("environment secret did not take precedence")
	}
}

func TestSecretBytes_Missing(t *testing.T) {
	cfg := New()
	if _, err := cfg.SecretBytes(); err == nil {
		t.Fatal("SecretBytes() without a secret succeeded")
	}
}

func TestTokenMaxAgeDuration(t *testing.T) {
	cfg := New()
	d, err := cfg.TokenMaxAgeDuration()
	if err != nil || d != DefaultTokenMaxAge {
		t.Fatalf("default: got %v, %v", d, err)
	}

	cfg.TokenMaxAge = "30m"
	d, err = cfg.TokenMaxAgeDuration()
	if err != nil || d != 30*time.Minute {
		t.Fatalf("parsed: got %v, %v", d, err)
	}

	cfg.TokenMaxAge = "never"
	if _, err := cfg.TokenMaxAgeDuration(); err == nil {
		t.Fatal("invalid duration accepted")
	}
}

func TestSaveTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)

	cfg := New()
	cfg.Name = "demo"
	cfg.Realtime.NATSURL = "nats://localhost:4222"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if loaded.Name != "demo" || loaded.Realtime.NATSURL != "nats://localhost:4222" {
		t.Fatalf("round-trip mismatch: %+v", loaded)
	}
}
