package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}

	if cfg.Server.StaticDir != "/opt/nlad/static" {
		t.Errorf("expected static_dir /opt/nlad/static, got %s", cfg.Server.StaticDir)
	}

	if cfg.NLA.StoragedSlots != 5 {
		t.Errorf("expected storaged_slots 5, got %d", cfg.NLA.StoragedSlots)
	}

	if cfg.NLA.MaxSlotsPerUser != 2 {
		t.Errorf("expected max_slots_per_user 2, got %d", cfg.NLA.MaxSlotsPerUser)
	}

	if cfg.NLA.SDHost == "" {
		t.Error("expected a non-empty default sd_host")
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/non/existent/path.json")
	if err != nil {
		t.Fatalf("expected no error for non-existent file, got %v", err)
	}

	// Should return default config
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
}

func TestSaveAndLoad(t *testing.T) {
	// Create temp directory
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	// Create config
	cfg := DefaultConfig()
	cfg.Server.Port = 9999
	cfg.Auth.JWTSecret = "test-secret"

	// Save
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	// Verify file exists
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	// Load
	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", loaded.Server.Port)
	}

	if loaded.Auth.JWTSecret != "test-secret" {
		t.Errorf("expected jwt secret 'test-secret', got %s", loaded.Auth.JWTSecret)
	}
}

func TestSaveAndLoadNLAConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.NLA.StoragedSlots = 10
	cfg.NLA.MinFileSize = 1024
	cfg.NLA.TestVersion = true

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.NLA.StoragedSlots != 10 {
		t.Errorf("expected storaged_slots 10, got %d", loaded.NLA.StoragedSlots)
	}
	if loaded.NLA.MinFileSize != 1024 {
		t.Errorf("expected min_file_size 1024, got %d", loaded.NLA.MinFileSize)
	}
	if !loaded.NLA.TestVersion {
		t.Error("expected test_version to be true after load")
	}
}
