package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("CONTEXT_SWEEP_INTERVAL")
	os.Unsetenv("CONTEXT_IDLE_THRESHOLD")

	cfg := Load()
	if cfg.Port != "3100" {
		t.Errorf("Expected default port 3100, got %s", cfg.Port)
	}
	if cfg.SweepInterval != time.Hour {
		t.Errorf("Expected hourly sweep, got %v", cfg.SweepInterval)
	}
	if cfg.IdleThreshold != time.Hour {
		t.Errorf("Expected one hour idle threshold, got %v", cfg.IdleThreshold)
	}
	if cfg.MaxConcurrent != 8 {
		t.Errorf("Expected default concurrency 8, got %d", cfg.MaxConcurrent)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONTEXT_IDLE_THRESHOLD", "15m")
	t.Setenv("CWM_SERVER", "cw.example.com")

	cfg := Load()
	if cfg.IdleThreshold != 15*time.Minute {
		t.Errorf("Expected 15m idle threshold, got %v", cfg.IdleThreshold)
	}
	if cfg.CWM.Server != "cw.example.com" {
		t.Errorf("Expected ambient server, got %s", cfg.CWM.Server)
	}
}

func TestLoadCredentialBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	data := `{"server":"cw.example.com","company":"acme","pubKey":"pk","privateKey":"sk","clientId":"cid"}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("Failed to write bundle: %v", err)
	}

	creds, err := LoadCredentialBundle(path)
	if err != nil {
		t.Fatalf("LoadCredentialBundle failed: %v", err)
	}
	if creds.Company != "acme" || creds.PrivateKey != "sk" {
		t.Errorf("Unexpected bundle contents: %+v", creds)
	}
}

func TestLoadCredentialBundleMissingFile(t *testing.T) {
	if _, err := LoadCredentialBundle(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("Expected an error for a missing bundle file")
	}
}

func TestLoadCredentialBundleBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte("not json"), 0600); err != nil {
		t.Fatalf("Failed to write bundle: %v", err)
	}
	if _, err := LoadCredentialBundle(path); err == nil {
		t.Fatal("Expected an error for malformed JSON")
	}
}
