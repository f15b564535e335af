package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("CSV_ROW_POLICY", "")
	t.Setenv("ANALYSIS_DIAL_ATTEMPTS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Upload.RowPolicy != "lenient" {
		t.Errorf("Upload.RowPolicy = %q, want lenient", cfg.Upload.RowPolicy)
	}
	if cfg.Analysis.DialAttempts != 3 {
		t.Errorf("Analysis.DialAttempts = %d, want 3", cfg.Analysis.DialAttempts)
	}
	if cfg.Extraction.Timeout != 30*time.Second {
		t.Errorf("Extraction.Timeout = %v, want 30s", cfg.Extraction.Timeout)
	}
	if cfg.Upload.MaxFileBytes != 20<<20 {
		t.Errorf("Upload.MaxFileBytes = %d, want %d", cfg.Upload.MaxFileBytes, 20<<20)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CSV_ROW_POLICY", "STRICT")
	t.Setenv("EXTRACTION_BACKOFF_MS", "250")
	t.Setenv("ANALYSIS_REQUEST_TIMEOUT", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Upload.RowPolicy != "strict" {
		t.Errorf("Upload.RowPolicy = %q, want strict", cfg.Upload.RowPolicy)
	}
	if cfg.Extraction.Backoff != 250*time.Millisecond {
		t.Errorf("Extraction.Backoff = %v, want 250ms", cfg.Extraction.Backoff)
	}
	if cfg.Analysis.RequestTimeout != 5*time.Second {
		t.Errorf("Analysis.RequestTimeout = %v, want 5s", cfg.Analysis.RequestTimeout)
	}
}

func TestLoad_InvalidNumberFallsBack(t *testing.T) {
	t.Setenv("EXTRACTION_ATTEMPTS", "three")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Extraction.Attempts != 3 {
		t.Errorf("Extraction.Attempts = %d, want default 3", cfg.Extraction.Attempts)
	}
}
