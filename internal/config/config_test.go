package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.toml")
	cfg, resolved, exists, err := Load(missing)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Error("expected exists=false for missing config file")
	}
	if resolved != missing {
		t.Errorf("resolved path = %q, want %q", resolved, missing)
	}
	if cfg.Placement.MinConfidence != defaultPlacementMinConfidence {
		t.Errorf("MinConfidence = %v, want default %v", cfg.Placement.MinConfidence, defaultPlacementMinConfidence)
	}
	if len(cfg.Scoring.HeadingCues) == 0 {
		t.Error("expected default heading cues")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
fixtures_root = "` + filepath.Join(dir, "books") + `"
runs_root = "` + filepath.Join(dir, "runs") + `"
corpus_root = "` + filepath.Join(dir, "corpus") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[placement]
min_confidence = 0.7
ambiguity_margin = 0.05
max_candidates = 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be read")
	}
	if cfg.Placement.MinConfidence != 0.7 {
		t.Errorf("MinConfidence = %v, want 0.7", cfg.Placement.MinConfidence)
	}
	if cfg.Placement.MaxCandidates != 5 {
		t.Errorf("MaxCandidates = %v, want 5", cfg.Placement.MaxCandidates)
	}
	// Untouched sections keep defaults.
	if cfg.Verifier.BaseURL != defaultVerifierBaseURL {
		t.Errorf("BaseURL = %q, want default", cfg.Verifier.BaseURL)
	}
}

func TestVerifierModelEnvOverride(t *testing.T) {
	t.Setenv("BINDERY_VERIFIER_MODEL", "anthropic/claude-sonnet")
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if cfg.Verifier.Model != "anthropic/claude-sonnet" {
		t.Errorf("Model = %q, want env override", cfg.Verifier.Model)
	}
}

func TestValidateRejectsEnabledVerifierWithoutKey(t *testing.T) {
	cfg := Default()
	cfg.Verifier.Enabled = true
	cfg.Verifier.APIKey = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for enabled verifier without api key")
	}
	if !strings.Contains(err.Error(), "verifier.api_key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Default()
	cfg.Scoring.DecisionThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for decision_threshold outside (0,1)")
	}

	cfg = Default()
	cfg.Placement.MaxCandidates = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for max_candidates = 0")
	}
}

func TestSampleConfigEmbedded(t *testing.T) {
	if !strings.Contains(SampleConfig(), "[verifier]") {
		t.Error("sample config should contain a [verifier] section")
	}
}
