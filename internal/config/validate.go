package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateVerifier(); err != nil {
		return err
	}
	if err := c.validatePlacement(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.FixturesRoot) == "" {
		return errors.New("paths.fixtures_root must be set")
	}
	if strings.TrimSpace(c.Paths.RunsRoot) == "" {
		return errors.New("paths.runs_root must be set")
	}
	if strings.TrimSpace(c.Paths.CorpusRoot) == "" {
		return errors.New("paths.corpus_root must be set")
	}
	return nil
}

func (c *Config) validateScoring() error {
	if len(c.Scoring.HeadingCues) == 0 {
		return errors.New("scoring.heading_cues must not be empty")
	}
	if c.Scoring.MaxTitleLength <= 0 {
		return errors.New("scoring.max_title_length must be positive")
	}
	if c.Scoring.DecisionThreshold <= 0 || c.Scoring.DecisionThreshold >= 1 {
		return errors.New("scoring.decision_threshold must be inside (0,1)")
	}
	if c.Scoring.AmbiguousMargin < 0 || c.Scoring.AmbiguousMargin >= 0.5 {
		return errors.New("scoring.ambiguous_margin must be in [0,0.5)")
	}
	return nil
}

func (c *Config) validateVerifier() error {
	if !c.Verifier.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Verifier.APIKey) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/bindery/config.toml"
		}
		return fmt.Errorf("verifier.api_key is required when verifier.enabled is true. Set BINDERY_VERIFIER_API_KEY or edit %s (create with 'bindery config init')", defaultPath)
	}
	if strings.TrimSpace(c.Verifier.Model) == "" {
		return errors.New("verifier.model must be set when verifier.enabled is true")
	}
	if c.Verifier.MaxAttempts <= 0 {
		return errors.New("verifier.max_attempts must be positive")
	}
	if c.Verifier.BackoffMillis < 0 {
		return errors.New("verifier.backoff_millis must not be negative")
	}
	return nil
}

func (c *Config) validatePlacement() error {
	if c.Placement.MinConfidence < 0 || c.Placement.MinConfidence > 1 {
		return errors.New("placement.min_confidence must be between 0 and 1")
	}
	if c.Placement.AmbiguityMargin < 0 || c.Placement.AmbiguityMargin > 1 {
		return errors.New("placement.ambiguity_margin must be between 0 and 1")
	}
	if c.Placement.MaxCandidates <= 0 {
		return errors.New("placement.max_candidates must be positive")
	}
	return nil
}
