package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	// FixturesRoot holds per-book source exports: <fixtures>/<book_id>/*.htm
	FixturesRoot string `toml:"fixtures_root"`
	// RunsRoot receives per-run artifact directories.
	RunsRoot string `toml:"runs_root"`
	// CorpusRoot receives canonical chunks, topic projections, and the registry.
	CorpusRoot string `toml:"corpus_root"`
	LogDir     string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Scoring contains the deterministic heading scorer's cue tokens and
// thresholds. The weights themselves are fixed; the token sets and band
// boundaries are the tunable surface.
type Scoring struct {
	// HeadingCues mark a line as carrying top-level heading vocabulary.
	HeadingCues []string `toml:"heading_cues"`
	// SubUnitCues promote an accepted heading from level 2 to level 3.
	SubUnitCues []string `toml:"sub_unit_cues"`
	// ExerciseCues tag candidates with an exercise-family topic hint.
	ExerciseCues []string `toml:"exercise_cues"`
	// MetadataCues mark front-matter metadata lines (author, publisher, edition).
	MetadataCues []string `toml:"metadata_cues"`
	// MaxTitleLength is the short-title bonus cutoff in characters.
	MaxTitleLength int `toml:"max_title_length"`
	// DecisionThreshold is the is_heading cutoff on the [0,1] score.
	DecisionThreshold float64 `toml:"decision_threshold"`
	// AmbiguousMargin defines the band around the threshold that is eligible
	// for advisory verification.
	AmbiguousMargin float64 `toml:"ambiguous_margin"`
	// MustNotPath points at the deny-list of texts that must never become
	// headings without explicit approval (jsonl, one {text} per line).
	MustNotPath string `toml:"must_not_path"`
}

// Verifier contains connection settings for the advisory heading classifier.
type Verifier struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxAttempts    int    `toml:"max_attempts"`
	BackoffMillis  int    `toml:"backoff_millis"`
}

// Placement contains thresholds for the topic placement engine.
type Placement struct {
	MinConfidence   float64 `toml:"min_confidence"`
	AmbiguityMargin float64 `toml:"ambiguity_margin"`
	MaxCandidates   int     `toml:"max_candidates"`
}

// QA contains guardrail policy for the approve and apply stages.
type QA struct {
	// MinimumRelativeReduction is the anchor-miss improvement floor.
	MinimumRelativeReduction float64 `toml:"minimum_relative_reduction"`
	// Strict makes guardrail violations fatal (production mode). When false
	// they are reported in the run report only (development mode).
	Strict           bool   `toml:"strict"`
	TrainSplitPath   string `toml:"train_split_path"`
	HoldoutSplitPath string `toml:"holdout_split_path"`
}

// Config encapsulates all configuration values for bindery.
//
// Configuration sections by subsystem:
//   - Paths: fixtures, runs, corpus, and log directories
//   - Logging: log format and level
//   - Scoring: heading cue tokens, thresholds, deny-list location
//   - Verifier: advisory LLM connection, retry, and cache partitioning
//   - Placement: topic assignment confidence thresholds
//   - QA: guardrail strictness and gold split locations
type Config struct {
	Paths     Paths     `toml:"paths"`
	Logging   Logging   `toml:"logging"`
	Scoring   Scoring   `toml:"scoring"`
	Verifier  Verifier  `toml:"verifier"`
	Placement Placement `toml:"placement"`
	QA        QA        `toml:"qa"`
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/bindery/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return is
// the resolved path; the third reports whether a file was actually read.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("bindery.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.FixturesRoot, err = expandPath(c.Paths.FixturesRoot); err != nil {
		return fmt.Errorf("paths.fixtures_root: %w", err)
	}
	if c.Paths.RunsRoot, err = expandPath(c.Paths.RunsRoot); err != nil {
		return fmt.Errorf("paths.runs_root: %w", err)
	}
	if c.Paths.CorpusRoot, err = expandPath(c.Paths.CorpusRoot); err != nil {
		return fmt.Errorf("paths.corpus_root: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Scoring.MustNotPath, err = expandPath(c.Scoring.MustNotPath); err != nil {
		return fmt.Errorf("scoring.must_not_path: %w", err)
	}
	if c.QA.TrainSplitPath, err = expandPath(c.QA.TrainSplitPath); err != nil {
		return fmt.Errorf("qa.train_split_path: %w", err)
	}
	if c.QA.HoldoutSplitPath, err = expandPath(c.QA.HoldoutSplitPath); err != nil {
		return fmt.Errorf("qa.holdout_split_path: %w", err)
	}

	if c.Verifier.APIKey == "" {
		if value, ok := os.LookupEnv("BINDERY_VERIFIER_API_KEY"); ok {
			c.Verifier.APIKey = value
		}
	}
	// Model override partitions the verifier cache per advisory model.
	if value, ok := os.LookupEnv("BINDERY_VERIFIER_MODEL"); ok && strings.TrimSpace(value) != "" {
		c.Verifier.Model = strings.TrimSpace(value)
	}
	c.Verifier.BaseURL = strings.TrimSpace(c.Verifier.BaseURL)
	if c.Verifier.BaseURL == "" {
		c.Verifier.BaseURL = defaultVerifierBaseURL
	}
	c.Verifier.Model = strings.TrimSpace(c.Verifier.Model)
	if c.Verifier.Model == "" {
		c.Verifier.Model = defaultVerifierModel
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

// EnsureDirectories creates the directories a run needs.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RunsRoot, c.Paths.CorpusRoot, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ExpandPath resolves a leading ~ and returns a cleaned absolute path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the embedded sample configuration to path.
func CreateSample(path string) error {
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
