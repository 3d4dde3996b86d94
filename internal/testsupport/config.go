package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bindery/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Guardrail data paths start empty so tests opt in explicitly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.FixturesRoot = filepath.Join(base, "fixtures")
	cfgVal.Paths.RunsRoot = filepath.Join(base, "runs")
	cfgVal.Paths.CorpusRoot = filepath.Join(base, "corpus")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Scoring.MustNotPath = ""
	cfgVal.QA.TrainSplitPath = ""
	cfgVal.QA.HoldoutSplitPath = ""
	cfgVal.Verifier.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDenyList writes the texts as a must-not-heading JSONL file and points
// the scoring config at it.
func WithDenyList(texts ...string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "must_not_heading.jsonl")
		var lines strings.Builder
		for _, text := range texts {
			lines.WriteString(`{"text":` + quoteJSON(text) + "}\n")
		}
		if err := os.WriteFile(path, []byte(lines.String()), 0o644); err != nil {
			b.t.Fatalf("write deny list: %v", err)
		}
		b.cfg.Scoring.MustNotPath = path
	}
}

// WithGoldSplits writes train and holdout negative snippet files and points
// the QA config at them.
func WithGoldSplits(trainNegatives, holdoutNegatives []string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.QA.TrainSplitPath = writeSplit(b.t, b.baseDir, "train.jsonl", trainNegatives)
		b.cfg.QA.HoldoutSplitPath = writeSplit(b.t, b.baseDir, "holdout.jsonl", holdoutNegatives)
	}
}

// WithStrictQA makes guardrail violations fatal, as in production.
func WithStrictQA() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.QA.Strict = true
	}
}

func writeSplit(t testing.TB, baseDir, name string, negatives []string) string {
	t.Helper()
	path := filepath.Join(baseDir, name)
	var lines strings.Builder
	for _, text := range negatives {
		lines.WriteString(`{"text":` + quoteJSON(text) + `,"label":"negative"}` + "\n")
	}
	if err := os.WriteFile(path, []byte(lines.String()), 0o644); err != nil {
		t.Fatalf("write gold split %s: %v", name, err)
	}
	return path
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.FixturesRoot)
}
