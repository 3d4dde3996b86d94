package config

const (
	defaultFixturesRoot     = "fixtures/shamela_exports"
	defaultRunsRoot         = "runs"
	defaultCorpusRoot       = "corpus"
	defaultLogDir           = "~/.local/share/bindery/logs"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultMustNotPath      = "training/gold_snippets/must_not_heading.jsonl"
	defaultTrainSplitPath   = "training/gold_snippets/splits/train.jsonl"
	defaultHoldoutSplitPath = "training/gold_snippets/splits/holdout.jsonl"

	defaultVerifierBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultVerifierModel          = "google/gemini-3-flash-preview"
	defaultVerifierTimeoutSeconds = 60
	defaultVerifierMaxAttempts    = 3
	defaultVerifierBackoffMillis  = 250

	defaultMaxTitleLength    = 80
	defaultDecisionThreshold = 0.5
	defaultAmbiguousMargin   = 0.15

	defaultPlacementMinConfidence   = 0.55
	defaultPlacementAmbiguityMargin = 0.08
	defaultPlacementMaxCandidates   = 3
)

// Default cue token sets reproduce the vocabulary the scorer was tuned
// against (Shamela-style Arabic exports). Override per corpus in config.
var (
	defaultHeadingCues  = []string{"باب", "فصل", "كتاب", "مقدمة", "خاتمة"}
	defaultSubUnitCues  = []string{"فصل", "تنبيه", "مسألة"}
	defaultExerciseCues = []string{"أسئلة", "تمرين", "تطبيق", "تدريبات", "مسائل للتدريب"}
	defaultMetadataCues = []string{"المؤلف", "الناشر", "الطبعة"}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			FixturesRoot: defaultFixturesRoot,
			RunsRoot:     defaultRunsRoot,
			CorpusRoot:   defaultCorpusRoot,
			LogDir:       defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Scoring: Scoring{
			HeadingCues:       append([]string(nil), defaultHeadingCues...),
			SubUnitCues:       append([]string(nil), defaultSubUnitCues...),
			ExerciseCues:      append([]string(nil), defaultExerciseCues...),
			MetadataCues:      append([]string(nil), defaultMetadataCues...),
			MaxTitleLength:    defaultMaxTitleLength,
			DecisionThreshold: defaultDecisionThreshold,
			AmbiguousMargin:   defaultAmbiguousMargin,
			MustNotPath:       defaultMustNotPath,
		},
		Verifier: Verifier{
			Enabled:        false,
			BaseURL:        defaultVerifierBaseURL,
			Model:          defaultVerifierModel,
			TimeoutSeconds: defaultVerifierTimeoutSeconds,
			MaxAttempts:    defaultVerifierMaxAttempts,
			BackoffMillis:  defaultVerifierBackoffMillis,
		},
		Placement: Placement{
			MinConfidence:   defaultPlacementMinConfidence,
			AmbiguityMargin: defaultPlacementAmbiguityMargin,
			MaxCandidates:   defaultPlacementMaxCandidates,
		},
		QA: QA{
			MinimumRelativeReduction: 0,
			Strict:                   false,
			TrainSplitPath:           defaultTrainSplitPath,
			HoldoutSplitPath:         defaultHoldoutSplitPath,
		},
	}
}
