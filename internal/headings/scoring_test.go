package headings

import (
	"reflect"
	"testing"

	"bindery/internal/config"
	"bindery/internal/scan"
)

func testOptions() Options {
	return OptionsFromConfig(config.Default().Scoring)
}

func candidateWith(kind Kind, text string) Candidate {
	return Candidate{
		CandidateID: "cand-1",
		File:        "0001.htm",
		LineNo:      3,
		Text:        text,
		Kind:        kind,
		Signature:   "sig-1",
	}
}

func TestScoreTitleWithCueIsHeading(t *testing.T) {
	opts := testOptions()
	scored := opts.Score(candidateWith(KindTitle, "باب الفعل الماضي"), &scan.Signals{})

	// title_kind (0.35) + heading_cue (0.25) + title_length (0.10)
	if scored.Score != 0.7 {
		t.Errorf("Score = %v, want 0.7", scored.Score)
	}
	if !scored.IsHeading {
		t.Error("expected is_heading=true")
	}
	if scored.Level != 2 {
		t.Errorf("Level = %d, want 2", scored.Level)
	}
	want := []string{"title_kind", "heading_cue", "title_length"}
	if !reflect.DeepEqual(scored.Rationale, want) {
		t.Errorf("Rationale = %v, want %v", scored.Rationale, want)
	}
}

func TestScoreSubUnitCuePromotesLevel(t *testing.T) {
	opts := testOptions()
	scored := opts.Score(candidateWith(KindTitle, "فصل في المجرد"), &scan.Signals{})
	if !scored.IsHeading {
		t.Fatal("expected heading")
	}
	if scored.Level != 3 {
		t.Errorf("Level = %d, want 3 for sub-unit cue", scored.Level)
	}
}

func TestScoreRepeatedRunningHeaderPenalized(t *testing.T) {
	opts := testOptions()
	signals := &scan.Signals{RepeatedHeaders: []string{"كتاب الصرف"}}
	scored := opts.Score(candidateWith(KindTitle, "كتاب الصرف"), signals)

	// 0.35 + 0.25 + 0.10 - 0.50
	if scored.Score != 0.2 {
		t.Errorf("Score = %v, want 0.2", scored.Score)
	}
	if scored.IsHeading {
		t.Error("repeated running header must not be a heading")
	}
}

func TestScoreNonStructuralZonesPenalized(t *testing.T) {
	opts := testOptions()
	for _, kind := range []Kind{KindMetadata, KindFootnote, KindPagehead} {
		scored := opts.Score(candidateWith(kind, "الناشر دار الكتب"), &scan.Signals{})
		if scored.IsHeading {
			t.Errorf("kind %s must not score as heading, got %v", kind, scored.Score)
		}
	}
}

func TestScoreClampedToUnitInterval(t *testing.T) {
	opts := testOptions()
	scored := opts.Score(candidateWith(KindPagehead, "سطر عادي طويل"), &scan.Signals{})
	if scored.Score < 0 || scored.Score > 1 {
		t.Errorf("Score = %v outside [0,1]", scored.Score)
	}
}

func TestScoreDeterministic(t *testing.T) {
	opts := testOptions()
	candidate := candidateWith(KindTitle, "باب المضارع")
	signals := &scan.Signals{RepeatedFooters: []string{"ذيل"}}

	first := opts.Score(candidate, signals)
	second := opts.Score(candidate, signals)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("scoring not deterministic: %+v vs %+v", first, second)
	}
}

func TestIsAmbiguous(t *testing.T) {
	opts := testOptions()
	tests := []struct {
		score float64
		want  bool
	}{
		{0.5, true},
		{0.35, true},
		{0.65, true},
		{0.34, false},
		{0.7, false},
		{0.0, false},
	}
	for _, tt := range tests {
		if got := opts.IsAmbiguous(tt.score); got != tt.want {
			t.Errorf("IsAmbiguous(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}
