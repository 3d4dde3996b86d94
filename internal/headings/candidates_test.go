package headings

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeCandidateFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "0001.htm")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractCandidates(t *testing.T) {
	opts := testOptions()
	path := writeCandidateFile(t, `<p>سطر تمهيدي</p>
<p align="center"><b>باب الفعل الماضي</b></p>
<p>شرح الباب وما يتعلق به</p>
<p align="center">المؤلف: ابن مالك</p>
<p style="text-align: center">فصل في المجرد</p>`)

	candidates, err := opts.ExtractCandidates(path)
	if err != nil {
		t.Fatalf("ExtractCandidates failed: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("got %d candidates, want 3: %+v", len(candidates), candidates)
	}

	first := candidates[0]
	if first.Text != "باب الفعل الماضي" {
		t.Errorf("Text = %q", first.Text)
	}
	if first.Kind != KindTitle {
		t.Errorf("Kind = %s, want title", first.Kind)
	}
	if first.LineNo != 2 {
		t.Errorf("LineNo = %d, want 2", first.LineNo)
	}
	if first.ContextBefore != "سطر تمهيدي" {
		t.Errorf("ContextBefore = %q", first.ContextBefore)
	}
	if first.ContextAfter != "شرح الباب وما يتعلق به" {
		t.Errorf("ContextAfter = %q", first.ContextAfter)
	}
	if len(first.Signature) != 16 || len(first.CandidateID) != 20 {
		t.Errorf("unexpected id lengths: sig=%q id=%q", first.Signature, first.CandidateID)
	}

	if candidates[1].Kind != KindMetadata {
		t.Errorf("metadata line classified as %s", candidates[1].Kind)
	}
	if candidates[2].Kind != KindTitle {
		t.Errorf("styled cue line classified as %s", candidates[2].Kind)
	}
}

func TestExtractCandidatesSkipsPlainBody(t *testing.T) {
	opts := testOptions()
	path := writeCandidateFile(t, "<p>نص عادي بلا تنسيق</p>\n<p>سطر آخر</p>")

	candidates, err := opts.ExtractCandidates(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 0 {
		t.Errorf("expected no candidates for plain body, got %+v", candidates)
	}
}

func TestExtractCandidatesDeterministicIDs(t *testing.T) {
	opts := testOptions()
	content := `<p align="center">باب الهمزة</p>` + "\n<p>شرح</p>"
	pathA := writeCandidateFile(t, content)
	pathB := writeCandidateFile(t, content)

	a, err := opts.ExtractCandidates(pathA)
	if err != nil {
		t.Fatal(err)
	}
	b, err := opts.ExtractCandidates(pathB)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("extraction not deterministic across identical files:\n%+v\n%+v", a, b)
	}
}

func TestClassifyKindFootnote(t *testing.T) {
	opts := testOptions()
	if kind := opts.classifyKind(`<p class="footnote">[1] تعليق</p>`, "[1] تعليق"); kind != KindFootnote {
		t.Errorf("kind = %s, want footnote", kind)
	}
	if kind := opts.classifyKind("<p>حاشية المحقق</p>", "حاشية المحقق"); kind != KindFootnote {
		t.Errorf("kind = %s, want footnote", kind)
	}
}
