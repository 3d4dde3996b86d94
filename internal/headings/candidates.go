package headings

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"bindery/internal/ingest"
	"bindery/internal/scan"
)

// Kind classifies the structural zone a candidate line sits in.
type Kind string

const (
	KindTitle    Kind = "title"
	KindMetadata Kind = "metadata"
	KindFootnote Kind = "footnote"
	KindPagehead Kind = "pagehead"
	KindBody     Kind = "body"
)

// Candidate is one structurally title-ish line, immutable once extracted.
type Candidate struct {
	CandidateID   string `json:"candidate_id"`
	File          string `json:"file"`
	LineNo        int    `json:"line_no"`
	Text          string `json:"text"`
	Kind          Kind   `json:"kind"`
	Signature     string `json:"signature"`
	ContextBefore string `json:"context_before"`
	ContextAfter  string `json:"context_after"`
	HTMLExcerpt   string `json:"html_excerpt"`
}

const (
	signatureSeedTextLimit = 120
	htmlExcerptLimit       = 240
)

// ExtractCandidates walks one source file line by line and returns every
// title-ish line as a candidate. Deterministic for identical file bytes.
func (o Options) ExtractCandidates(path string) ([]Candidate, error) {
	rawHTML, _, err := ingest.ReadTextEncodingSafe(path)
	if err != nil {
		return nil, err
	}

	rawLines := strings.Split(rawHTML, "\n")
	stripped := make([]string, len(rawLines))
	for i, raw := range rawLines {
		stripped[i] = scan.VisibleText(raw)
	}

	fileName := filepath.Base(path)
	var candidates []Candidate
	for index, raw := range rawLines {
		text := stripped[index]
		if text == "" {
			continue
		}
		if !o.titleish(raw, text) {
			continue
		}

		seed := fmt.Sprintf("%s|%d|%s", fileName, index, truncateRunes(text, signatureSeedTextLimit))
		candidate := Candidate{
			CandidateID: shortHash("cand|"+seed, 20),
			File:        fileName,
			LineNo:      index + 1,
			Text:        text,
			Kind:        o.classifyKind(raw, text),
			Signature:   shortHash(seed, 16),
			HTMLExcerpt: truncateRunes(strings.TrimSpace(raw), htmlExcerptLimit),
		}
		if index > 0 {
			candidate.ContextBefore = stripped[index-1]
		}
		if index+1 < len(stripped) {
			candidate.ContextAfter = stripped[index+1]
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// titleish reports whether a raw line deserves candidate extraction: styled
// as a title, or carrying heading vocabulary.
func (o Options) titleish(raw, text string) bool {
	low := strings.ToLower(raw)
	if strings.Contains(low, `align="center"`) {
		return true
	}
	if strings.Contains(strings.ReplaceAll(low, " ", ""), "text-align:center") {
		return true
	}
	for _, tag := range []string{"<b", "<strong", "partname", "title"} {
		if strings.Contains(low, tag) {
			return true
		}
	}
	return containsAny(text, o.HeadingCues)
}

func (o Options) classifyKind(raw, text string) Kind {
	low := strings.ToLower(raw)
	switch {
	case strings.Contains(low, "footnote") || strings.Contains(text, "حاشية"):
		return KindFootnote
	case strings.Contains(low, "pagehead") || strings.Contains(low, "pagenumber"):
		return KindPagehead
	case containsAny(text, o.MetadataCues):
		return KindMetadata
	case containsAny(text, o.HeadingCues):
		return KindTitle
	default:
		return KindBody
	}
}

func containsAny(text string, tokens []string) bool {
	for _, token := range tokens {
		if token != "" && strings.Contains(text, token) {
			return true
		}
	}
	return false
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func shortHash(seed string, hexLen int) string {
	digest := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(digest[:])[:hexLen]
}
