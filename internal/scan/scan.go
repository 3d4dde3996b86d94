package scan

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"bindery/internal/ingest"
	"bindery/internal/textutil"
)

var (
	pageMarkerPattern = regexp.MustCompile(`(?i)(?:صفحة|Page)\s*[:\-]?\s*\d+`)
	footnotePattern   = regexp.MustCompile(`(?i)footnote|حاشية|\[\d+\]`)
)

var tocTokens = []string{"فهرس", "المحتويات", "جدول المحتويات", "باب"}

var metadataTokens = []string{"المؤلف", "تحقيق", "الناشر", "الطبعة", "حقوق"}

// metadataZoneFileCount bounds how many leading files count as the
// front-matter zone.
const metadataZoneFileCount = 2

// Signals carries the book-wide structural evidence used by the scorer.
type Signals struct {
	PageMarkers      []string `json:"page_markers"`
	RepeatedHeaders  []string `json:"repeated_headers"`
	RepeatedFooters  []string `json:"repeated_footers"`
	FootnoteMarkers  int      `json:"footnote_markers"`
	MetadataZoneHits int      `json:"metadata_zone_hits"`
	EmbeddedTOCHints []string `json:"embedded_toc_hints"`
}

// IsRepeatedRunningLine reports whether text recurs as a running header or
// footer across the book.
func (s *Signals) IsRepeatedRunningLine(text string) bool {
	if s == nil {
		return false
	}
	for _, header := range s.RepeatedHeaders {
		if header == text {
			return true
		}
	}
	for _, footer := range s.RepeatedFooters {
		if footer == text {
			return true
		}
	}
	return false
}

// VisibleText strips markup from one raw HTML line and collapses whitespace.
// Entities are decoded by the tokenizer.
func VisibleText(raw string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(raw))
	var builder strings.Builder
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			break
		}
		if tokenType == html.TextToken {
			builder.WriteString(tokenizer.Token().Data)
			builder.WriteByte(' ')
		}
	}
	return textutil.NormalizeText(builder.String())
}

// VisibleLines returns the non-empty visible text of each line in document
// order.
func VisibleLines(rawHTML string) []string {
	var lines []string
	for _, raw := range strings.Split(rawHTML, "\n") {
		if text := VisibleText(raw); text != "" {
			lines = append(lines, text)
		}
	}
	return lines
}

// ScanBook reads every source file and aggregates book-wide signals.
func ScanBook(files []string) (*Signals, error) {
	var (
		firstLines      []string
		lastLines       []string
		pageMarkers     = map[string]struct{}{}
		footnoteMarkers int
		metadataHits    int
		tocHints        = map[string]struct{}{}
	)

	for index, path := range files {
		rawHTML, _, err := ingest.ReadTextEncodingSafe(path)
		if err != nil {
			return nil, err
		}

		if lines := VisibleLines(rawHTML); len(lines) > 0 {
			firstLines = append(firstLines, lines[0])
			lastLines = append(lastLines, lines[len(lines)-1])
		}

		for _, marker := range pageMarkerPattern.FindAllString(rawHTML, -1) {
			pageMarkers[marker] = struct{}{}
		}
		footnoteMarkers += len(footnotePattern.FindAllString(rawHTML, -1))

		if index < metadataZoneFileCount {
			for _, token := range metadataTokens {
				if strings.Contains(rawHTML, token) {
					metadataHits++
				}
			}
		}
		for _, token := range tocTokens {
			if strings.Contains(rawHTML, token) {
				tocHints[filepath.Base(path)] = struct{}{}
				break
			}
		}
	}

	return &Signals{
		PageMarkers:      sortedKeys(pageMarkers),
		RepeatedHeaders:  repeatedLines(firstLines),
		RepeatedFooters:  repeatedLines(lastLines),
		FootnoteMarkers:  footnoteMarkers,
		MetadataZoneHits: metadataHits,
		EmbeddedTOCHints: sortedKeys(tocHints),
	}, nil
}

func repeatedLines(lines []string) []string {
	counts := make(map[string]int, len(lines))
	for _, line := range lines {
		counts[line]++
	}
	var repeated []string
	for line, count := range counts {
		if count > 1 {
			repeated = append(repeated, line)
		}
	}
	sort.Strings(repeated)
	return repeated
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
