package textutil

import (
	"regexp"
	"sort"
	"strings"
)

// tokenPattern matches runs of Unicode letters and digits. Arabic text carries
// no case, so lowering is a no-op there and harmless everywhere else.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// whitespacePattern collapses interior whitespace runs during normalization.
var whitespacePattern = regexp.MustCompile(`\s+`)

// invalidComponentPattern matches characters that are unsafe in a path segment
// on at least one supported platform.
var invalidComponentPattern = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

var windowsReservedNames = func() map[string]struct{} {
	names := []string{"CON", "PRN", "AUX", "NUL"}
	for i := 1; i <= 9; i++ {
		names = append(names, "COM"+string(rune('0'+i)), "LPT"+string(rune('0'+i)))
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}()

// Tokenize splits text into lowercase Unicode word tokens.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// TokenSet returns the unique tokens of text.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

// Jaccard computes set-overlap similarity between two token sets.
// Empty sets score zero.
func Jaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	smaller, larger := left, right
	if len(larger) < len(smaller) {
		smaller, larger = larger, smaller
	}
	var intersection int
	for token := range smaller {
		if _, ok := larger[token]; ok {
			intersection++
		}
	}
	union := len(left) + len(right) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Overlap returns the sorted tokens shared by both sets, capped at limit.
// A non-positive limit returns all shared tokens.
func Overlap(left, right map[string]struct{}, limit int) []string {
	shared := make([]string, 0, len(left))
	for token := range left {
		if _, ok := right[token]; ok {
			shared = append(shared, token)
		}
	}
	sort.Strings(shared)
	if limit > 0 && len(shared) > limit {
		shared = shared[:limit]
	}
	return shared
}

// NormalizeText removes zero-width joiners and non-breaking spaces, then
// collapses whitespace runs. Used wherever extracted text is compared against
// deny lists or prior runs.
func NormalizeText(value string) string {
	value = strings.ReplaceAll(value, "\u200c", " ")
	value = strings.ReplaceAll(value, "\u00a0", " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(value, " "))
}

// SanitizePathComponent returns a cross-platform-safe path component.
// Invalid characters become underscores, trailing dots and spaces are
// trimmed, and Windows reserved device names get a suffix.
func SanitizePathComponent(value string) string {
	cleaned := invalidComponentPattern.ReplaceAllString(value, "_")
	cleaned = strings.TrimRight(strings.TrimSpace(cleaned), ". ")
	if cleaned == "" {
		cleaned = "unnamed"
	}
	if _, reserved := windowsReservedNames[strings.ToUpper(cleaned)]; reserved {
		cleaned += "_"
	}
	return cleaned
}
