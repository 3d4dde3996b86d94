// Package scan derives book-wide structural signals from raw HTML exports.
//
// The signals feed the heading scorer: text that repeats as the first or
// last visible line of many files is a running header/footer, not a
// heading; dense footnote markers and metadata-zone hits lower confidence
// in structurally ambiguous candidates. Scanning is read-only and
// deterministic for identical input bytes.
package scan
