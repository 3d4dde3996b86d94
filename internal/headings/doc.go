// Package headings extracts heading candidates from HTML exports and scores
// them deterministically.
//
// Extraction keys candidates to a content-derived signature so re-runs on
// identical input produce identical ids. Scoring is a pure additive function
// of one candidate plus book-wide scan signals; it has no I/O and is
// order-independent across candidates. Candidates whose score falls inside
// the ambiguous band around the decision threshold are eligible for
// advisory verification, but every suggestion remains review-gated.
package headings
