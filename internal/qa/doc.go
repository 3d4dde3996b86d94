// Package qa evaluates guardrails over a run before and after apply.
//
// The guardrails are structural, not semantic: anchor-miss reduction against
// a floor, a deny-list of lines that must never become headings, and
// false-positive rates over gold train and holdout splits. The package only
// collects violations; whether a violation is fatal is the caller's call
// (strict versus permissive mode).
package qa
