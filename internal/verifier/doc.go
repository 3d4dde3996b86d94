// Package verifier resolves ambiguous heading candidates with an advisory
// LLM check.
//
// Verification is strictly advisory: results never bypass the review gate.
// Responses are validated against a closed five-field schema before they are
// accepted, and accepted raw responses are cached keyed by candidate
// signature, model, and prompt hash, so a re-run over unchanged input never
// calls the provider twice for the same candidate.
package verifier
