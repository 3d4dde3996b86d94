// Package config loads, normalizes, and validates bindery configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// BINDERY_VERIFIER_API_KEY. The Config type centralizes every knob the CLI
// and pipeline stages need: run directories, scoring cue tokens and
// thresholds, verifier connection settings, placement thresholds, and QA
// guardrail policy.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
