// Package runs manages per-run working directories and run state.
//
// Every stage writes its artifacts under runs/<run_id>/<book_id>/artifacts
// and records the resulting state in run_state.json, so a run can always be
// inspected or resumed from disk alone.
package runs
