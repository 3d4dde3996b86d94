// Package pipeline drives the scan, propose, approve, and apply stages for
// one book.
//
// Stages communicate only through artifacts on disk under the run directory,
// never through memory, so any stage can be re-run or audited in isolation.
// Nothing past propose is automatic: approve consumes reviewer decisions and
// fails closed, and apply refuses to touch the canonical corpus without an
// approved plan.
package pipeline
