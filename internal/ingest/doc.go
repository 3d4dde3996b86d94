// Package ingest builds source manifests for per-book HTML export
// directories.
//
// Exports arrive in inconsistent encodings: modern dumps are UTF-8 (with or
// without BOM) while older ones are Windows-1256. Reads fall back through
// that chain and record which encoding succeeded, so a manifest pins down
// exactly which bytes and which interpretation a run saw.
package ingest
