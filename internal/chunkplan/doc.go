// Package chunkplan derives chunk boundaries from proposed heading lines.
//
// Only lines matching the strict markdown anchor form (two to six hash marks
// followed by whitespace) become boundaries. Every boundary carries a
// content-derived anchor id, so the same book lines always plan the same
// chunks. Plans are proposals: they carry approval_required=true and must
// pass the review gate before apply acts on them.
package chunkplan
