// Package registry is the versioned corpus store backed by SQLite.
//
// A single writer is enforced with a file lock next to the database; chunk
// versions are append-only, with supersession recorded as lineage links
// rather than mutation. Topic ids are allocated monotonically and survive
// restarts because the allocator re-seeds from the highest existing id on
// open. Every public operation runs in one transaction.
package registry
