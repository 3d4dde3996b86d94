// Package main hosts the bindery CLI entrypoint and command graph.
//
// The Cobra-based command tree drives the book review pipeline: scan digitized
// exports, propose heading injections, resolve reviewer decisions, and apply
// approved plans to the corpus registry. It centralizes configuration
// resolution and structured logging setup so subcommands can focus on user
// experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
