// Package textutil provides text processing utilities for tokenization,
// set similarity, and path-segment sanitization.
//
// The primary use cases are:
//   - Tokenizing chunk headings and bodies for lexical comparison
//   - Computing Jaccard similarity between token sets
//   - Normalizing extracted HTML text for stable comparisons
//   - Sanitizing topic titles and book ids for safe filesystem use
//
// Tokenization is Unicode-aware: Arabic script and Latin script both produce
// tokens, lowercased where lowercasing applies.
package textutil
