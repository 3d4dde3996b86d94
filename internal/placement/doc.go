// Package placement assigns chunks to registry topics by lexical similarity.
//
// Scoring is deliberately shallow: Jaccard overlap of unicode word tokens
// between the chunk and each topic's exemplars, weighted toward the heading.
// Anything uncertain (empty registry, weak top score, close runner-up) is
// routed to review rather than guessed, with the component similarities and
// overlapping tokens kept as evidence for the reviewer.
package placement
