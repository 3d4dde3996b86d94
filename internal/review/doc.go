// Package review implements the human approval gate between propose and
// apply.
//
// The gate fails closed: a proposed item with no decision blocks, and an
// edit decision without its edited payload blocks. Nothing reaches the
// canonical corpus without an explicit approve or edit recorded against it.
package review
