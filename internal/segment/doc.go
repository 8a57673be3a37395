// Package segment turns chapter text into ordered synthesis segments.
//
// The splitter is markdown-aware: formatting is stripped, headings and
// list items become their own segments, and sentence boundaries survive
// abbreviations, decimals, and ellipses. The core pipeline never
// depends on this package; only the command wiring does.
package segment
