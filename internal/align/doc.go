// Package align recovers sentence timing from a word-level transcript.
//
// Words and sentences are normalized the same way (NFKC, lower case,
// punctuation and spaces removed) and each sentence is located by an exact
// forward search from the end of the previous match. The window of a
// sentence runs from the start of its first word to the end of its last.
package align
