// Package textutil provides text helpers shared by the translation and
// alignment stages: sequence similarity, match normalization, punctuation
// stripping, and filename sanitization.
//
// SequenceRatio follows the Ratcliff/Obershelp "gestalt pattern matching"
// measure: twice the number of matched runes divided by the combined
// length, where matches are found by repeatedly taking the longest common
// block and recursing on both sides of it.
package textutil
