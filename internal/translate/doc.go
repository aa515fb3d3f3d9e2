// Package translate turns a list of source sentences into target-language
// subtitle lines through the LLM call client.
//
// Sentences are packed into chunks under a character budget, each chunk is
// translated with the previous and next chunk as context, and the results
// are matched back to their chunks by text similarity so concurrent workers
// can finish in any order. Two modes are supported: single_pass asks for a
// faithful and a free rendering in one request, two_pass asks for the
// faithful rendering first and refines it in a second request. Single-pass
// runs may be followed by a whole-document polish, and lines that would be
// on screen too briefly to read can be trimmed afterwards.
package translate
