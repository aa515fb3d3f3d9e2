// Package repair holds the optional LLM clean-up passes that run between
// transcription and translation.
//
// Corrector replaces misrecognized English tokens in a transcript. Repairer
// moves named entities that the sentence splitter cut across two lines
// back onto one line. Both apply only suggestions that pass local safety
// checks and report every suggestion, applied or skipped, as a changelog
// row so the caller can persist an audit trail.
package repair
