// Package language normalizes the BCP 47 tags used in configuration.
//
// ISO2 yields the two-letter code transcription tools take; DisplayName
// yields the English name used in translation prompts.
package language
