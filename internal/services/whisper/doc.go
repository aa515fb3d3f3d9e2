// Package whisper transcribes media with WhisperX and returns word-level
// timings for subtitle alignment.
//
// Audio is first extracted with ffmpeg to a 16 kHz mono WAV, then WhisperX
// runs through uvx and writes a JSON transcript next to it. Words that
// WhisperX leaves untimed (digits, symbols) inherit timing from their
// neighbours so every word carries a usable span.
package whisper
