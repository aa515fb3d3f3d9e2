// Package subtitles renders aligned source and translated lines as SRT and
// ASS subtitle files.
//
// A run produces four SRT files (source only, translation only, and both
// bilingual orders) plus an ASS file with separate styles for the two
// languages. The ASS file is what gets burned into the video.
package subtitles
