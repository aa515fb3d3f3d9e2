// Package workflow runs the subtitle pipeline for one source video at a
// time.
//
// A run downloads a low-quality copy, then forks into two branches that
// proceed independently: processing (transcribe, split, summarize,
// translate, align) and the best-quality download. The run completes when
// both branches have finished and neither failed. Burning subtitles into
// the video is a separate job started on request.
//
// Every state change goes through the injected runstate.State. Mutations
// are fenced by run: once a run is stopped or replaced, its goroutines can
// no longer touch the state. Intermediate artifacts live in the workspace
// log directory and a checkpoint file records which processing stages
// finished, so Continue can resume after a failure without redoing work.
package workflow
