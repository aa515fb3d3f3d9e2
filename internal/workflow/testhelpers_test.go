package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subflow/internal/align"
	"subflow/internal/config"
	"subflow/internal/repair"
	"subflow/internal/runstate"
	"subflow/internal/services/ffmpeg"
	"subflow/internal/services/ytdlp"
	"subflow/internal/testsupport"
	"subflow/internal/translate"
	"subflow/internal/workflow"
)

var sampleTranscript = align.Transcript{
	Language: "en",
	Segments: []align.Segment{{
		Start: 0,
		End:   4,
		Text:  "The cat sat on the mat. It was happy.",
		Words: []align.Word{
			{Word: "The", Start: 0, End: 0.2},
			{Word: "cat", Start: 0.3, End: 0.5},
			{Word: "sat", Start: 0.6, End: 0.8},
			{Word: "on", Start: 0.9, End: 1.0},
			{Word: "the", Start: 1.1, End: 1.2},
			{Word: "mat.", Start: 1.3, End: 1.6},
			{Word: "It", Start: 2.5, End: 2.7},
			{Word: "was", Start: 2.8, End: 3.0},
			{Word: "happy.", Start: 3.1, End: 3.6},
		},
	}},
}

type fakeDownloader struct {
	mu    sync.Mutex
	calls []ytdlp.Quality
	// block, when set, is consulted per quality; the download waits for
	// the returned channel or the context.
	block     func(ytdlp.Quality) <-chan struct{}
	ignoreCtx bool
	fail      map[ytdlp.Quality]error
}

func (f *fakeDownloader) Download(ctx context.Context, _ string, quality ytdlp.Quality, destDir string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, quality)
	f.mu.Unlock()
	path := filepath.Join(destDir, "clip"+quality.Suffix()+".mp4")
	if f.block != nil {
		if ch := f.block(quality); ch != nil {
			if err := os.WriteFile(path+".part", []byte("partial"), 0o644); err != nil {
				return "", err
			}
			if f.ignoreCtx {
				<-ch
			} else {
				select {
				case <-ch:
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
		}
	}
	if err := f.fail[quality]; err != nil {
		return "", err
	}
	size := 10
	if quality == ytdlp.QualityBest {
		size = 100
	}
	return path, os.WriteFile(path, make([]byte, size), 0o644)
}

func (f *fakeDownloader) qualities() []ytdlp.Quality {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ytdlp.Quality(nil), f.calls...)
}

type fakeTranscriber struct {
	calls   atomic.Int32
	blocked atomic.Int32
	err     error
	panic   bool
	// block, when set, is consulted per call number; the call then waits
	// for the returned channel whatever its context says.
	block func(call int32) <-chan struct{}
}

func (f *fakeTranscriber) Transcribe(_ context.Context, mediaPath, _ string) (align.Transcript, error) {
	call := f.calls.Add(1)
	if f.panic {
		panic("model crashed")
	}
	if f.err != nil {
		return align.Transcript{}, f.err
	}
	if _, err := os.Stat(mediaPath); err != nil {
		return align.Transcript{}, err
	}
	if f.block != nil {
		if ch := f.block(call); ch != nil {
			f.blocked.Add(1)
			<-ch
		}
	}
	return sampleTranscript, nil
}

type fakeRefiner struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRefiner) Refine(_ context.Context, _ string, transcript align.Transcript) (align.Transcript, error) {
	f.calls.Add(1)
	if f.err != nil {
		return align.Transcript{}, f.err
	}
	return transcript, nil
}

// fakeCorrector replaces one word everywhere it occurs.
type fakeCorrector struct {
	from, to string
	calls    atomic.Int32
}

func (f *fakeCorrector) Correct(_ context.Context, transcript align.Transcript) (align.Transcript, []repair.TokenChange, error) {
	f.calls.Add(1)
	out := align.Transcript{Language: transcript.Language}
	var changes []repair.TokenChange
	for _, seg := range transcript.Segments {
		seg.Words = append([]align.Word(nil), seg.Words...)
		for i, w := range seg.Words {
			if w.Word == f.from {
				seg.Words[i].Word = f.to
				changes = append(changes, repair.TokenChange{Status: repair.StatusApplied, Source: f.from, Target: f.to})
			}
		}
		seg.Text = strings.ReplaceAll(seg.Text, " "+f.from+" ", " "+f.to+" ")
		out.Segments = append(out.Segments, seg)
	}
	return out, changes, nil
}

// fakeRepairer moves the first word of the second line onto the first.
type fakeRepairer struct{ calls atomic.Int32 }

func (f *fakeRepairer) Repair(_ context.Context, lines []string, _ string) ([]string, []repair.BoundaryChange, error) {
	f.calls.Add(1)
	if len(lines) < 2 {
		return lines, nil, nil
	}
	out := append([]string(nil), lines...)
	head, rest, _ := strings.Cut(out[1], " ")
	out[0], out[1] = out[0]+" "+head, rest
	return out, []repair.BoundaryChange{{Status: repair.StatusApplied, PairID: 0, Entity: head}}, nil
}

// fakeSplitter breaks text after each full stop.
type fakeSplitter struct{ calls atomic.Int32 }

func (f *fakeSplitter) Split(_ context.Context, text, _ string) ([]string, error) {
	f.calls.Add(1)
	var out []string
	for _, part := range strings.SplitAfter(text, ". ") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

type fakeTranslator struct {
	summarizeCalls atomic.Int32
	translateCalls atomic.Int32
	// translateFailures makes the first n Translate calls fail.
	translateFailures atomic.Int32
}

func (f *fakeTranslator) Summarize(_ context.Context, _ []string, _ string, existing translate.Glossary) (translate.Glossary, error) {
	f.summarizeCalls.Add(1)
	return existing.Merge(translate.Glossary{Theme: "a cat", Terms: []translate.Term{{Src: "cat", Tgt: "猫"}}}), nil
}

func (f *fakeTranslator) Translate(_ context.Context, in translate.Input) (translate.Output, error) {
	f.translateCalls.Add(1)
	if f.translateFailures.Load() > 0 {
		f.translateFailures.Add(-1)
		return translate.Output{}, errors.New("translation matching failed (chunk 0)")
	}
	out := translate.Output{Source: in.Lines}
	for _, line := range in.Lines {
		out.Translation = append(out.Translation, "译："+line)
	}
	if in.Progress != nil {
		in.Progress(1, 1)
	}
	return out, nil
}

func (f *fakeTranslator) TrimLines(_ context.Context, lines []string, _ []float64) []string {
	return lines
}

type fakeBurner struct {
	mu     sync.Mutex
	videos []string
}

func (f *fakeBurner) Burn(_ context.Context, video, _, output string) (string, error) {
	f.mu.Lock()
	f.videos = append(f.videos, video)
	f.mu.Unlock()
	if output == "" {
		output = ffmpeg.OutputPath(video)
	}
	return output, os.WriteFile(output, []byte("burned"), 0o644)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) record(event string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) NotifyRunCompleted(context.Context, string) error {
	return n.record("completed")
}

func (n *recordingNotifier) NotifyRunFailed(_ context.Context, _, reason string) error {
	return n.record("failed: " + reason)
}

func (n *recordingNotifier) NotifyBurnCompleted(_ context.Context, output string) error {
	return n.record("burned: " + filepath.Base(output))
}

func (n *recordingNotifier) recorded() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type harness struct {
	cfg         *config.Config
	state       *runstate.State
	manager     *workflow.Manager
	downloader  *fakeDownloader
	transcriber *fakeTranscriber
	splitter    *fakeSplitter
	translator  *fakeTranslator
	burner      *fakeBurner
	notifier    *recordingNotifier
}

func newHarness(t *testing.T, extra ...func(*workflow.Deps)) *harness {
	t.Helper()
	h := &harness{
		cfg:         testsupport.NewConfig(t),
		state:       runstate.New(100),
		downloader:  &fakeDownloader{},
		transcriber: &fakeTranscriber{},
		splitter:    &fakeSplitter{},
		translator:  &fakeTranslator{},
		burner:      &fakeBurner{},
		notifier:    &recordingNotifier{},
	}
	deps := workflow.Deps{
		Downloader:  h.downloader,
		Transcriber: h.transcriber,
		Splitter:    h.splitter,
		Translator:  h.translator,
		Burner:      h.burner,
		Notifier:    h.notifier,
	}
	for _, fn := range extra {
		fn(&deps)
	}
	h.manager = workflow.NewManager(h.cfg, h.state, deps, nil)
	t.Cleanup(func() {
		h.manager.Stop()
		h.manager.Wait()
	})
	return h
}

func (h *harness) workPath(parts ...string) string {
	return filepath.Join(append([]string{h.cfg.Paths.WorkDir}, parts...)...)
}

func (h *harness) stage(t *testing.T, name string) runstate.StageRecord {
	t.Helper()
	record, ok := h.state.Snapshot().Stage(name)
	if !ok {
		t.Fatalf("stage %s missing from snapshot", name)
	}
	return record
}

func waitDone(t *testing.T, m *workflow.Manager) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("workflow did not finish")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
