package consent_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/natalietdg/context-md-sub001/internal/consent"
	"github.com/natalietdg/context-md-sub001/internal/consent/script"
	"github.com/natalietdg/context-md-sub001/internal/observe"
	"github.com/natalietdg/context-md-sub001/pkg/recognizer"
	"github.com/natalietdg/context-md-sub001/pkg/recognizer/mock"
)

func mustScript(t *testing.T, sentences ...string) *script.Script {
	t.Helper()
	sc, err := script.New("en", sentences)
	if err != nil {
		t.Fatalf("script.New: %v", err)
	}
	return sc
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// progressSink collects progress snapshots and completion signals from the
// event loop.
type progressSink struct {
	mu        sync.Mutex
	snapshots []consent.Progress
	completed int
	done      chan struct{}
}

func newProgressSink() *progressSink {
	return &progressSink{done: make(chan struct{})}
}

func (s *progressSink) onProgress(p consent.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, p)
}

func (s *progressSink) onComplete() {
	s.mu.Lock()
	s.completed++
	first := s.completed == 1
	s.mu.Unlock()
	if first {
		close(s.done)
	}
}

func (s *progressSink) completions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *progressSink) all() []consent.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]consent.Progress, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

func (s *progressSink) waitComplete(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestVerifier_WordModeCompletesExactlyOnce(t *testing.T) {
	t.Parallel()

	sc := mustScript(t, "I consent to the recording.")
	sess := mock.NewSession()
	provider := &mock.Provider{Sessions: []recognizer.SessionHandle{sess}}
	sink := newProgressSink()

	v, err := consent.NewVerifier(consent.Config{
		Script:     sc,
		Mode:       consent.ModeWord,
		Provider:   provider,
		Language:   "en",
		OnProgress: sink.onProgress,
		OnComplete: sink.onComplete,
		Metrics:    testMetrics(t),
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A growing interim hypothesis followed by the final result. The
	// overlap between the two must not be double-counted.
	sess.Emit("I consent to the", false, 0)
	sess.Emit("I consent to the recording", true, 0)

	sink.waitComplete(t)
	v.Stop()

	if got := sink.completions(); got != 1 {
		t.Errorf("completions = %d, want exactly 1", got)
	}
	if v.State() != consent.StateCompleted {
		t.Errorf("State = %q, want %q", v.State(), consent.StateCompleted)
	}
	if p := v.Snapshot(); !p.Completed || p.Pointer != sc.WordCount() {
		t.Errorf("Snapshot = %+v, want pointer %d and completed", p, sc.WordCount())
	}
	if sess.CloseCallCount == 0 {
		t.Error("recognizer session was not closed")
	}

	prev := -1
	for _, p := range sink.all() {
		if p.Pointer < prev {
			t.Fatalf("progress pointer regressed: %d after %d", p.Pointer, prev)
		}
		prev = p.Pointer
	}
}

func TestVerifier_EmptyScriptCompletesWithoutRecognizer(t *testing.T) {
	t.Parallel()

	sc := mustScript(t)
	provider := &mock.Provider{}
	sink := newProgressSink()

	v, err := consent.NewVerifier(consent.Config{
		Script:     sc,
		Provider:   provider,
		OnComplete: sink.onComplete,
		Metrics:    testMetrics(t),
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sink.waitComplete(t)
	if got := provider.StartStreamCallCount(); got != 0 {
		t.Errorf("StartStream called %d times, want 0 for an empty script", got)
	}
	if v.State() != consent.StateCompleted {
		t.Errorf("State = %q, want %q", v.State(), consent.StateCompleted)
	}
}

func TestVerifier_AutoRestartAfterTransientEnd(t *testing.T) {
	t.Parallel()

	sc := mustScript(t, "I consent to the recording.")
	first := mock.NewSession()
	second := mock.NewSession()
	provider := &mock.Provider{Sessions: []recognizer.SessionHandle{first, second}}
	sink := newProgressSink()

	v, err := consent.NewVerifier(consent.Config{
		Script:         sc,
		Provider:       provider,
		RestartBackoff: time.Millisecond,
		OnComplete:     sink.onComplete,
		Metrics:        testMetrics(t),
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	// The first stream dies mid-utterance; the replacement carries the
	// rest. Result indices restart from zero on the new stream.
	first.Emit("I consent", true, 0)
	first.Notify(recognizer.NoticeEnded, nil)
	second.Emit("to the recording", true, 0)

	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink.waitComplete(t)
	v.Stop()

	if got := provider.StartStreamCallCount(); got != 2 {
		t.Errorf("StartStream called %d times, want 2", got)
	}
	if first.CloseCallCount == 0 {
		t.Error("dead session was not closed on restart")
	}
}

// failAfterFirst hands out one good session, then refuses every restart.
type failAfterFirst struct {
	mu    sync.Mutex
	sess  recognizer.SessionHandle
	calls int
}

func (p *failAfterFirst) StartStream(ctx context.Context, cfg recognizer.StreamConfig) (recognizer.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls == 1 {
		return p.sess, nil
	}
	return nil, errors.New("stream refused")
}

func TestVerifier_RestartExhaustionCancels(t *testing.T) {
	t.Parallel()

	sc := mustScript(t, "I consent to the recording.")
	sess := mock.NewSession()
	provider := &failAfterFirst{sess: sess}
	sink := newProgressSink()

	v, err := consent.NewVerifier(consent.Config{
		Script:            sc,
		Provider:          provider,
		RestartMaxRetries: 2,
		RestartBackoff:    time.Millisecond,
		OnComplete:        sink.onComplete,
		Metrics:           testMetrics(t),
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	sess.Notify(recognizer.NoticeEnded, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return v.State() == consent.StateCancelled })
	if got := sink.completions(); got != 0 {
		t.Errorf("completions = %d, want 0 after restart exhaustion", got)
	}
}

func TestVerifier_SentenceMode(t *testing.T) {
	t.Parallel()

	sc := mustScript(t,
		"Please confirm that you consent to this recording.",
		"Thank you for confirming.",
	)
	sess := mock.NewSession()
	provider := &mock.Provider{Sessions: []recognizer.SessionHandle{sess}}
	sink := newProgressSink()

	v, err := consent.NewVerifier(consent.Config{
		Script:     sc,
		Mode:       consent.ModeSentence,
		Provider:   provider,
		OnProgress: sink.onProgress,
		OnComplete: sink.onComplete,
		Metrics:    testMetrics(t),
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A half-sentence interim must not be accepted; the full final is.
	sess.Emit("please confirm that", false, 0)
	sess.Emit("please confirm that you consent to this recording", true, 0)
	sess.Emit("thank you for confirming", true, 1)

	sink.waitComplete(t)
	v.Stop()

	if got := sink.completions(); got != 1 {
		t.Errorf("completions = %d, want 1", got)
	}
	snaps := sink.all()
	if len(snaps) == 0 {
		t.Fatal("no progress snapshots delivered")
	}
	if first := snaps[0]; first.Pointer != sc.Lines()[0].End {
		t.Errorf("first accepted line advanced pointer to %d, want %d", first.Pointer, sc.Lines()[0].End)
	}
}

func TestVerifier_PushTranscriptIdempotent(t *testing.T) {
	t.Parallel()

	sc := mustScript(t,
		"Please confirm that you consent to this recording.",
		"Thank you for confirming.",
	)
	sink := newProgressSink()

	// No provider: the session is driven purely by pushed transcripts.
	v, err := consent.NewVerifier(consent.Config{
		Script:     sc,
		Mode:       consent.ModeSentence,
		OnProgress: sink.onProgress,
		OnComplete: sink.onComplete,
		Metrics:    testMetrics(t),
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer v.Stop()

	final := "please confirm that you consent to this recording"
	if err := v.PushTranscript(final, ""); err != nil {
		t.Fatalf("PushTranscript: %v", err)
	}
	waitFor(t, func() bool { return v.Snapshot().Pointer == sc.Lines()[0].End })

	// At-least-once redelivery of the identical snapshot is a no-op.
	before := len(sink.all())
	if err := v.PushTranscript(final, ""); err != nil {
		t.Fatalf("redelivered PushTranscript: %v", err)
	}
	if got := len(sink.all()); got != before {
		t.Errorf("redelivery produced %d new progress snapshots", got-before)
	}

	// An extended snapshot carries the next line and finishes the script.
	if err := v.PushTranscript(final+" thank you for confirming", ""); err != nil {
		t.Fatalf("extended PushTranscript: %v", err)
	}
	sink.waitComplete(t)
	if got := sink.completions(); got != 1 {
		t.Errorf("completions = %d, want 1", got)
	}
}

func TestVerifier_PauseDiscardsEvents(t *testing.T) {
	t.Parallel()

	sc := mustScript(t, "I consent to the recording.")
	sess := mock.NewSession()
	provider := &mock.Provider{Sessions: []recognizer.SessionHandle{sess}}
	sink := newProgressSink()

	v, err := consent.NewVerifier(consent.Config{
		Script:     sc,
		Provider:   provider,
		OnComplete: sink.onComplete,
		Metrics:    testMetrics(t),
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer v.Stop()

	if err := v.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if v.State() != consent.StatePaused {
		t.Fatalf("State = %q, want %q", v.State(), consent.StatePaused)
	}
	sess.Emit("I consent to the recording", true, 0)
	time.Sleep(50 * time.Millisecond)
	if p := v.Snapshot().Pointer; p != 0 {
		t.Errorf("Pointer = %d while paused, want 0", p)
	}
	if sess.PauseCallCount != 1 {
		t.Errorf("session Pause called %d times, want 1", sess.PauseCallCount)
	}

	if err := v.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	sess.Emit("I consent to the recording", true, 1)
	sink.waitComplete(t)
}

func TestVerifier_StopIdempotent(t *testing.T) {
	t.Parallel()

	sc := mustScript(t, "I consent to the recording.")
	sess := mock.NewSession()
	provider := &mock.Provider{Sessions: []recognizer.SessionHandle{sess}}

	v, err := consent.NewVerifier(consent.Config{
		Script:   sc,
		Provider: provider,
		Metrics:  testMetrics(t),
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	v.Stop()
	v.Stop()

	if v.State() != consent.StateCancelled {
		t.Errorf("State = %q, want %q", v.State(), consent.StateCancelled)
	}
	if sess.CloseCallCount == 0 {
		t.Error("recognizer session was not closed by Stop")
	}
	if err := v.Pause(); !errors.Is(err, consent.ErrNotRunning) {
		t.Errorf("Pause after Stop = %v, want ErrNotRunning", err)
	}
}

func TestVerifier_LifecycleErrors(t *testing.T) {
	t.Parallel()

	sc := mustScript(t, "I consent to the recording.")
	v, err := consent.NewVerifier(consent.Config{
		Script:  sc,
		Metrics: testMetrics(t),
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	if err := v.Pause(); !errors.Is(err, consent.ErrNotRunning) {
		t.Errorf("Pause before Start = %v, want ErrNotRunning", err)
	}
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer v.Stop()
	if err := v.Start(context.Background()); !errors.Is(err, consent.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	if _, err := consent.NewVerifier(consent.Config{Script: sc, Mode: "karaoke"}); err == nil {
		t.Error("NewVerifier accepted an invalid mode")
	}
}
