// Package consent hosts the live consent-verification engine.
//
// A [Verifier] runs one verification session: it owns a recognizer session,
// processes recognition events strictly in arrival order on a single event
// loop, and advances a monotonic progress pointer through the reference
// consent script until the script is fully verified. Two alignment modes
// exist: word mode feeds recognized tokens to the progress tracker one by
// one, sentence mode scores a rolling transcript buffer against whole
// script lines. An external transcript feed is available for hosts that do
// their own recognition and only push text snapshots.
package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/natalietdg/context-md-sub001/internal/consent/align"
	"github.com/natalietdg/context-md-sub001/internal/consent/progress"
	"github.com/natalietdg/context-md-sub001/internal/consent/script"
	"github.com/natalietdg/context-md-sub001/internal/consent/textnorm"
	"github.com/natalietdg/context-md-sub001/internal/observe"
	"github.com/natalietdg/context-md-sub001/pkg/recognizer"
)

// Default restart parameters for transient recognizer stream ends.
const (
	defaultRestartMaxRetries = 5
	defaultRestartBackoff    = 250 * time.Millisecond
	defaultRestartMaxBackoff = 5 * time.Second
)

// Sentinel errors returned by Verifier lifecycle methods.
var (
	// ErrAlreadyStarted is returned by Start on a session that is no
	// longer idle.
	ErrAlreadyStarted = errors.New("consent: session already started")

	// ErrNotRunning is returned by operations that need a live event
	// loop (Pause, Resume, PushTranscript) when the session has not been
	// started or has already stopped.
	ErrNotRunning = errors.New("consent: session not running")
)

// Mode selects the alignment strategy of a session.
type Mode string

// Valid Mode values.
const (
	// ModeWord advances the pointer word by word from recognition
	// events. The default.
	ModeWord Mode = "word"

	// ModeSentence accumulates a transcript buffer and advances whole
	// lines via the sentence aligner.
	ModeSentence Mode = "sentence"
)

// IsValid returns whether m is a known Mode.
func (m Mode) IsValid() bool {
	return m == ModeWord || m == ModeSentence
}

// State is the lifecycle state of a session.
type State string

// Valid State values.
const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Progress is a point-in-time snapshot of how far verification has come.
type Progress struct {
	// Pointer is the number of script words verified so far.
	Pointer int

	// WordCount is the script's total word count.
	WordCount int

	// LineIndex is the line the pointer currently sits in (-1 for an
	// empty script).
	LineIndex int

	// Completed reports Pointer == WordCount.
	Completed bool
}

// Config configures a [Verifier].
type Config struct {
	// Script is the reference consent script. Required.
	Script *script.Script

	// Mode selects word or sentence alignment. Defaults to ModeWord.
	Mode Mode

	// Provider supplies the recognition stream. May be nil for sessions
	// driven purely through [Verifier.PushTranscript].
	Provider recognizer.Provider

	// Language is passed to the provider's StreamConfig.
	Language string

	// Align configures the sentence aligner. Its Canon options also
	// control acronym handling for the external transcript feed.
	Align align.Config

	// Track configures the word-mode progress tracker.
	Track progress.Config

	// RestartMaxRetries bounds restart attempts after a transient stream
	// end. Defaults to 5 if zero.
	RestartMaxRetries int

	// RestartBackoff is the initial backoff between restart attempts.
	// Doubles each attempt up to RestartMaxBackoff. Defaults to 250ms.
	RestartBackoff time.Duration

	// RestartMaxBackoff is the upper limit on restart backoff. Defaults
	// to 5s.
	RestartMaxBackoff time.Duration

	// OnProgress, if non-nil, is called from the event loop after every
	// pointer advance. Must not block.
	OnProgress func(Progress)

	// OnComplete, if non-nil, is called from the event loop when the
	// script is fully verified. At most once per session.
	OnComplete func()

	// Metrics overrides the metrics instance. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// command is one request from a public method to the event loop.
type command struct {
	kind    commandKind
	final   string
	interim string
	reply   chan error
}

type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdPush
)

// Verifier is one live consent-verification session. Public methods are
// safe for concurrent use; callbacks run on the internal event loop.
type Verifier struct {
	cfg      Config
	tracker  *progress.Tracker
	aligner  *align.Aligner
	metrics  *observe.Metrics
	mode     Mode
	retries  int
	backoff  time.Duration
	maxWait  time.Duration
	commands chan command
	done     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	state   State
	started bool
	snap    Progress

	completeOnce sync.Once
}

// NewVerifier builds a Verifier for one session. The Config is copied; the
// Script must be non-nil.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Script == nil {
		return nil, errors.New("consent: Config.Script is required")
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeWord
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("consent: invalid mode %q", mode)
	}
	v := &Verifier{
		cfg:      cfg,
		tracker:  progress.NewTracker(cfg.Script, cfg.Track),
		aligner:  align.New(cfg.Align),
		metrics:  cfg.Metrics,
		mode:     mode,
		retries:  cfg.RestartMaxRetries,
		backoff:  cfg.RestartBackoff,
		maxWait:  cfg.RestartMaxBackoff,
		commands: make(chan command),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		state:    StateIdle,
	}
	if v.metrics == nil {
		v.metrics = observe.DefaultMetrics()
	}
	if v.retries <= 0 {
		v.retries = defaultRestartMaxRetries
	}
	if v.backoff <= 0 {
		v.backoff = defaultRestartBackoff
	}
	if v.maxWait <= 0 {
		v.maxWait = defaultRestartMaxBackoff
	}
	v.snap = Progress{
		Pointer:   v.tracker.Pointer(),
		WordCount: cfg.Script.WordCount(),
		LineIndex: v.tracker.CurrentLine(),
		Completed: v.tracker.Completed(),
	}
	return v, nil
}

// State returns the session's lifecycle state.
func (v *Verifier) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Snapshot returns the most recent progress snapshot. Safe to call from any
// goroutine; the tracker itself is only touched by the event loop.
func (v *Verifier) Snapshot() Progress {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap
}

// refreshSnapshot recomputes the published snapshot from the tracker.
// Called from the event loop after every tracker mutation.
func (v *Verifier) refreshSnapshot() Progress {
	snap := Progress{
		Pointer:   v.tracker.Pointer(),
		WordCount: v.cfg.Script.WordCount(),
		LineIndex: v.tracker.CurrentLine(),
		Completed: v.tracker.Completed(),
	}
	v.mu.Lock()
	v.snap = snap
	v.mu.Unlock()
	return snap
}

// Start opens the recognizer stream (when a provider is configured) and
// launches the event loop. A script with zero words completes immediately
// without touching the recognizer.
func (v *Verifier) Start(ctx context.Context) error {
	v.mu.Lock()
	if v.state != StateIdle {
		v.mu.Unlock()
		return ErrAlreadyStarted
	}
	v.started = true

	if v.cfg.Script.Empty() {
		v.state = StateCompleted
		v.mu.Unlock()
		close(v.loopDone)
		v.fireComplete(ctx)
		return nil
	}

	var session recognizer.SessionHandle
	if v.cfg.Provider != nil {
		var err error
		session, err = v.cfg.Provider.StartStream(ctx, recognizer.StreamConfig{
			Language: v.cfg.Language,
			Interim:  true,
		})
		if err != nil {
			v.state = StateCancelled
			v.mu.Unlock()
			close(v.loopDone)
			return fmt.Errorf("consent: start recognizer: %w", err)
		}
	}
	v.state = StateListening
	v.mu.Unlock()

	v.metrics.SessionsStarted.Add(ctx, 1, metric.WithAttributes(observe.Attr("mode", string(v.mode))))
	v.metrics.ActiveSessions.Add(ctx, 1)
	go v.loop(ctx, session)
	return nil
}

// Pause suspends recognition. Events arriving while paused are discarded.
func (v *Verifier) Pause() error { return v.send(command{kind: cmdPause}) }

// Resume re-enables recognition after Pause.
func (v *Verifier) Resume() error { return v.send(command{kind: cmdResume}) }

// PushTranscript feeds an externally produced transcript snapshot: the
// accumulated final text plus the latest interim hypothesis. Snapshots are
// processed through the sentence aligner regardless of mode. Redelivering
// an unchanged or extended snapshot is safe; identical snapshots are
// dropped outright.
func (v *Verifier) PushTranscript(final, interim string) error {
	return v.send(command{kind: cmdPush, final: final, interim: interim})
}

// Stop terminates the session from any state. Idempotent; safe to call
// concurrently with everything else. The recognizer session, if any, is
// closed before Stop returns.
func (v *Verifier) Stop() {
	v.mu.Lock()
	started := v.started
	if !started {
		v.started = true
		v.state = StateCancelled
	}
	v.mu.Unlock()

	v.stopOnce.Do(func() { close(v.done) })
	if started {
		<-v.loopDone
	}
}

// send delivers a command to the event loop, failing fast when the loop is
// not running.
func (v *Verifier) send(cmd command) error {
	v.mu.Lock()
	started := v.started
	v.mu.Unlock()
	if !started {
		return ErrNotRunning
	}
	cmd.reply = make(chan error, 1)
	select {
	case v.commands <- cmd:
		return <-cmd.reply
	case <-v.done:
		return ErrNotRunning
	case <-v.loopDone:
		return ErrNotRunning
	}
}

// utterCursor tracks how many tokens of the current utterance have already
// been fed to the tracker, so growing interim results are consumed
// incrementally and redelivered text is not double-counted.
type utterCursor struct {
	index int
	seen  int
}

// reset forgets the current utterance; the next event starts fresh.
func (c *utterCursor) reset() { c.index, c.seen = -1, 0 }

// loop is the session event loop. It owns the recognizer session and all
// alignment state; nothing else touches the tracker while it runs.
func (v *Verifier) loop(ctx context.Context, session recognizer.SessionHandle) {
	defer close(v.loopDone)
	defer v.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	defer func() {
		if session != nil {
			_ = session.Close()
		}
	}()

	var (
		events  <-chan recognizer.Event
		notices <-chan recognizer.Notice
	)
	if session != nil {
		events = session.Events()
		notices = session.Notices()
	}

	cursor := utterCursor{index: -1}
	var finals []string
	var interim string
	var lastFinal, lastInterim string
	pushedOnce := false

	for {
		select {
		case <-ctx.Done():
			v.setState(StateCancelled)
			return

		case <-v.done:
			if v.State() != StateCompleted {
				v.setState(StateCancelled)
			}
			return

		case cmd := <-v.commands:
			switch cmd.kind {
			case cmdPause:
				if session != nil {
					if err := session.Pause(); err != nil && !errors.Is(err, recognizer.ErrNotSupported) {
						cmd.reply <- err
						continue
					}
				}
				v.setState(StatePaused)
				cmd.reply <- nil

			case cmdResume:
				if session != nil {
					if err := session.Resume(); err != nil && !errors.Is(err, recognizer.ErrNotSupported) {
						cmd.reply <- err
						continue
					}
				}
				v.setState(StateListening)
				cmd.reply <- nil

			case cmdPush:
				if pushedOnce && cmd.final == lastFinal && cmd.interim == lastInterim {
					cmd.reply <- nil
					continue
				}
				pushedOnce = true
				lastFinal, lastInterim = cmd.final, cmd.interim
				v.alignBuffer(ctx, joinBuffer(cmd.final, cmd.interim))
				cmd.reply <- nil
				if v.tracker.Completed() {
					v.completeAndFinish(ctx)
					return
				}
			}

		case ev, ok := <-events:
			if !ok {
				// Stream ended without a notice; treat as transient.
				events, notices, session = v.restart(ctx, session, &cursor)
				if session == nil && events == nil {
					return
				}
				continue
			}
			if v.State() != StateListening {
				continue
			}
			start := time.Now()
			switch v.mode {
			case ModeSentence:
				finals, interim = v.handleSentenceEvent(ctx, ev, finals, interim)
			default:
				v.handleWordEvent(ctx, ev, &cursor)
			}
			v.metrics.RecordEvent(ctx, string(v.mode), time.Since(start).Seconds())
			if v.tracker.Completed() {
				v.completeAndFinish(ctx)
				return
			}

		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			if n.Kind.Transient() {
				slog.Info("consent: recognizer stream ended, restarting", "kind", string(n.Kind))
				events, notices, session = v.restart(ctx, session, &cursor)
				if session == nil && events == nil {
					return
				}
				continue
			}
			slog.Error("consent: recognizer failure, stopping session", "error", n.Err)
			v.setState(StateCancelled)
			return
		}
	}
}

// handleWordEvent feeds the fresh tokens of one recognition event to the
// word-mode tracker. Events that carry nothing new are no-ops and do not
// count as stalls.
func (v *Verifier) handleWordEvent(ctx context.Context, ev recognizer.Event, cursor *utterCursor) {
	tokens := strings.Fields(textnorm.Normalize(ev.Text))
	if ev.ResultIndex != cursor.index {
		cursor.index = ev.ResultIndex
		cursor.seen = 0
	}
	if cursor.seen > len(tokens) {
		// The interim hypothesis was rewritten shorter; re-consume from
		// the new length rather than replaying from zero.
		cursor.seen = len(tokens)
	}
	fresh := tokens[cursor.seen:]
	cursor.seen = len(tokens)
	if len(fresh) == 0 {
		return
	}
	if v.tracker.ObserveTokens(fresh) {
		v.notifyProgress()
	}
}

// handleSentenceEvent folds one recognition event into the sentence-mode
// transcript buffer and attempts an alignment.
func (v *Verifier) handleSentenceEvent(ctx context.Context, ev recognizer.Event, finals []string, interim string) ([]string, string) {
	if ev.IsFinal {
		if t := strings.TrimSpace(ev.Text); t != "" {
			finals = append(finals, t)
		}
		interim = ""
	} else {
		interim = ev.Text
	}
	buffer := joinBuffer(strings.Join(finals, " "), interim)
	if v.alignBuffer(ctx, buffer) {
		// Accepted: the consumed text must not count against later lines.
		finals = finals[:0]
		interim = ""
	}
	return finals, interim
}

// alignBuffer scores the transcript buffer against the remaining script
// lines and applies an accepted line to the pointer. Returns whether a line
// was accepted.
func (v *Verifier) alignBuffer(ctx context.Context, buffer string) bool {
	if buffer == "" {
		return false
	}
	start := time.Now()
	res, ok := v.aligner.Align(buffer, v.cfg.Script, v.tracker.CurrentLine())
	v.metrics.AlignDuration.Record(ctx, time.Since(start).Seconds())
	if !ok || !res.Accepted {
		return false
	}
	if v.tracker.ApplyLine(res.LineIndex) {
		slog.Debug("consent: line verified",
			"line", res.LineIndex,
			"score", res.Score,
			"threshold", res.Threshold,
		)
		v.notifyProgress()
	}
	return true
}

// restart tears down the current recognizer session and opens a new one
// with exponential backoff. On success the utterance cursor resets so the
// new stream's result indices start clean. When every retry fails (or no
// provider is configured) the session is cancelled and nil channels are
// returned, which makes the caller exit the loop.
func (v *Verifier) restart(ctx context.Context, session recognizer.SessionHandle, cursor *utterCursor) (<-chan recognizer.Event, <-chan recognizer.Notice, recognizer.SessionHandle) {
	if session != nil {
		_ = session.Close()
	}
	if v.cfg.Provider == nil {
		v.setState(StateCancelled)
		return nil, nil, nil
	}

	wait := v.backoff
	for attempt := 1; attempt <= v.retries; attempt++ {
		next, err := v.cfg.Provider.StartStream(ctx, recognizer.StreamConfig{
			Language: v.cfg.Language,
			Interim:  true,
		})
		if err == nil {
			cursor.reset()
			v.metrics.Restarts.Add(ctx, 1)
			slog.Info("consent: recognizer restarted", "attempt", attempt)
			return next.Events(), next.Notices(), next
		}

		slog.Warn("consent: recognizer restart failed",
			"attempt", attempt,
			"max_retries", v.retries,
			"error", err,
		)

		select {
		case <-ctx.Done():
			v.setState(StateCancelled)
			return nil, nil, nil
		case <-v.done:
			v.setState(StateCancelled)
			return nil, nil, nil
		case <-time.After(wait):
		}
		wait *= 2
		if wait > v.maxWait {
			wait = v.maxWait
		}
	}

	slog.Error("consent: recognizer restart exhausted retries", "max_retries", v.retries)
	v.setState(StateCancelled)
	return nil, nil, nil
}

// completeAndFinish marks the session completed and fires the completion
// callback. Called from the event loop only.
func (v *Verifier) completeAndFinish(ctx context.Context) {
	v.setState(StateCompleted)
	v.fireComplete(ctx)
}

// fireComplete invokes the completion callback at most once per session.
func (v *Verifier) fireComplete(ctx context.Context) {
	v.completeOnce.Do(func() {
		v.metrics.Completions.Add(context.WithoutCancel(ctx), 1,
			metric.WithAttributes(observe.Attr("mode", string(v.mode))))
		slog.Info("consent: script fully verified",
			"language", v.cfg.Script.Language(),
			"words", v.cfg.Script.WordCount(),
		)
		if v.cfg.OnProgress != nil {
			v.cfg.OnProgress(v.Snapshot())
		}
		if v.cfg.OnComplete != nil {
			v.cfg.OnComplete()
		}
	})
}

// notifyProgress publishes a fresh snapshot and reports a pointer advance
// to the configured sink. The completion snapshot is reported by
// fireComplete instead, so the final advance is not delivered twice.
func (v *Verifier) notifyProgress() {
	snap := v.refreshSnapshot()
	if v.cfg.OnProgress == nil || snap.Completed {
		return
	}
	v.cfg.OnProgress(snap)
}

func (v *Verifier) setState(s State) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

// joinBuffer concatenates the final and interim parts of a transcript
// snapshot.
func joinBuffer(final, interim string) string {
	return strings.TrimSpace(strings.TrimSpace(final) + " " + strings.TrimSpace(interim))
}
