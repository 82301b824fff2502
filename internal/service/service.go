// Package service hosts live consent-verification sessions over a
// websocket endpoint. The client owns the microphone and the speech
// recognizer; it streams recognition events (or whole transcript
// snapshots) to the server, which aligns them against the consent script
// and pushes progress frames back.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/natalietdg/context-md-sub001/internal/app"
	"github.com/natalietdg/context-md-sub001/internal/config"
	"github.com/natalietdg/context-md-sub001/internal/consent"
	"github.com/natalietdg/context-md-sub001/internal/consent/align"
	"github.com/natalietdg/context-md-sub001/internal/consent/progress"
	"github.com/natalietdg/context-md-sub001/internal/consent/script"
	"github.com/natalietdg/context-md-sub001/internal/consent/textnorm"
	"github.com/natalietdg/context-md-sub001/internal/observe"
	"github.com/natalietdg/context-md-sub001/pkg/recognizer"
)

// startTimeout bounds how long a freshly accepted connection may wait
// before sending its start frame.
const startTimeout = 10 * time.Second

// Client frame types.
const (
	frameStart      = "start"
	frameEvent      = "event"
	frameTranscript = "transcript"
	framePause      = "pause"
	frameResume     = "resume"
	frameStop       = "stop"
	frameNotice     = "notice"
)

// Server frame types.
const (
	frameStarted  = "started"
	frameProgress = "progress"
	frameComplete = "complete"
	frameError    = "error"
)

// clientFrame is one JSON message from the client. Type selects which of
// the remaining fields are meaningful.
type clientFrame struct {
	Type string `json:"type"`

	// start
	Language string `json:"language,omitempty"`
	Mode     string `json:"mode,omitempty"`

	// event
	Text        string `json:"text,omitempty"`
	IsFinal     bool   `json:"is_final,omitempty"`
	ResultIndex int    `json:"result_index,omitempty"`

	// transcript
	Final   string `json:"final,omitempty"`
	Interim string `json:"interim,omitempty"`

	// notice
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

// serverFrame is one JSON message to the client.
type serverFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Pointer   int    `json:"pointer"`
	WordCount int    `json:"word_count,omitempty"`
	LineIndex int    `json:"line_index,omitempty"`
	Completed bool   `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Handler serves the /v1/verify websocket endpoint.
type Handler struct {
	cfg      *config.Config
	registry *app.Registry
	metrics  *observe.Metrics
}

// NewHandler creates a Handler. metrics may be nil, in which case
// [observe.DefaultMetrics] is used.
func NewHandler(cfg *config.Config, registry *app.Registry, metrics *observe.Metrics) *Handler {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Handler{cfg: cfg, registry: registry, metrics: metrics}
}

// ServeHTTP upgrades the request to a websocket and runs one verification
// session until completion, a stop frame, or disconnect.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("service: websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session aborted")

	ctx := r.Context()
	wc := &wsConn{conn: conn}

	start, err := readStart(ctx, conn)
	if err != nil {
		wc.writeError(ctx, err)
		conn.Close(websocket.StatusPolicyViolation, "bad start frame")
		return
	}

	sess, fd, err := h.openSession(ctx, wc, start)
	if err != nil {
		wc.writeError(ctx, err)
		conn.Close(websocket.StatusPolicyViolation, "session rejected")
		return
	}
	defer h.registry.Remove(sess.ID)
	defer sess.Verifier.Stop()

	wc.write(ctx, serverFrame{Type: frameStarted, SessionID: sess.ID})
	slog.Info("service: session started",
		"session_id", sess.ID,
		"language", sess.Language,
		"mode", string(sess.Mode),
	)

	h.readFrames(ctx, conn, wc, sess, fd)
	slog.Info("service: session closed", "session_id", sess.ID)
}

// readStart consumes the mandatory first frame.
func readStart(ctx context.Context, conn *websocket.Conn) (clientFrame, error) {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	var f clientFrame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		return clientFrame{}, fmt.Errorf("service: read start frame: %w", err)
	}
	if f.Type != frameStart {
		return clientFrame{}, fmt.Errorf("service: expected %q frame, got %q", frameStart, f.Type)
	}
	return f, nil
}

// openSession builds the verifier for a start frame, registers it, and
// starts it.
func (h *Handler) openSession(ctx context.Context, wc *wsConn, start clientFrame) (*app.Session, *feed, error) {
	lang := start.Language
	if lang == "" {
		lang = h.cfg.Verify.DefaultLanguage
	}
	sentences, ok := h.cfg.ScriptSentences(lang)
	if !ok {
		return nil, nil, fmt.Errorf("service: no consent script for language %q", lang)
	}
	sc, err := script.New(lang, sentences)
	if err != nil {
		return nil, nil, fmt.Errorf("service: build script: %w", err)
	}

	mode := h.cfg.Verify.Mode
	if start.Mode != "" {
		mode = consent.Mode(start.Mode)
	}
	if mode == "" {
		mode = consent.ModeWord
	}
	if !mode.IsValid() {
		return nil, nil, fmt.Errorf("service: unknown mode %q", start.Mode)
	}

	fd := newFeed()
	v, err := consent.NewVerifier(consent.Config{
		Script:   sc,
		Mode:     mode,
		Provider: fd,
		Language: lang,
		Align: align.Config{
			BaseThreshold:    h.cfg.Verify.BaseThreshold,
			RelaxedThreshold: h.cfg.Verify.RelaxedThreshold,
			RequireKeyword:   h.cfg.Verify.RequireKeyword,
			Canon: textnorm.CanonOptions{
				Acronyms:      h.cfg.Verify.Acronyms,
				StripBrackets: h.cfg.Verify.IgnoreBrackets,
				DropAcronyms:  h.cfg.Verify.IgnoreBrackets && !h.cfg.Verify.RequireKeyword,
			},
		},
		Track: progress.Config{
			Lookahead:       h.cfg.Verify.Lookahead,
			MaxSkips:        h.cfg.Verify.MaxSkips,
			MaxSkipFraction: h.cfg.Verify.MaxSkipFraction,
			StallSnapAfter:  h.cfg.Verify.StallSnapAfter,
			Acronyms:        h.cfg.Verify.Acronyms,
		},
		RestartMaxRetries: h.cfg.Verify.RestartMaxRetries,
		Metrics:           h.metrics,
		OnProgress: func(p consent.Progress) {
			wc.write(ctx, serverFrame{
				Type:      frameProgress,
				Pointer:   p.Pointer,
				WordCount: p.WordCount,
				LineIndex: p.LineIndex,
				Completed: p.Completed,
			})
		},
		OnComplete: func() {
			// Runs on the verifier's event loop. Closing the connection
			// here unblocks the handler's read loop.
			cctx := context.WithoutCancel(ctx)
			wc.write(cctx, serverFrame{Type: frameComplete, Pointer: sc.WordCount(), WordCount: sc.WordCount(), Completed: true})
			wc.close(websocket.StatusNormalClosure, "script verified")
		},
	})
	if err != nil {
		return nil, nil, err
	}

	sess := h.registry.Register(lang, mode, v)
	if err := v.Start(ctx); err != nil {
		h.registry.Remove(sess.ID)
		return nil, nil, err
	}
	return sess, fd, nil
}

// readFrames runs the client read loop until the connection drops, the
// client stops the session, or the script completes.
func (h *Handler) readFrames(ctx context.Context, conn *websocket.Conn, wc *wsConn, sess *app.Session, fd *feed) {
	v := sess.Verifier

	for {
		var f clientFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}

		switch f.Type {
		case frameEvent:
			fd.deliver(recognizer.Event{
				Text:        f.Text,
				IsFinal:     f.IsFinal,
				ResultIndex: f.ResultIndex,
			})

		case frameTranscript:
			if err := v.PushTranscript(f.Final, f.Interim); err != nil {
				wc.writeError(ctx, err)
			}

		case framePause:
			if err := v.Pause(); err != nil {
				wc.writeError(ctx, err)
			}

		case frameResume:
			if err := v.Resume(); err != nil {
				wc.writeError(ctx, err)
			}

		case frameNotice:
			kind := recognizer.NoticeKind(f.Kind)
			if !kind.IsValid() {
				wc.writeError(ctx, fmt.Errorf("service: unknown notice kind %q", f.Kind))
				continue
			}
			var nerr error
			if f.Error != "" {
				nerr = fmt.Errorf("%s", f.Error)
			}
			fd.notify(recognizer.Notice{Kind: kind, Err: nerr})

		case frameStop:
			v.Stop()
			conn.Close(websocket.StatusNormalClosure, "stopped by client")
			return

		default:
			wc.writeError(ctx, fmt.Errorf("service: unknown frame type %q", f.Type))
		}
	}
}

// wsConn serializes websocket writes. Progress callbacks fire on the
// verifier's event loop while the handler goroutine writes acks, so every
// write goes through here.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(ctx context.Context, f serverFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wsjson.Write(ctx, c.conn, f); err != nil {
		slog.Debug("service: frame write failed", "type", f.Type, "error", err)
	}
}

func (c *wsConn) writeError(ctx context.Context, err error) {
	c.write(ctx, serverFrame{Type: frameError, Error: err.Error()})
}

func (c *wsConn) close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.Close(code, reason)
}

// feed adapts the websocket's inbound recognition events to the
// [recognizer.Provider] contract. Each StartStream call swaps in a fresh
// session so verifier restarts after transient stream ends keep working.
type feed struct {
	mu  sync.Mutex
	cur *feedSession
}

var _ recognizer.Provider = (*feed)(nil)

func newFeed() *feed { return &feed{} }

// StartStream implements [recognizer.Provider].
func (f *feed) StartStream(ctx context.Context, cfg recognizer.StreamConfig) (recognizer.SessionHandle, error) {
	s := &feedSession{
		events:  make(chan recognizer.Event, 64),
		notices: make(chan recognizer.Notice, 8),
		done:    make(chan struct{}),
	}
	f.mu.Lock()
	f.cur = s
	f.mu.Unlock()
	return s, nil
}

// deliver hands an event to the current session. Dropped when no session
// is live or the verifier already closed it.
func (f *feed) deliver(ev recognizer.Event) {
	f.mu.Lock()
	s := f.cur
	f.mu.Unlock()
	if s == nil {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// notify forwards a recognizer lifecycle notice.
func (f *feed) notify(n recognizer.Notice) {
	f.mu.Lock()
	s := f.cur
	f.mu.Unlock()
	if s == nil {
		return
	}
	select {
	case s.notices <- n:
	case <-s.done:
	}
}

// feedSession is one stream incarnation handed to the verifier.
type feedSession struct {
	events  chan recognizer.Event
	notices chan recognizer.Notice
	done    chan struct{}
	once    sync.Once
}

var _ recognizer.SessionHandle = (*feedSession)(nil)

func (s *feedSession) Events() <-chan recognizer.Event   { return s.events }
func (s *feedSession) Notices() <-chan recognizer.Notice { return s.notices }

// Pause is a no-op; the client keeps streaming and the verifier discards
// events while paused.
func (s *feedSession) Pause() error { return nil }

// Resume is a no-op.
func (s *feedSession) Resume() error { return nil }

// Close releases delivery; pending deliver calls unblock.
func (s *feedSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
