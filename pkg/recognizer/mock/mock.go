// Package mock provides test doubles for the recognizer package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig, and queue multiple Session values to exercise restart
// behavior. Use Session to feed controlled Event and Notice values.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Sessions: []recognizer.SessionHandle{sess}}
//	handle, _ := p.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/natalietdg/context-md-sub001/pkg/recognizer"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg recognizer.StreamConfig
}

// Provider is a mock implementation of recognizer.Provider.
type Provider struct {
	mu sync.Mutex

	// Sessions is a queue of handles returned by successive StartStream
	// calls, consumed front to back. When the queue is exhausted (or nil),
	// StartStream returns a fresh default Session.
	Sessions []recognizer.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from every
	// StartStream call.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and pops the next queued session.
func (p *Provider) StartStream(ctx context.Context, cfg recognizer.StreamConfig) (recognizer.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if len(p.Sessions) > 0 {
		s := p.Sessions[0]
		p.Sessions = p.Sessions[1:]
		return s, nil
	}
	return NewSession(), nil
}

// StartStreamCallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) StartStreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

// Ensure Provider implements recognizer.Provider at compile time.
var _ recognizer.Provider = (*Provider)(nil)

// Session is a mock implementation of recognizer.SessionHandle.
// Callers send the Event and Notice values they want the consumer to
// receive on EventsCh and NoticesCh; Close closes both channels exactly
// once so consumers observe end-of-stream the way they would with a real
// provider.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Callers own the
	// sending side.
	EventsCh chan recognizer.Event

	// NoticesCh is the channel returned by Notices(). Callers own the
	// sending side.
	NoticesCh chan recognizer.Notice

	// PauseErr, if non-nil, is returned by every Pause call.
	PauseErr error

	// ResumeErr, if non-nil, is returned by every Resume call.
	ResumeErr error

	// CloseErr, if non-nil, is returned by the first Close call.
	CloseErr error

	// --- Call records ---

	// PauseCallCount is the number of times Pause was called.
	PauseCallCount int

	// ResumeCallCount is the number of times Resume was called.
	ResumeCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

// NewSession returns a Session with buffered channels ready for use.
func NewSession() *Session {
	return &Session{
		EventsCh:  make(chan recognizer.Event, 16),
		NoticesCh: make(chan recognizer.Notice, 16),
	}
}

// Events returns EventsCh.
func (s *Session) Events() <-chan recognizer.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Notices returns NoticesCh.
func (s *Session) Notices() <-chan recognizer.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.NoticesCh
}

// Pause records the call and returns PauseErr.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PauseCallCount++
	return s.PauseErr
}

// Resume records the call and returns ResumeErr.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResumeCallCount++
	return s.ResumeErr
}

// Close records the call, closes both channels on the first invocation, and
// returns CloseErr once. Later calls return nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.EventsCh)
	close(s.NoticesCh)
	return s.CloseErr
}

// Emit sends an event on EventsCh. It is a convenience for tests; sending
// on EventsCh directly is equally valid.
func (s *Session) Emit(text string, final bool, resultIndex int) {
	s.EventsCh <- recognizer.Event{Text: text, IsFinal: final, ResultIndex: resultIndex}
}

// Notify sends a notice on NoticesCh.
func (s *Session) Notify(kind recognizer.NoticeKind, err error) {
	s.NoticesCh <- recognizer.Notice{Kind: kind, Err: err}
}

// Ensure Session implements recognizer.SessionHandle at compile time.
var _ recognizer.SessionHandle = (*Session)(nil)
