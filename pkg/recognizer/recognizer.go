// Package recognizer defines the Provider interface for streaming
// speech-recognition backends.
//
// A recognizer provider wraps a real-time transcription service (e.g.
// Google Cloud Speech-to-Text or a browser-side recognizer relayed over a
// websocket) and exposes a uniform streaming interface. The central
// abstraction is SessionHandle: once opened, a session emits a stream of
// Event values — interim hypotheses that may be rewritten, and final
// results that are authoritative — plus out-of-band Notice values for
// stream lifecycle conditions such as silence timeouts and transient ends.
//
// Implementations must be safe for concurrent use. Event and notice
// channels are goroutine-safe by construction.
package recognizer

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional SessionHandle operations that the
// underlying backend cannot perform, such as pausing a relay that has no
// pause control.
var ErrNotSupported = errors.New("recognizer: operation not supported")

// StreamConfig describes the recognition parameters for a new session.
type StreamConfig struct {
	// Language is the recognition language tag (e.g. "en", "zh", "ms").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// Interim requests low-latency interim hypotheses in addition to
	// final results. Providers without interim support ignore this and
	// emit finals only.
	Interim bool
}

// Event is one recognition result from an open session.
type Event struct {
	// Text is the recognized text of this result so far.
	Text string

	// IsFinal marks the result as authoritative: its text will not be
	// rewritten by later events. Non-final events for the same
	// ResultIndex grow (or rewrite) the same utterance.
	IsFinal bool

	// ResultIndex identifies the utterance this event belongs to.
	// Successive events for one utterance share an index; a new
	// utterance gets a fresh one.
	ResultIndex int
}

// NoticeKind classifies an out-of-band session notice.
type NoticeKind string

// Valid NoticeKind values.
const (
	// NoticeEnded signals that the underlying stream ended without the
	// caller closing it. Often transient (provider-side time limits);
	// callers typically restart the session.
	NoticeEnded NoticeKind = "ended"

	// NoticeSilence signals that the provider gave up waiting for
	// speech. Also usually transient.
	NoticeSilence NoticeKind = "silence"

	// NoticeFailure signals a terminal provider error; Err carries the
	// cause.
	NoticeFailure NoticeKind = "failure"
)

// IsValid returns whether k is a known NoticeKind.
func (k NoticeKind) IsValid() bool {
	switch k {
	case NoticeEnded, NoticeSilence, NoticeFailure:
		return true
	}
	return false
}

// Transient reports whether a session hitting this notice is worth
// restarting.
func (k NoticeKind) Transient() bool {
	return k == NoticeEnded || k == NoticeSilence
}

// Notice is an out-of-band lifecycle signal from an open session.
type Notice struct {
	// Kind classifies the notice.
	Kind NoticeKind

	// Err carries the underlying error for NoticeFailure; nil otherwise.
	Err error
}

// SessionHandle represents an open recognition session. It is an interface
// so that test code can provide mock implementations without a live
// provider connection.
//
// Callers must call Close when the session is no longer needed; failing to
// do so may leak goroutines and network connections inside the provider.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// Events returns a read-only channel of recognition results. The
	// channel is closed when the session ends.
	Events() <-chan Event

	// Notices returns a read-only channel of lifecycle notices. The
	// channel is closed when the session ends.
	Notices() <-chan Notice

	// Pause suspends recognition without tearing the session down.
	// Providers that cannot pause return ErrNotSupported.
	Pause() error

	// Resume restarts recognition after Pause. Providers that cannot
	// pause return ErrNotSupported.
	Resume() error

	// Close terminates the session and releases all associated
	// resources. After Close returns, the Events and Notices channels
	// will be closed. Calling Close more than once is safe and returns
	// nil.
	Close() error
}

// Provider is the abstraction over any streaming recognition backend.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// open simultaneously.
type Provider interface {
	// StartStream opens a new streaming recognition session. The returned
	// SessionHandle is live immediately.
	//
	// Returns an error if the session cannot be established (e.g.
	// authentication failure or ctx already cancelled). The caller owns
	// the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
