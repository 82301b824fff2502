package service_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/natalietdg/context-md-sub001/internal/app"
	"github.com/natalietdg/context-md-sub001/internal/config"
	"github.com/natalietdg/context-md-sub001/internal/consent"
	"github.com/natalietdg/context-md-sub001/internal/service"
)

// frame mirrors the wire shape in both directions; unused fields stay
// zero.
type frame struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id,omitempty"`
	Language    string `json:"language,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Text        string `json:"text,omitempty"`
	IsFinal     bool   `json:"is_final,omitempty"`
	ResultIndex int    `json:"result_index,omitempty"`
	Final       string `json:"final,omitempty"`
	Interim     string `json:"interim,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Pointer     int    `json:"pointer"`
	WordCount   int    `json:"word_count,omitempty"`
	Completed   bool   `json:"completed,omitempty"`
	Error       string `json:"error,omitempty"`
}

func testConfig() *config.Config {
	return &config.Config{
		Verify: config.VerifyConfig{
			Mode:            consent.ModeWord,
			DefaultLanguage: "en",
		},
		Scripts: map[string][]string{
			"en": {"I consent to the recording."},
		},
	}
}

// startServer serves the handler and returns a connected client.
func startServer(t *testing.T, cfg *config.Config) (*websocket.Conn, *app.Registry) {
	t.Helper()
	registry := app.NewRegistry()
	srv := httptest.NewServer(service.NewHandler(cfg, registry, nil))
	t.Cleanup(srv.Close)
	t.Cleanup(registry.StopAll)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn, registry
}

func send(t *testing.T, conn *websocket.Conn, f frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, f); err != nil {
		t.Fatalf("send %s frame: %v", f.Type, err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("recv: %v", err)
	}
	return f
}

// recvUntil reads frames until one of the wanted type arrives, skipping
// progress frames along the way.
func recvUntil(t *testing.T, conn *websocket.Conn, wantType string) frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f := recv(t, conn)
		if f.Type == wantType {
			return f
		}
		if f.Type != "progress" {
			t.Fatalf("unexpected %s frame while waiting for %s: %+v", f.Type, wantType, f)
		}
	}
	t.Fatalf("no %s frame within deadline", wantType)
	return frame{}
}

func TestHandler_WordModeSessionCompletes(t *testing.T) {
	t.Parallel()
	conn, _ := startServer(t, testConfig())

	send(t, conn, frame{Type: "start", Language: "en", Mode: "word"})
	started := recv(t, conn)
	if started.Type != "started" || started.SessionID == "" {
		t.Fatalf("expected started frame with session id, got %+v", started)
	}

	send(t, conn, frame{Type: "event", Text: "I consent to the", ResultIndex: 0})
	send(t, conn, frame{Type: "event", Text: "I consent to the recording", IsFinal: true, ResultIndex: 0})

	done := recvUntil(t, conn, "complete")
	if !done.Completed {
		t.Errorf("complete frame not marked completed: %+v", done)
	}
	if done.Pointer != 5 || done.WordCount != 5 {
		t.Errorf("complete frame pointer/word_count = %d/%d, want 5/5", done.Pointer, done.WordCount)
	}
}

func TestHandler_ProgressFramesAdvanceMonotonically(t *testing.T) {
	t.Parallel()
	conn, _ := startServer(t, testConfig())

	send(t, conn, frame{Type: "start"})
	recv(t, conn) // started

	send(t, conn, frame{Type: "event", Text: "I consent", ResultIndex: 0})
	first := recvUntil(t, conn, "progress")
	if first.Pointer < 1 {
		t.Fatalf("first progress pointer = %d, want >= 1", first.Pointer)
	}

	send(t, conn, frame{Type: "event", Text: "I consent to the recording", IsFinal: true, ResultIndex: 0})
	prev := first.Pointer
	for {
		f := recv(t, conn)
		if f.Pointer < prev {
			t.Fatalf("pointer went backwards: %d -> %d", prev, f.Pointer)
		}
		prev = f.Pointer
		if f.Type == "complete" {
			break
		}
	}
}

func TestHandler_TranscriptSnapshotDrivesSession(t *testing.T) {
	t.Parallel()
	conn, _ := startServer(t, testConfig())

	send(t, conn, frame{Type: "start", Mode: "sentence"})
	recv(t, conn) // started

	send(t, conn, frame{Type: "transcript", Final: "I consent to the recording."})
	done := recvUntil(t, conn, "complete")
	if !done.Completed {
		t.Errorf("complete frame not marked completed: %+v", done)
	}
}

func TestHandler_UnknownLanguageRejected(t *testing.T) {
	t.Parallel()
	conn, _ := startServer(t, testConfig())

	send(t, conn, frame{Type: "start", Language: "xx"})
	f := recv(t, conn)
	if f.Type != "error" {
		t.Fatalf("expected error frame, got %+v", f)
	}
	if !strings.Contains(f.Error, "xx") {
		t.Errorf("error should name the language, got %q", f.Error)
	}
}

func TestHandler_InvalidModeRejected(t *testing.T) {
	t.Parallel()
	conn, _ := startServer(t, testConfig())

	send(t, conn, frame{Type: "start", Mode: "karaoke"})
	f := recv(t, conn)
	if f.Type != "error" {
		t.Fatalf("expected error frame, got %+v", f)
	}
}

func TestHandler_FirstFrameMustBeStart(t *testing.T) {
	t.Parallel()
	conn, _ := startServer(t, testConfig())

	send(t, conn, frame{Type: "event", Text: "hello"})
	f := recv(t, conn)
	if f.Type != "error" {
		t.Fatalf("expected error frame, got %+v", f)
	}
}

func TestHandler_PauseDiscardsEvents(t *testing.T) {
	t.Parallel()
	conn, _ := startServer(t, testConfig())

	send(t, conn, frame{Type: "start"})
	recv(t, conn) // started

	send(t, conn, frame{Type: "pause"})
	send(t, conn, frame{Type: "event", Text: "I consent to the recording", IsFinal: true, ResultIndex: 0})

	// The paused session must not complete; give it a moment.
	time.Sleep(100 * time.Millisecond)

	send(t, conn, frame{Type: "resume"})
	send(t, conn, frame{Type: "event", Text: "I consent to the recording", IsFinal: true, ResultIndex: 1})

	done := recvUntil(t, conn, "complete")
	if done.Pointer != 5 {
		t.Errorf("pointer = %d, want 5", done.Pointer)
	}
}

func TestHandler_StopFrameEndsSession(t *testing.T) {
	t.Parallel()
	conn, registry := startServer(t, testConfig())

	send(t, conn, frame{Type: "start"})
	started := recv(t, conn)
	if registry.Count() != 1 {
		t.Fatalf("registry count = %d after start, want 1", registry.Count())
	}

	send(t, conn, frame{Type: "stop"})

	deadline := time.Now().Add(3 * time.Second)
	for registry.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if registry.Count() != 0 {
		t.Errorf("registry still holds session %s after stop", started.SessionID)
	}
}

func TestHandler_TransientNoticeKeepsSessionAlive(t *testing.T) {
	t.Parallel()
	conn, _ := startServer(t, testConfig())

	send(t, conn, frame{Type: "start"})
	recv(t, conn) // started

	send(t, conn, frame{Type: "event", Text: "I consent", IsFinal: true, ResultIndex: 0})
	recvUntil(t, conn, "progress")

	// Client recognizer restarted; the session should survive and the
	// fresh utterance should finish the script.
	send(t, conn, frame{Type: "notice", Kind: "ended"})
	time.Sleep(50 * time.Millisecond)
	send(t, conn, frame{Type: "event", Text: "to the recording", IsFinal: true, ResultIndex: 0})

	done := recvUntil(t, conn, "complete")
	if !done.Completed {
		t.Errorf("session did not complete after transient notice: %+v", done)
	}
}
