package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/natalietdg/context-md-sub001/internal/config"
	"github.com/natalietdg/context-md-sub001/internal/consent"
)

const watchedConfig = `
server:
  log_level: info
verify:
  mode: word
  default_language: en
scripts:
  en:
    - "This consultation will be recorded."
    - "Do you consent to the recording?"
`

const watchedConfigEdited = `
server:
  log_level: debug
verify:
  mode: sentence
  default_language: en
scripts:
  en:
    - "This consultation will be recorded for documentation."
    - "Do you consent to the recording?"
`

// rewriteConfig creates or replaces the watched config file.
func rewriteConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// startWatcher runs a fast-polling watcher whose accepted reloads are
// delivered on the returned channel.
func startWatcher(t *testing.T, path string) (*config.Watcher, <-chan *config.Config) {
	t.Helper()
	reloads := make(chan *config.Config, 4)
	w, err := config.NewWatcher(path, func(_, new *config.Config) {
		reloads <- new
	}, config.WithInterval(25*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, reloads
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewriteConfig(t, path, watchedConfig)

	w, _ := startWatcher(t, path)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() is nil right after construction")
	}
	if cfg.Verify.Mode != consent.ModeWord {
		t.Errorf("mode = %q, want word", cfg.Verify.Mode)
	}
	if got := cfg.Scripts["en"]; len(got) != 2 || got[0] != "This consultation will be recorded." {
		t.Errorf("en script override = %v", got)
	}
}

func TestWatcher_PicksUpScriptEdit(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewriteConfig(t, path, watchedConfig)

	w, reloads := startWatcher(t, path)

	// Let at least one clean poll pass before editing.
	time.Sleep(60 * time.Millisecond)
	rewriteConfig(t, path, watchedConfigEdited)

	select {
	case cfg := <-reloads:
		if cfg.Verify.Mode != consent.ModeSentence {
			t.Errorf("reloaded mode = %q, want sentence", cfg.Verify.Mode)
		}
		if got := cfg.Scripts["en"][0]; got != "This consultation will be recorded for documentation." {
			t.Errorf("reloaded en script line = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("script edit was never picked up")
	}

	if lvl := w.Current().Server.LogLevel; lvl != config.LogDebug {
		t.Errorf("Current() log level = %q, want debug", lvl)
	}
}

func TestWatcher_InvalidEditKeepsServingOldConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewriteConfig(t, path, watchedConfig)

	w, reloads := startWatcher(t, path)

	time.Sleep(60 * time.Millisecond)
	rewriteConfig(t, path, "verify:\n  mode: karaoke\n")

	// Give it several polls to (wrongly) accept the broken file.
	select {
	case cfg := <-reloads:
		t.Fatalf("invalid config was accepted: %+v", cfg)
	case <-time.After(200 * time.Millisecond):
	}

	if mode := w.Current().Verify.Mode; mode != consent.ModeWord {
		t.Errorf("Current() mode = %q, want the pre-edit word mode", mode)
	}
}

func TestWatcher_TouchWithoutEditIsSilent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewriteConfig(t, path, watchedConfig)

	_, reloads := startWatcher(t, path)

	time.Sleep(60 * time.Millisecond)
	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}

	select {
	case <-reloads:
		t.Fatal("mtime-only touch triggered a reload callback")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewriteConfig(t, path, watchedConfig)

	w, _ := startWatcher(t, path)
	w.Stop()
	w.Stop()
}
