// Package config provides the configuration schema, loader, and file
// watcher for the consent verification service.
package config

import "github.com/natalietdg/context-md-sub001/internal/consent"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the service.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Verify VerifyConfig `yaml:"verify"`

	// Scripts maps a language tag to override consent-script sentences.
	// Languages without an override fall back to the built-in scripts.
	Scripts map[string][]string `yaml:"scripts"`
}

// ServerConfig holds network and logging settings for the server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// VerifyConfig tunes the alignment engine. Zero values fall back to the
// engine defaults; these knobs exist for clinics whose scripts or acoustics
// need different behaviour, not for per-session tweaking.
type VerifyConfig struct {
	// Mode selects word-by-word or sentence-by-sentence alignment.
	Mode consent.Mode `yaml:"mode"`

	// DefaultLanguage is the script language used when a session does not
	// specify one (e.g., "en").
	DefaultLanguage string `yaml:"default_language"`

	// BaseThreshold is the sentence-acceptance threshold in (0, 1].
	BaseThreshold float64 `yaml:"base_threshold"`

	// RelaxedThreshold replaces BaseThreshold for the hard data-sharing
	// sentence. Expected to be at or below BaseThreshold.
	RelaxedThreshold float64 `yaml:"relaxed_threshold"`

	// RequireKeyword hard-gates acronym-bearing sentences on the speaker
	// actually saying the acronym.
	RequireKeyword bool `yaml:"require_keyword"`

	// IgnoreBrackets drops bracketed spans (and the acronyms inside them)
	// from both sides before matching.
	IgnoreBrackets bool `yaml:"ignore_brackets"`

	// Lookahead is the word-mode forward search window, in words.
	Lookahead int `yaml:"lookahead"`

	// MaxSkips caps the word-mode skip budget.
	MaxSkips int `yaml:"max_skips"`

	// MaxSkipFraction bounds the skip budget relative to script length,
	// in [0, 1].
	MaxSkipFraction float64 `yaml:"max_skip_fraction"`

	// StallSnapAfter is the number of consecutive stalled events before
	// the pointer snaps to the next line start.
	StallSnapAfter int `yaml:"stall_snap_after"`

	// RestartMaxRetries bounds recognizer restarts after transient
	// stream ends.
	RestartMaxRetries int `yaml:"restart_max_retries"`

	// Acronyms lists acronym tokens the engine treats specially
	// (letter-by-letter spelling, keyword gating). Defaults to the
	// built-in list when empty.
	Acronyms []string `yaml:"acronyms"`
}
