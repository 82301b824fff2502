package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/natalietdg/context-md-sub001/internal/consent/script"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Verify
	v := cfg.Verify
	if v.Mode != "" && !v.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("verify.mode %q is invalid; valid values: word, sentence", v.Mode))
	}
	if v.BaseThreshold < 0 || v.BaseThreshold > 1 {
		errs = append(errs, fmt.Errorf("verify.base_threshold %.2f is out of range [0, 1]", v.BaseThreshold))
	}
	if v.RelaxedThreshold < 0 || v.RelaxedThreshold > 1 {
		errs = append(errs, fmt.Errorf("verify.relaxed_threshold %.2f is out of range [0, 1]", v.RelaxedThreshold))
	}
	if v.BaseThreshold > 0 && v.RelaxedThreshold > v.BaseThreshold {
		slog.Warn("verify.relaxed_threshold is above verify.base_threshold; the hard sentence will be stricter than the rest",
			"relaxed", v.RelaxedThreshold,
			"base", v.BaseThreshold,
		)
	}
	if v.MaxSkipFraction < 0 || v.MaxSkipFraction > 1 {
		errs = append(errs, fmt.Errorf("verify.max_skip_fraction %.2f is out of range [0, 1]", v.MaxSkipFraction))
	}
	if v.Lookahead < 0 {
		errs = append(errs, fmt.Errorf("verify.lookahead %d must not be negative", v.Lookahead))
	}
	if v.MaxSkips < 0 {
		errs = append(errs, fmt.Errorf("verify.max_skips %d must not be negative", v.MaxSkips))
	}
	if v.StallSnapAfter < 0 {
		errs = append(errs, fmt.Errorf("verify.stall_snap_after %d must not be negative", v.StallSnapAfter))
	}
	if v.RestartMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("verify.restart_max_retries %d must not be negative", v.RestartMaxRetries))
	}
	for i, a := range v.Acronyms {
		if strings.TrimSpace(a) == "" {
			errs = append(errs, fmt.Errorf("verify.acronyms[%d] is blank", i))
		}
	}

	// Script overrides
	for lang, sentences := range cfg.Scripts {
		if strings.TrimSpace(lang) == "" {
			errs = append(errs, errors.New("scripts: language key must not be blank"))
			continue
		}
		if len(sentences) == 0 {
			slog.Warn("config: script override has no sentences; sessions in this language complete immediately", "language", lang)
		}
		for i, s := range sentences {
			if strings.TrimSpace(s) == "" {
				errs = append(errs, fmt.Errorf("scripts.%s[%d] is blank", lang, i))
			}
		}
		if !slices.Contains(script.Languages(), lang) {
			slog.Warn("config: script override for a language without a built-in script", "language", lang)
		}
	}

	// Default language must resolve to some script.
	if lang := v.DefaultLanguage; lang != "" {
		if _, override := cfg.Scripts[lang]; !override {
			if _, builtin := script.Builtin(lang); !builtin {
				errs = append(errs, fmt.Errorf("verify.default_language %q has neither a built-in script nor an override", lang))
			}
		}
	}

	return errors.Join(errs...)
}

// ScriptSentences resolves the consent-script sentences for a language:
// config override first, then the built-in scripts. ok is false when the
// language is unknown to both.
func (c *Config) ScriptSentences(lang string) ([]string, bool) {
	if sentences, ok := c.Scripts[lang]; ok {
		return sentences, true
	}
	return script.Builtin(lang)
}
