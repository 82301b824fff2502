// Package script models the immutable reference consent script that a
// verification session aligns spoken input against.
//
// A Script is an ordered sequence of Lines (sentences); each Line is an
// ordered sequence of Words. The Script also exposes the flat Word sequence
// across all Lines together with each Line's [start, end) range into it.
// Ranges are contiguous, non-overlapping, and cover the flat sequence
// exactly once; [New] enforces this by construction and the Script is
// read-only afterwards.
package script

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/natalietdg/context-md-sub001/internal/consent/textnorm"
)

// Line is one sentence of the reference script.
type Line struct {
	// Text is the raw sentence as displayed to the speaker.
	Text string

	// Words holds the normalized word tokens of this sentence.
	Words []string

	// Start and End delimit this line's [Start, End) range in the flat
	// word sequence.
	Start, End int
}

// Script is an immutable reference consent script for one language.
// All methods are safe for concurrent use after construction.
type Script struct {
	language string
	lines    []Line
	flat     []string // normalized words
	raw      []string // original-case tokens, same indices as flat
}

// New builds a Script from raw sentence strings. Each sentence is tokenized
// with [textnorm.Normalize]; Mandarin sentences, which carry no spaces, are
// split per rune so word-mode alignment still has units to advance over.
// Sentences that normalize to nothing are dropped. A Script with zero words
// is valid and counts as already complete.
func New(language string, sentences []string) (*Script, error) {
	s := &Script{language: language}
	for _, raw := range sentences {
		rawTokens := tokenizeRaw(raw)
		normTokens := make([]string, 0, len(rawTokens))
		kept := make([]string, 0, len(rawTokens))
		for _, rt := range rawTokens {
			nt := textnorm.Normalize(rt)
			if nt == "" {
				continue
			}
			normTokens = append(normTokens, nt)
			kept = append(kept, rt)
		}
		if len(normTokens) == 0 {
			continue
		}
		line := Line{
			Text:  strings.TrimSpace(raw),
			Words: normTokens,
			Start: len(s.flat),
			End:   len(s.flat) + len(normTokens),
		}
		s.lines = append(s.lines, line)
		s.flat = append(s.flat, normTokens...)
		s.raw = append(s.raw, kept...)
	}

	// Range invariant: contiguous, non-overlapping, exact cover.
	offset := 0
	for i, ln := range s.lines {
		if ln.Start != offset || ln.End != ln.Start+len(ln.Words) {
			return nil, fmt.Errorf("script: line %d has inconsistent range [%d,%d)", i, ln.Start, ln.End)
		}
		offset = ln.End
	}
	if offset != len(s.flat) {
		return nil, fmt.Errorf("script: line ranges cover %d of %d words", offset, len(s.flat))
	}
	return s, nil
}

// tokenizeRaw splits a sentence into raw tokens. Whitespace-delimited text
// splits on fields; runs of Han characters split per rune.
func tokenizeRaw(sentence string) []string {
	var tokens []string
	for _, field := range strings.Fields(sentence) {
		if !containsHan(field) {
			tokens = append(tokens, field)
			continue
		}
		var latin strings.Builder
		for _, r := range field {
			if unicode.Is(unicode.Han, r) {
				if latin.Len() > 0 {
					tokens = append(tokens, latin.String())
					latin.Reset()
				}
				tokens = append(tokens, string(r))
				continue
			}
			latin.WriteRune(r)
		}
		if latin.Len() > 0 {
			tokens = append(tokens, latin.String())
		}
	}
	return tokens
}

// containsHan reports whether s contains at least one Han character.
func containsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// Language returns the language tag this script was built for.
func (s *Script) Language() string { return s.language }

// Lines returns the script's lines. Callers must not modify the result.
func (s *Script) Lines() []Line { return s.lines }

// FlatWords returns the flat normalized word sequence. Callers must not
// modify the result.
func (s *Script) FlatWords() []string { return s.flat }

// WordCount returns the length of the flat word sequence.
func (s *Script) WordCount() int { return len(s.flat) }

// Empty reports whether the script has no words at all.
func (s *Script) Empty() bool { return len(s.flat) == 0 }

// WordAt returns the normalized word at flat index i.
func (s *Script) WordAt(i int) string { return s.flat[i] }

// RawWordAt returns the original-case token at flat index i. Used to detect
// acronym-shaped (fully uppercase) script words after normalization has
// folded case away.
func (s *Script) RawWordAt(i int) string { return s.raw[i] }

// LineIndexFor returns the index of the line containing flat word index i.
// An index at or past the end maps to the last line; -1 is returned for an
// empty script.
func (s *Script) LineIndexFor(i int) int {
	if len(s.lines) == 0 {
		return -1
	}
	for idx, ln := range s.lines {
		if i < ln.End {
			return idx
		}
	}
	return len(s.lines) - 1
}
