// Package progress owns the monotonic progress pointer of a verification
// session.
//
// In word mode the [Tracker] consumes recognized tokens one at a time and
// advances the pointer through the flat word sequence using a bounded
// lookahead window, a replenishing skip budget, anchor protection, acronym
// letter accumulation, and a stall-recovery snap. In sentence mode the
// tracker simply applies the sentence aligner's verdict via [Tracker.ApplyLine].
//
// The pointer never decreases: every candidate value is applied only when
// strictly greater than the current one, and completion is observable
// exactly when the pointer reaches the end of the flat sequence.
package progress

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/natalietdg/context-md-sub001/internal/consent/match"
	"github.com/natalietdg/context-md-sub001/internal/consent/script"
	"github.com/natalietdg/context-md-sub001/internal/consent/textnorm"
)

// Defaults for word-mode alignment.
const (
	DefaultLookahead       = 12
	DefaultMaxSkips        = 20
	DefaultMaxSkipFraction = 0.75
	DefaultStallSnapAfter  = 3

	// maxConsecutiveSkips caps permissive skips between genuine matches.
	// Together with the require-exact gate it stops noisy input from
	// sliding the pointer arbitrarily far ahead.
	maxConsecutiveSkips = 1

	// stallCap bounds the stall counter (and therefore the widened
	// lookahead window).
	stallCap = 6

	// anchorMinLen is the minimum rune length for a word to be
	// load-bearing. Anchors are never skipped permissively.
	anchorMinLen = 5
)

// Config tunes a word-mode [Tracker]. Zero values fall back to the package
// defaults.
type Config struct {
	// Lookahead is the forward search window, in words, for a genuine
	// match. Temporarily widened after repeated stalls.
	Lookahead int

	// MaxSkips is the absolute cap on the skip budget.
	MaxSkips int

	// MaxSkipFraction bounds the skip budget relative to script length:
	// the budget is min(MaxSkips, ceil(MaxSkipFraction × wordCount)).
	MaxSkipFraction float64

	// StallSnapAfter is the number of consecutive stalled events after
	// which the tracker snaps to the next line start, provided the current
	// line already registered a genuine match.
	StallSnapAfter int

	// Acronyms lists acronym tokens eligible for letter-by-letter partial
	// consumption, in addition to acronym-shaped (fully uppercase) script
	// words.
	Acronyms []string
}

// Tracker holds the alignment state for one verification session. It is not
// safe for concurrent use; the engine's single event loop is its only
// caller.
type Tracker struct {
	sc       *script.Script
	anchors  []bool
	acronyms map[string]bool

	lookahead      int
	stallSnapAfter int
	skipCap        int

	pointer      int
	skipBudget   int
	consecSkips  int
	requireExact bool
	stalls       int

	// lineMatched marks lines that registered at least one genuine match,
	// which makes them safe to snap past.
	lineMatched []bool

	// acronymRunes counts letters of the expected acronym at the pointer
	// already consumed across events.
	acronymRunes int
}

// NewTracker builds a Tracker over sc.
func NewTracker(sc *script.Script, cfg Config) *Tracker {
	lookahead := cfg.Lookahead
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	maxSkips := cfg.MaxSkips
	if maxSkips <= 0 {
		maxSkips = DefaultMaxSkips
	}
	fraction := cfg.MaxSkipFraction
	if fraction <= 0 {
		fraction = DefaultMaxSkipFraction
	}
	snapAfter := cfg.StallSnapAfter
	if snapAfter <= 0 {
		snapAfter = DefaultStallSnapAfter
	}

	skipCap := int(math.Ceil(fraction * float64(sc.WordCount())))
	if skipCap > maxSkips {
		skipCap = maxSkips
	}

	acronyms := make(map[string]bool, len(cfg.Acronyms))
	for _, a := range cfg.Acronyms {
		if n := textnorm.Normalize(a); n != "" {
			acronyms[n] = true
		}
	}
	if len(cfg.Acronyms) == 0 {
		for _, a := range textnorm.DefaultAcronyms {
			acronyms[a] = true
		}
	}

	t := &Tracker{
		sc:             sc,
		acronyms:       acronyms,
		lookahead:      lookahead,
		stallSnapAfter: snapAfter,
		skipCap:        skipCap,
		skipBudget:     skipCap,
		lineMatched:    make([]bool, len(sc.Lines())),
	}
	t.anchors = buildAnchors(sc)
	return t
}

// buildAnchors marks load-bearing word indices: non-stopwords of length
// ≥ anchorMinLen.
func buildAnchors(sc *script.Script) []bool {
	anchors := make([]bool, sc.WordCount())
	for i, w := range sc.FlatWords() {
		if !textnorm.IsStopword(w) && utf8.RuneCountInString(w) >= anchorMinLen {
			anchors[i] = true
		}
	}
	return anchors
}

// Pointer returns the current flat-sequence position.
func (t *Tracker) Pointer() int { return t.pointer }

// Completed reports whether the pointer has reached the end of the flat
// sequence. An empty script counts as complete immediately, so a session
// over a degenerate script can never get stuck listening.
func (t *Tracker) Completed() bool { return t.pointer >= t.sc.WordCount() }

// SkipBudget returns the remaining permissive-skip budget.
func (t *Tracker) SkipBudget() int { return t.skipBudget }

// CurrentLine returns the index of the line containing the pointer.
func (t *Tracker) CurrentLine() int { return t.sc.LineIndexFor(t.pointer) }

// ObserveTokens processes the newly observed recognized tokens of one
// recognition event, in order, and returns whether the pointer advanced.
// Tokens already consumed in a previous event must not be passed again; the
// engine tracks its own per-utterance cursor.
func (t *Tracker) ObserveTokens(tokens []string) bool {
	if t.Completed() {
		return false
	}
	advanced := false
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if t.observeToken(tok) {
			advanced = true
		}
		if t.Completed() {
			break
		}
	}

	if advanced {
		t.stalls = 0
		return true
	}

	// Stalled event: widen the window and, once the stall counter trips,
	// snap to the next line start when the current line is safe.
	if t.stalls < stallCap {
		t.stalls++
	}
	if t.stalls >= t.stallSnapAfter {
		if t.snapToNextLine() {
			t.stalls = 0
			return true
		}
	}
	return false
}

// observeToken runs the per-token decision ladder: genuine match in the
// lookahead window, acronym letter accumulation, then a permissive skip.
func (t *Tracker) observeToken(token string) bool {
	// 1. Genuine match within the (possibly widened) lookahead window.
	window := t.lookahead + t.stalls
	limit := t.pointer + window
	if limit > t.sc.WordCount() {
		limit = t.sc.WordCount()
	}
	for i := t.pointer; i < limit; i++ {
		if !t.matches(t.sc.WordAt(i), token) {
			continue
		}
		t.setPointer(i + 1)
		t.registerGenuineMatch(i)
		return true
	}

	// 2. Acronym partial consumption at the pointer.
	if done, consumed := t.consumeAcronymLetter(token); consumed {
		if done {
			idx := t.pointer
			t.setPointer(idx + 1)
			t.registerGenuineMatch(idx)
			return true
		}
		// A letter was absorbed without moving the pointer; the event
		// still counts as activity so stalls do not accumulate mid-spelling.
		return true
	}

	// 3. Permissive skip, guarded by budget, anchors, and the consecutive
	// cap.
	if t.skipBudget > 0 && t.consecSkips < maxConsecutiveSkips && !t.anchors[t.pointer] {
		t.setPointer(t.pointer + 1)
		t.skipBudget--
		t.consecSkips++
		t.requireExact = true
		t.acronymRunes = 0
		return true
	}

	t.acronymRunes = 0
	return false
}

// matches applies either fuzzy or exact matching depending on the
// require-exact gate set after a permissive skip.
func (t *Tracker) matches(expected, token string) bool {
	if t.requireExact {
		return match.Exact(expected, token)
	}
	return match.CloseMatch(expected, token)
}

// registerGenuineMatch updates bookkeeping after a confirmed word match at
// flat index i: the skip budget replenishes by one (bounded by its cap), the
// require-exact gate and consecutive-skip counter reset, and the containing
// line becomes safe to snap past.
func (t *Tracker) registerGenuineMatch(i int) {
	if t.skipBudget < t.skipCap {
		t.skipBudget++
	}
	t.requireExact = false
	t.consecSkips = 0
	t.acronymRunes = 0
	if li := t.sc.LineIndexFor(i); li >= 0 {
		t.lineMatched[li] = true
	}
}

// consumeAcronymLetter handles a speaker spelling the expected acronym
// letter by letter. Returns (done, consumed): consumed reports that the
// token was absorbed as the next letter; done reports that the full acronym
// has now been spelled.
func (t *Tracker) consumeAcronymLetter(token string) (done, consumed bool) {
	if utf8.RuneCountInString(token) != 1 || t.pointer >= t.sc.WordCount() {
		return false, false
	}
	expected := t.sc.WordAt(t.pointer)
	if !t.isAcronymWord(t.pointer, expected) {
		return false, false
	}
	letters := []rune(expected)
	if t.acronymRunes >= len(letters) || string(letters[t.acronymRunes]) != token {
		t.acronymRunes = 0
		return false, false
	}
	t.acronymRunes++
	return t.acronymRunes == len(letters), true
}

// isAcronymWord reports whether the expected word at flat index i is a
// known acronym or acronym-shaped: a short, fully uppercase token in the raw
// script text.
func (t *Tracker) isAcronymWord(i int, expected string) bool {
	if t.acronyms[expected] {
		return true
	}
	raw := strings.Trim(t.sc.RawWordAt(i), "().,;:!?")
	n := utf8.RuneCountInString(raw)
	return n >= 2 && n <= 6 && raw == strings.ToUpper(raw) && raw != strings.ToLower(raw)
}

// snapToNextLine moves the pointer to the start of the next line as a stall
// recovery, but only when the current line has already registered a genuine
// match. The require-exact gate is set afterwards.
func (t *Tracker) snapToNextLine() bool {
	li := t.sc.LineIndexFor(t.pointer)
	if li < 0 || !t.lineMatched[li] {
		return false
	}
	end := t.sc.Lines()[li].End
	if end <= t.pointer {
		return false
	}
	t.setPointer(end)
	t.requireExact = true
	t.consecSkips = 0
	t.acronymRunes = 0
	return true
}

// ApplyLine advances the pointer to the end of the given line, as decided by
// the sentence aligner. Regression is impossible by construction.
func (t *Tracker) ApplyLine(lineIndex int) bool {
	lines := t.sc.Lines()
	if lineIndex < 0 || lineIndex >= len(lines) {
		return false
	}
	return t.setPointer(lines[lineIndex].End)
}

// setPointer applies a candidate pointer value, keeping the pointer strictly
// monotonic. Returns whether the pointer moved.
func (t *Tracker) setPointer(p int) bool {
	if p <= t.pointer {
		return false
	}
	if p > t.sc.WordCount() {
		p = t.sc.WordCount()
	}
	t.pointer = p
	return p > 0
}
