// Package align scores a rolling spoken-text buffer against a window of
// candidate reference sentences and picks the best match above threshold.
//
// Similarity for a (spoken, expected) pair is the maximum of a normalized
// edit-distance score and a token-containment score, both computed on
// canonicalized text (see the textnorm package). Containment is measured
// over the expected side deliberately: a long spoken utterance with extra
// words must not be penalised for saying more than the script.
package align

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/natalietdg/context-md-sub001/internal/consent/script"
	"github.com/natalietdg/context-md-sub001/internal/consent/textnorm"
)

// Default thresholds. The relaxed threshold applies to the data-sharing
// sentence, which is acoustically hard and systematically under-scores.
const (
	DefaultBaseThreshold    = 0.7
	DefaultRelaxedThreshold = 0.6

	// hardSentenceScore is the forced similarity for the data-sharing
	// sentence when both sides carry its canonical markers. A named special
	// case, not a general pattern.
	hardSentenceScore = 0.85
)

// Config configures an [Aligner]. Zero values fall back to the defaults
// above.
type Config struct {
	// BaseThreshold is the per-candidate acceptance threshold.
	BaseThreshold float64

	// RelaxedThreshold replaces BaseThreshold for the hard data-sharing
	// sentence.
	RelaxedThreshold float64

	// RequireKeyword hard-gates candidates that mention the acronym
	// concept: such a candidate is skipped outright unless the spoken
	// buffer contains the canonical acronym token.
	RequireKeyword bool

	// Canon is the canonicalization applied to both sides before scoring.
	Canon textnorm.CanonOptions
}

// Result describes the best-scoring candidate line for one spoken buffer.
type Result struct {
	// LineIndex is the index of the best candidate in the script.
	LineIndex int

	// Score is the candidate's similarity in [0, 1].
	Score float64

	// Threshold is the effective acceptance threshold for that candidate.
	Threshold float64

	// Accepted reports Score >= Threshold.
	Accepted bool
}

// Aligner scores spoken buffers against reference lines. It is read-only
// after construction and safe for concurrent use.
type Aligner struct {
	base     float64
	relaxed  float64
	required bool
	canon    textnorm.CanonOptions
}

// New returns an Aligner for the given config.
func New(cfg Config) *Aligner {
	a := &Aligner{
		base:     cfg.BaseThreshold,
		relaxed:  cfg.RelaxedThreshold,
		required: cfg.RequireKeyword,
		canon:    cfg.Canon,
	}
	if a.base <= 0 {
		a.base = DefaultBaseThreshold
	}
	if a.relaxed <= 0 {
		a.relaxed = DefaultRelaxedThreshold
	}
	return a
}

// Align scores the spoken buffer against every candidate line from fromLine
// through the last line and returns the best-scoring candidate. ok is false
// when no candidate was scored (empty buffer, exhausted window, or all
// candidates keyword-gated).
func (a *Aligner) Align(spoken string, sc *script.Script, fromLine int) (Result, bool) {
	canonSpoken := textnorm.Canonicalize(spoken, a.canon)
	if canonSpoken == "" {
		return Result{}, false
	}
	lines := sc.Lines()
	if fromLine < 0 {
		fromLine = 0
	}

	best := Result{LineIndex: -1, Score: -1}
	for i := fromLine; i < len(lines); i++ {
		canonExpected := textnorm.Canonicalize(lines[i].Text, a.canon)
		if canonExpected == "" {
			continue
		}
		if a.required && a.keywordGated(canonSpoken, canonExpected) {
			continue
		}
		score := similarity(canonSpoken, canonExpected)
		if score > best.Score {
			best = Result{
				LineIndex: i,
				Score:     score,
				Threshold: a.thresholdFor(canonExpected),
			}
		}
	}
	if best.LineIndex < 0 {
		return Result{}, false
	}
	best.Accepted = best.Score >= best.Threshold
	return best, true
}

// keywordGated reports whether the candidate must be skipped because it
// mentions an acronym concept the speaker has not yet said.
func (a *Aligner) keywordGated(canonSpoken, canonExpected string) bool {
	for _, acr := range acronymTokens(a.canon) {
		if containsToken(canonExpected, acr) && !containsToken(canonSpoken, acr) {
			return true
		}
	}
	return false
}

// thresholdFor returns the acceptance threshold for a candidate: the relaxed
// threshold for the hard data-sharing sentence, the base threshold otherwise.
func (a *Aligner) thresholdFor(canonExpected string) float64 {
	if isHardSentence(canonExpected) {
		return a.relaxed
	}
	return a.base
}

// acronymTokens returns the normalized acronym list in effect for opts.
func acronymTokens(opts textnorm.CanonOptions) []string {
	src := opts.Acronyms
	if len(src) == 0 {
		src = textnorm.DefaultAcronyms
	}
	out := make([]string, 0, len(src))
	for _, s := range src {
		if n := textnorm.Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// isHardSentence recognises the data-sharing sentence by its canonical
// markers.
func isHardSentence(canon string) bool {
	return containsToken(canon, textnorm.MarkerThirdParties) &&
		containsToken(canon, textnorm.MarkerWithoutConsent)
}

// similarity returns the score for one (spoken, expected) canonical pair.
func similarity(canonSpoken, canonExpected string) float64 {
	// Named special case: the data-sharing sentence under-scores even when
	// spoken correctly, so the presence of its markers on both sides forces
	// a fixed high score.
	if isHardSentence(canonExpected) && isHardSentence(canonSpoken) {
		return hardSentenceScore
	}

	score := pairScore(canonSpoken, canonExpected)

	// The trailing legal-exception clause is non-essential; re-score with
	// it stripped so a speaker may omit it.
	if stripped, ok := stripTrailingException(canonExpected); ok {
		if s := pairScore(canonSpoken, stripped); s > score {
			score = s
		}
	}
	return score
}

// pairScore is max(edit-distance score, containment score).
func pairScore(canonSpoken, canonExpected string) float64 {
	score := editScore(canonSpoken, canonExpected)
	if c := containment(canonSpoken, canonExpected); c > score {
		score = c
	}
	return score
}

// editScore is one minus the normalized Levenshtein distance between the two
// texts, with the distance normalized by the expected length and the result
// floored at zero.
func editScore(canonSpoken, canonExpected string) float64 {
	n := utf8.RuneCountInString(canonExpected)
	if n == 0 {
		return 0
	}
	d := matchr.Levenshtein(canonSpoken, canonExpected)
	s := 1 - float64(d)/float64(n)
	if s < 0 {
		return 0
	}
	return s
}

// containment is the fraction of expected content tokens also present in the
// spoken content tokens. Containment over the expected side, not Jaccard.
func containment(canonSpoken, canonExpected string) float64 {
	expected := textnorm.ContentTokens(strings.Fields(canonExpected))
	if len(expected) == 0 {
		return 0
	}
	spoken := make(map[string]bool)
	for _, t := range textnorm.ContentTokens(strings.Fields(canonSpoken)) {
		spoken[t] = true
	}
	hit := 0
	for _, t := range expected {
		if spoken[t] {
			hit++
		}
	}
	return float64(hit) / float64(len(expected))
}

// stripTrailingException removes the canonical trailing legal-exception
// marker from expected, if present.
func stripTrailingException(canonExpected string) (string, bool) {
	trimmed := strings.TrimSuffix(canonExpected, " "+textnorm.MarkerRequiredByLaw)
	if trimmed == canonExpected {
		return canonExpected, false
	}
	return trimmed, true
}

// containsToken reports whether the space-separated canonical text contains
// token as a whole token.
func containsToken(canon, token string) bool {
	for _, t := range strings.Fields(canon) {
		if t == token {
			return true
		}
	}
	return false
}
