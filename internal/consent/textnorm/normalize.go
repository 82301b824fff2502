// Package textnorm canonicalises spoken and scripted text before alignment.
//
// Two layers are provided:
//
//  1. [Normalize] — language-neutral cleanup (case folding, Unicode NFC
//     composition, punctuation and whitespace handling). Normalize is pure
//     and idempotent: Normalize(Normalize(s)) == Normalize(s).
//
//  2. [Canonicalize] — domain equivalence mapping on top of Normalize:
//     spelled-out acronyms are collapsed into a single token and known legal
//     paraphrases are folded into canonical marker tokens, so that legally
//     equivalent wordings compare as equal.
//
// The consent scripts are read aloud in English, Mandarin, and Malay, so the
// punctuation tables cover both ASCII and full-width CJK forms.
package textnorm

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// punctReplaced holds punctuation runes that act as token separators. They
// are replaced with a space so that "third-party" still splits into two
// comparable tokens.
var punctReplaced = map[rune]bool{
	'.': true, ',': true, '!': true, '?': true, ';': true, ':': true,
	'"': true, '(': true, ')': true, '[': true, ']': true, '{': true, '}': true,
	'-': true, '–': true, '—': true, '/': true, '«': true, '»': true,
	'“': true, '”': true, '…': true, '·': true, '~': true,
	// Full-width CJK sentence punctuation.
	'。': true, '，': true, '！': true, '？': true, '；': true, '：': true,
	'、': true, '（': true, '）': true, '【': true, '】': true,
	'「': true, '」': true, '『': true, '』': true, '・': true, '～': true,
	'〜': true, '．': true, '｛': true, '｝': true, '［': true, '］': true,
}

// punctDeleted holds punctuation runes that are removed without leaving a
// separator, so "don't" becomes "dont" rather than "don t".
var punctDeleted = map[rune]bool{
	'\'': true, '’': true, '‘': true, '`': true,
}

// Normalize canonicalises text for comparison: Unicode NFC composition,
// lowercasing, punctuation stripping, and whitespace collapse. It is a pure
// function and idempotent.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case punctDeleted[r]:
			// dropped entirely
		case punctReplaced[r]:
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// bracketPairs lists the open/close rune pairs whose spans
// [NormalizeStripBrackets] removes, in both ASCII and full-width forms.
var bracketPairs = [][2]rune{
	{'(', ')'}, {'[', ']'}, {'{', '}'},
	{'（', '）'}, {'【', '】'}, {'「', '」'}, {'『', '』'},
}

// NormalizeStripBrackets is [Normalize] with parenthetical and bracketed
// spans removed first. It is used when the speaker is allowed to skip a
// bracketed expansion in the reference script, e.g. a spelled-out acronym.
// Unbalanced brackets are left for Normalize to strip as plain punctuation.
func NormalizeStripBrackets(text string) string {
	return Normalize(stripBracketSpans(norm.NFC.String(text)))
}

// stripBracketSpans removes every innermost bracketed span repeatedly until
// none remain, which also handles nesting.
func stripBracketSpans(text string) string {
	for {
		removed := false
		for _, pair := range bracketPairs {
			if out, ok := removeInnermost(text, pair[0], pair[1]); ok {
				text = out
				removed = true
			}
		}
		if !removed {
			return text
		}
	}
}

// removeInnermost removes the first innermost open..close span from text.
// Returns the updated text and whether a span was removed.
func removeInnermost(text string, open, closing rune) (string, bool) {
	runes := []rune(text)
	lastOpen := -1
	for i, r := range runes {
		switch r {
		case open:
			lastOpen = i
		case closing:
			if lastOpen >= 0 {
				return string(runes[:lastOpen]) + string(runes[i+1:]), true
			}
		}
	}
	return text, false
}
