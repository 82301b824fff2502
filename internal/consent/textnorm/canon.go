package textnorm

import (
	"regexp"
	"strings"
)

// Canonical marker tokens that the legal-phrase table folds paraphrases into.
// Markers are single tokens so that token-containment scoring treats a whole
// paraphrase as one unit.
const (
	// MarkerThirdParties replaces "third party" / "third parties".
	MarkerThirdParties = "thirdparties"

	// MarkerWithoutConsent replaces "without (your) (explicit) consent".
	MarkerWithoutConsent = "withoutconsent"

	// MarkerRequiredByLaw replaces the trailing legal-exception clause
	// "except/unless (as) required by law". "accept" is included because
	// recognisers routinely mishear "except" as "accept".
	MarkerRequiredByLaw = "requiredbylaw"
)

// DefaultAcronyms lists the acronyms the consent scripts are built around.
var DefaultAcronyms = []string{"pdpa"}

// phraseRule rewrites one legal paraphrase family into its canonical marker.
type phraseRule struct {
	pattern *regexp.Regexp
	marker  string
}

// phraseRules is applied in order to normalized text. The patterns operate on
// lowercased, punctuation-free text, so they only need to handle plain word
// sequences.
var phraseRules = []phraseRule{
	{regexp.MustCompile(`\bthird\s+part(?:ies|y)\b`), MarkerThirdParties},
	{regexp.MustCompile(`\bwithout\s+(?:your\s+)?(?:explicit\s+)?consent\b`), MarkerWithoutConsent},
	{regexp.MustCompile(`\b(?:except|accept|unless)(?:\s+as)?\s+required\s+by\s+(?:the\s+)?law\b`), MarkerRequiredByLaw},
}

// CanonOptions configures [Canonicalize].
type CanonOptions struct {
	// Acronyms lists acronym tokens to collapse when spelled letter by
	// letter. Entries are matched case-insensitively. When empty,
	// [DefaultAcronyms] is used.
	Acronyms []string

	// StripBrackets removes bracketed spans before any other transform,
	// letting a speaker skip a parenthetical acronym expansion.
	StripBrackets bool

	// DropAcronyms removes acronym tokens entirely after collapsing. Only
	// honoured together with StripBrackets: when the bracketed expansion is
	// ignorable, a spoken phrase that omits the abbreviation must still
	// compare equal to the scripted one.
	DropAcronyms bool
}

// acronyms returns the effective acronym list, normalized to lowercase.
func (o CanonOptions) acronyms() []string {
	src := o.Acronyms
	if len(src) == 0 {
		src = DefaultAcronyms
	}
	out := make([]string, 0, len(src))
	for _, a := range src {
		a = Normalize(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Canonicalize maps text onto its canonical comparison form: [Normalize] (or
// [NormalizeStripBrackets]), then acronym collapse, then the legal-phrase
// equivalence table. It is best-effort: input that matches no pattern passes
// through normalization unchanged, and there is no error path.
func Canonicalize(text string, opts CanonOptions) string {
	if opts.StripBrackets {
		text = NormalizeStripBrackets(text)
	} else {
		text = Normalize(text)
	}

	acr := opts.acronyms()
	tokens := collapseAcronyms(strings.Fields(text), acr)
	if opts.StripBrackets && opts.DropAcronyms {
		tokens = dropTokens(tokens, acr)
	}
	text = strings.Join(tokens, " ")

	for _, rule := range phraseRules {
		text = rule.pattern.ReplaceAllString(text, rule.marker)
	}
	return text
}

// collapseAcronyms rewrites runs of single-letter tokens that spell a known
// acronym ("p d p a") into the contiguous acronym token. Letter runs that do
// not spell a known acronym are left untouched.
func collapseAcronyms(tokens []string, acronyms []string) []string {
	if len(acronyms) == 0 {
		return tokens
	}
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		if len([]rune(tokens[i])) != 1 {
			out = append(out, tokens[i])
			i++
			continue
		}
		// Maximal run of single-letter tokens starting at i.
		j := i
		var run strings.Builder
		for j < len(tokens) && len([]rune(tokens[j])) == 1 {
			run.WriteString(tokens[j])
			j++
		}
		if a, consumed := matchAcronymRun(run.String(), j-i, acronyms); consumed > 0 {
			out = append(out, a)
			i += consumed
			continue
		}
		out = append(out, tokens[i])
		i++
	}
	return out
}

// matchAcronymRun reports whether a prefix of the letter run spells one of
// the acronyms. Returns the acronym and the number of letter tokens consumed
// (0 when nothing matches). Longer acronyms win over shorter ones.
func matchAcronymRun(run string, runLen int, acronyms []string) (string, int) {
	best := ""
	for _, a := range acronyms {
		if len(a) <= runLen && len(a) > len(best) && strings.HasPrefix(run, a) {
			best = a
		}
	}
	if best == "" {
		return "", 0
	}
	return best, len(best)
}

// dropTokens removes every token contained in remove.
func dropTokens(tokens []string, remove []string) []string {
	out := tokens[:0:0]
	for _, t := range tokens {
		drop := false
		for _, r := range remove {
			if t == r {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, t)
		}
	}
	return out
}
