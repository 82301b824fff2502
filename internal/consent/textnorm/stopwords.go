package textnorm

// stopwords lists function words excluded from token-containment scoring and
// from the anchor set. Covers the three script languages: English, Malay, and
// a handful of Mandarin particles.
var stopwords = map[string]bool{
	// English
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "at": true, "by": true, "for": true,
	"is": true, "are": true, "be": true, "been": true, "was": true, "were": true,
	"will": true, "with": true, "as": true, "it": true, "its": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "we": true, "my": true, "your": true, "our": true,
	"me": true, "us": true, "do": true, "does": true, "not": true, "no": true,
	"may": true, "can": true, "any": true, "all": true, "also": true,
	// Malay
	"dan": true, "atau": true, "yang": true, "untuk": true, "akan": true,
	"dengan": true, "anda": true, "kami": true, "saya": true, "ini": true,
	"itu": true, "di": true, "ke": true, "adalah": true, "tidak": true,
	// Mandarin particles
	"的": true, "和": true, "或": true, "是": true, "了": true, "在": true,
	"我": true, "你": true, "您": true, "我们": true, "会": true, "将": true,
}

// IsStopword reports whether the (already normalized) token is a function
// word that carries no alignment weight.
func IsStopword(token string) bool {
	return stopwords[token]
}

// ContentTokens returns tokens with stopwords removed.
func ContentTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !IsStopword(t) {
			out = append(out, t)
		}
	}
	return out
}
