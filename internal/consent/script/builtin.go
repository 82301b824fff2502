package script

// Built-in PDPA consent scripts. These are the reference texts read aloud by
// the clinician at the start of a recorded consultation; deployments may
// override or extend them via configuration.
var builtin = map[string][]string{
	"en": {
		"This consultation will be recorded for medical documentation purposes.",
		"Your personal data is protected under the Personal Data Protection Act (PDPA).",
		"Your data will not be shared with third parties without your explicit consent, except as required by law.",
		"Please confirm that you consent to this recording.",
	},
	"zh": {
		"本次诊疗过程将被录音，用于医疗记录。",
		"您的个人资料受个人资料保护法（PDPA）保护。",
		"未经您的明确同意，您的资料不会与第三方共享，法律要求的情况除外。",
		"请确认您同意本次录音。",
	},
	"ms": {
		"Konsultasi ini akan dirakam untuk tujuan dokumentasi perubatan.",
		"Data peribadi anda dilindungi di bawah Akta Perlindungan Data Peribadi (PDPA).",
		"Data anda tidak akan dikongsi dengan pihak ketiga tanpa kebenaran anda, kecuali seperti yang dikehendaki oleh undang-undang.",
		"Sila sahkan bahawa anda bersetuju dengan rakaman ini.",
	},
}

// Builtin returns the built-in consent sentences for the given language tag.
// The second return value reports whether the language is known.
func Builtin(language string) ([]string, bool) {
	lines, ok := builtin[language]
	if !ok {
		return nil, false
	}
	out := make([]string, len(lines))
	copy(out, lines)
	return out, true
}

// Languages returns the language tags with built-in scripts.
func Languages() []string {
	return []string{"en", "ms", "zh"}
}
