package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; engine tuning
// and script changes apply to sessions started after the reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VerifyChanged is true when any engine tuning knob changed.
	VerifyChanged bool

	// ScriptChanges lists per-language script override diffs.
	ScriptChanges  []ScriptDiff
	ScriptsChanged bool
}

// ScriptDiff describes what changed for a single language's script override.
type ScriptDiff struct {
	Language string
	Added    bool
	Removed  bool
	Modified bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Engine tuning. Acronyms is the only slice field, compared by value.
	if !verifyEqual(old.Verify, new.Verify) {
		d.VerifyChanged = true
	}

	// Detect modified and removed script overrides.
	for lang, oldSentences := range old.Scripts {
		newSentences, exists := new.Scripts[lang]
		if !exists {
			d.ScriptChanges = append(d.ScriptChanges, ScriptDiff{Language: lang, Removed: true})
			d.ScriptsChanged = true
			continue
		}
		if !sliceEqual(oldSentences, newSentences) {
			d.ScriptChanges = append(d.ScriptChanges, ScriptDiff{Language: lang, Modified: true})
			d.ScriptsChanged = true
		}
	}

	// Detect added script overrides.
	for lang := range new.Scripts {
		if _, exists := old.Scripts[lang]; !exists {
			d.ScriptChanges = append(d.ScriptChanges, ScriptDiff{Language: lang, Added: true})
			d.ScriptsChanged = true
		}
	}

	return d
}

// verifyEqual compares two VerifyConfig values including the acronym list.
func verifyEqual(a, b VerifyConfig) bool {
	if a.Mode != b.Mode ||
		a.DefaultLanguage != b.DefaultLanguage ||
		a.BaseThreshold != b.BaseThreshold ||
		a.RelaxedThreshold != b.RelaxedThreshold ||
		a.RequireKeyword != b.RequireKeyword ||
		a.IgnoreBrackets != b.IgnoreBrackets ||
		a.Lookahead != b.Lookahead ||
		a.MaxSkips != b.MaxSkips ||
		a.MaxSkipFraction != b.MaxSkipFraction ||
		a.StallSnapAfter != b.StallSnapAfter ||
		a.RestartMaxRetries != b.RestartMaxRetries {
		return false
	}
	return sliceEqual(a.Acronyms, b.Acronyms)
}

func sliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
