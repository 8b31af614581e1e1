package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (listen address, telephony account, provider stack) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged means the agent voice changed; it applies to calls
	// placed after the reload, never to calls already in progress.
	VoiceChanged bool
	NewVoice     VoiceConfig

	RetentionChanged bool
	NewRetention     SessionConfig
}

// Empty reports whether the diff contains no hot-reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.RetentionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Voice != new.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Voice
	}

	if old.Session.Retention != new.Session.Retention {
		d.RetentionChanged = true
		d.NewRetention = new.Session
	}

	return d
}
