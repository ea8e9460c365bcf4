package config

// ConfigDiff describes what changed between two configs. Log level and VAD
// tuning can be applied to a running process; every other section only takes
// effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is set when any vad.* value differs. New sessions pick up
	// the new values; open sessions keep theirs.
	VADChanged bool
	NewVAD     VADConfig

	// RestartRequired lists the top-level sections that changed but cannot
	// be applied live.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.VAD != new.VAD {
		d.VADChanged = true
		d.NewVAD = new.VAD
	}

	if !sameServer(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Pipeline != new.Pipeline {
		d.RestartRequired = append(d.RestartRequired, "pipeline")
	}
	if old.Transcription != new.Transcription {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

// sameServer compares server settings other than the log level.
func sameServer(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.LogFormat != b.LogFormat {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) {
		return false
	}
	return a.TLS == nil || *a.TLS == *b.TLS
}
