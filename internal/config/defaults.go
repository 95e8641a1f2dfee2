package config

const (
	defaultConfigPath          = "~/.config/antman/config.toml"
	defaultStateDir            = "~/.local/share/antman"
	defaultLogDir              = "~/.local/share/antman/logs"
	defaultPassIntervalSeconds = 300
	defaultStopGraceSeconds    = 10
	defaultStartTimeoutSeconds = 10
	defaultProcessorKind       = ProcessorExec
	defaultProcessorCommand    = "gzip"
	defaultProcessorTimeout    = 600
	defaultWorkers             = 4
	defaultMaxAttempts         = 3
	defaultWatchDebounceMS     = 2000
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	defaultLogMaxSizeMB        = 20
	defaultLogMaxBackups       = 5
)

// Daemon modes.
const (
	ModeInterval = "interval"
	ModeOnce     = "once"
)

// Processor kinds.
const (
	ProcessorExec   = "exec"
	ProcessorDrapto = "drapto"
	ProcessorNone   = "none"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Daemon: Daemon{
			Mode:                ModeInterval,
			PassIntervalSeconds: defaultPassIntervalSeconds,
			StopGraceSeconds:    defaultStopGraceSeconds,
			StartTimeoutSeconds: defaultStartTimeoutSeconds,
		},
		Processor: Processor{
			Kind:           defaultProcessorKind,
			Command:        defaultProcessorCommand,
			Args:           []string{"-9", "-c", "{input}"},
			StdoutToOutput: true,
			TimeoutSeconds: defaultProcessorTimeout,
			MaxAttempts:    defaultMaxAttempts,
		},
		Watch: Watch{
			Notify:     true,
			DebounceMS: defaultWatchDebounceMS,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			MaxSizeMB:     defaultLogMaxSizeMB,
			MaxBackups:    defaultLogMaxBackups,
		},
	}
}
