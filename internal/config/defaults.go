package config

import "time"

const (
	defaultStateDir         = "~/.local/share/intake"
	defaultLogDir           = "~/.local/share/intake/logs"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30
	defaultDebounceWindow   = 2 * time.Second
	defaultSweepInterval    = 500 * time.Millisecond
	defaultScanOnStart      = true
	defaultTextHandler      = "text"
	defaultNtfyTimeout      = 10 * time.Second
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Watch: Watch{
			DebounceWindow: Duration(defaultDebounceWindow),
			SweepInterval:  Duration(defaultSweepInterval),
			ScanOnStart:    defaultScanOnStart,
		},
		Handlers: Handlers{
			Extensions: map[string]string{
				".txt": defaultTextHandler,
			},
		},
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: Duration(defaultNtfyTimeout),
		},
	}
}
