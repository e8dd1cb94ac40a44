package log

import (
	"errors"

	"github.com/d4xyjen/jedi/config"
)

const configNameLogger = "logger"

// LogCfg is loaded from logger.yaml. Level, FileSplitMB and CallerSkip can be
// changed while the process runs; appender selection and paths need a restart.
type LogCfg struct {
	LogPath string `mapstructure:"path"`

	// LogLevel is spelled by name in YAML, e.g. "info".
	LogLevel Level `mapstructure:"level"`

	// FileSplitMB rotates the log file once it grows past this size. Zero disables rotation.
	FileSplitMB int `mapstructure:"splitmb"`

	IsAsync bool `mapstructure:"isasync"`
	// AsyncCacheSize is roughly the number of lines buffered before a writer flushes inline.
	AsyncCacheSize    int `mapstructure:"asynccachesize"`
	AsyncWriteMillSec int `mapstructure:"asyncwritemillsec"`

	CallerSkip        int  `mapstructure:"callerSkip"`
	FileAppender      bool `mapstructure:"fileAppender"`
	ConsoleAppender   bool `mapstructure:"consoleAppender"`
	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`
}

func (cfg *LogCfg) GetName() string {
	return configNameLogger
}

func (cfg *LogCfg) Validate() error {
	if cfg.LogLevel > FatalLevel {
		return errors.New("level out of range")
	}
	if cfg.FileAppender && cfg.LogPath == "" {
		return errors.New("path is required when fileAppender is enabled")
	}
	if cfg.FileSplitMB < 0 || cfg.AsyncCacheSize < 0 || cfg.AsyncWriteMillSec < 0 || cfg.CallerSkip < 0 {
		return errors.New("splitmb, asynccachesize, asyncwritemillsec and callerSkip must not be negative")
	}
	return nil
}

func (cfg *LogCfg) Default() config.Config {
	return getDefaultCfg()
}

func getDefaultCfg() *LogCfg {
	return &LogCfg{
		LogPath:         "./logs/jedi.log",
		LogLevel:        DebugLevel,
		FileSplitMB:     50,
		CallerSkip:      1,
		IsAsync:         true,
		FileAppender:    false,
		ConsoleAppender: true,
	}
}
