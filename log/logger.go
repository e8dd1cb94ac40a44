// Package log is a small structured logger writing one JSON object per line.
package log

import (
	"sync/atomic"

	"github.com/d4xyjen/jedi/config"
)

type Logger interface {
	Trace() *LogEvent
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	Fatal() *LogEvent
	GetAppender() []LogAppender
	AddAppender(appender LogAppender)
	OnEventEnd(e *LogEvent)
}

var _defaultLogger atomic.Pointer[GameLogger]

func init() {
	_defaultLogger.Store(NewLogger(nil))
}

// DefaultLogger returns the logger behind the package level functions.
func DefaultLogger() *GameLogger {
	return _defaultLogger.Load()
}

// SetDefaultLogger replaces the logger behind the package level functions.
func SetDefaultLogger(logger *GameLogger) {
	_defaultLogger.Store(logger)
}

// AddAppender adds an appender to the default logger.
func AddAppender(appender LogAppender) {
	DefaultLogger().AddAppender(appender)
}

// Refresh flushes the default logger.
func Refresh() {
	DefaultLogger().Refresh()
}

// InitializeWithConfigManager loads logger.yaml and installs a default logger that follows reloads.
func InitializeWithConfigManager(configManager config.ConfigManager) error {
	if configManager == nil {
		return nil
	}

	logCfg := getDefaultCfg()
	if err := configManager.LoadConfig(configNameLogger, logCfg); err != nil {
		return err
	}

	SetDefaultLogger(NewLoggerWithConfigManager(logCfg, configManager))
	return nil
}

// Initialize uses the process wide configuration manager.
func Initialize() error {
	return InitializeWithConfigManager(config.GetInstance())
}

func Trace() *LogEvent { return DefaultLogger().Trace() }
func Debug() *LogEvent { return DefaultLogger().Debug() }
func Info() *LogEvent  { return DefaultLogger().Info() }
func Warn() *LogEvent  { return DefaultLogger().Warn() }
func Error() *LogEvent { return DefaultLogger().Error() }
func Fatal() *LogEvent { return DefaultLogger().Fatal() }
