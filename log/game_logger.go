package log

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/d4xyjen/jedi/config"
)

// GameLogger writes JSON lines to a set of appenders. Events are pooled and the
// level check is a single atomic load, so disabled levels cost nothing beyond the call.
//
//	logger := NewLogger(&LogCfg{LogLevel: InfoLevel, ConsoleAppender: true})
//	logger.Info().Str("endpoint", addr).Int("sessions", n).Msg("acceptor started")
type GameLogger struct {
	appenders         []LogAppender
	minLevel          atomic.Uint32
	callerSkip        atomic.Int32
	enabledCallerInfo atomic.Bool
	eventPool         *sync.Pool
	callerCache       sync.Map
	configManager     config.ConfigManager
	configMutex       sync.RWMutex
	currentConfig     *LogCfg
}

// NewLogger builds a logger from cfg, or from the defaults when cfg is nil.
func NewLogger(cfg *LogCfg) *GameLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}

	logger := &GameLogger{currentConfig: cfg}
	logger.applyConfig(cfg)

	logger.eventPool = &sync.Pool{
		New: func() any {
			return newEvent(logger)
		},
	}

	if cfg.FileAppender {
		logger.AddAppender(NewFileAppender(cfg))
	}
	if cfg.ConsoleAppender {
		logger.AddAppender(NewConsoleAppender())
	}
	return logger
}

// NewLoggerWithConfigManager builds a logger that follows reloads of logger.yaml.
func NewLoggerWithConfigManager(cfg *LogCfg, configManager config.ConfigManager) *GameLogger {
	logger := NewLogger(cfg)
	logger.configManager = configManager
	if configManager != nil {
		configManager.AddChangeListener(logger)
	}
	return logger
}

func (x *GameLogger) applyConfig(cfg *LogCfg) {
	x.minLevel.Store(uint32(cfg.LogLevel))
	x.callerSkip.Store(int32(cfg.CallerSkip))
	x.enabledCallerInfo.Store(cfg.EnabledCallerInfo)
}

// OnConfigChanged implements config.ConfigChangeListener.
func (x *GameLogger) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != configNameLogger {
		return nil
	}
	newLogCfg, ok := newConfig.(*LogCfg)
	if !ok {
		return nil
	}

	x.updateConfig(newLogCfg)

	for _, appender := range x.appenders {
		if listener, ok := appender.(config.ConfigChangeListener); ok {
			if err := listener.OnConfigChanged(configName, newConfig, oldConfig); err != nil {
				x.Error().Err(err).Msg("appender rejected config change")
			}
		}
	}
	return nil
}

func (x *GameLogger) updateConfig(newCfg *LogCfg) {
	x.configMutex.Lock()
	x.currentConfig = newCfg
	x.configMutex.Unlock()

	x.applyConfig(newCfg)
	x.Refresh()
}

func (x *GameLogger) GetCurrentConfig() *LogCfg {
	x.configMutex.RLock()
	defer x.configMutex.RUnlock()
	return x.currentConfig
}

func (x *GameLogger) checkLevel(level Level) bool {
	return Level(x.minLevel.Load()) <= level
}

// Enabled reports whether events at level would be written.
func (x *GameLogger) Enabled(level Level) bool {
	return x.checkLevel(level)
}

// AddAppender must be called before the logger is shared between goroutines.
func (x *GameLogger) AddAppender(appender LogAppender) {
	x.appenders = append(x.appenders, appender)
}

func (x *GameLogger) GetAppender() []LogAppender {
	return x.appenders
}

// Refresh flushes every appender.
func (x *GameLogger) Refresh() {
	for _, appender := range x.appenders {
		appender.Refresh()
	}
}

// Close flushes and releases appenders that hold files.
func (x *GameLogger) Close() error {
	var firstErr error
	for _, appender := range x.appenders {
		if c, ok := appender.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (x *GameLogger) newEvent(level Level) *LogEvent {
	e := x.eventPool.Get().(*LogEvent)
	e.Reset()
	e.level = level
	return e
}

// OnEventEnd writes a finished event. Fatal events panic after being written.
func (x *GameLogger) OnEventEnd(e *LogEvent) {
	for _, appender := range x.appenders {
		_, _ = appender.Write(e.buf.Bytes())
	}

	if e.level == FatalLevel {
		x.Refresh()
		panic(e.buf.String())
	}

	x.eventPool.Put(e)
}

func (x *GameLogger) Trace() *LogEvent { return x.log(TraceLevel) }
func (x *GameLogger) Debug() *LogEvent { return x.log(DebugLevel) }
func (x *GameLogger) Info() *LogEvent  { return x.log(InfoLevel) }
func (x *GameLogger) Warn() *LogEvent  { return x.log(WarnLevel) }
func (x *GameLogger) Error() *LogEvent { return x.log(ErrorLevel) }

// Fatal events panic once written.
func (x *GameLogger) Fatal() *LogEvent { return x.log(FatalLevel) }

type callerInfo struct {
	file     string
	function string
	line     int
	text     string
}

func newCallerInfo(file, function string, line int) *callerInfo {
	return &callerInfo{
		file:     file,
		function: function,
		line:     line,
		text:     file + ":" + strconv.Itoa(line) + " " + function,
	}
}

func (c *callerInfo) String() string {
	return c.text
}

var _UnknownCallerInfo = newCallerInfo("???", "???", 0)

// getCallerInfo resolves the frame that called Info/Warn/..., cached by pc.
// Only the last directory and the file name are kept.
func (x *GameLogger) getCallerInfo() *callerInfo {
	pc, file, line, ok := runtime.Caller(3 + int(x.callerSkip.Load()))
	if !ok {
		return _UnknownCallerInfo
	}

	if cached, found := x.callerCache.Load(pc); found {
		return cached.(*callerInfo)
	}

	function := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		function = fn.Name()
		if dot := strings.LastIndexByte(function, '.'); dot != -1 {
			function = function[dot+1:]
		}
	}

	if lastSlash := strings.LastIndexByte(file, '/'); lastSlash > 0 {
		if secondLastSlash := strings.LastIndexByte(file[:lastSlash], '/'); secondLastSlash >= 0 {
			file = file[secondLastSlash+1:]
		}
	}

	c := newCallerInfo(file, function, line)
	x.callerCache.Store(pc, c)
	return c
}

func (x *GameLogger) log(level Level) *LogEvent {
	if !x.checkLevel(level) {
		return nil
	}

	e := x.newEvent(level)

	t := time.Now()
	e.Time("time", &t)
	e.Str("level", level.String())

	if x.enabledCallerInfo.Load() {
		e.Str("caller", x.getCallerInfo().String())
	}
	return e
}
