package utils

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

// LoggingOptions controls the process-wide zap core shared by every Logger.
type LoggingOptions struct {
	Level    LogLevel
	JSON     bool
	FilePath string // when set, output is also written to a rotating file
}

var (
	baseMu   sync.RWMutex
	baseCore zapcore.Core
	baseOpts = LoggingOptions{Level: Info}
)

// ConfigureLogging replaces the shared core. Loggers created afterwards use it.
func ConfigureLogging(opts LoggingOptions) {
	baseMu.Lock()
	defer baseMu.Unlock()
	baseOpts = opts
	baseCore = buildCore(opts)
}

func buildCore(opts LoggingOptions) zapcore.Core {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var consoleEncoder zapcore.Encoder
	if opts.JSON {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		consoleEncoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	// Levels are filtered per Logger.
	consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), zapcore.DebugLevel)
	if opts.FilePath == "" {
		return consoleCore
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    10, // Megabytes
		MaxBackups: 5,
		MaxAge:     30, // Days
		Compress:   true,
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), zapcore.DebugLevel)

	return zapcore.NewTee(consoleCore, fileCore)
}

func currentCore() (zapcore.Core, LogLevel) {
	baseMu.RLock()
	core, level := baseCore, baseOpts.Level
	baseMu.RUnlock()
	if core != nil {
		return core, level
	}

	baseMu.Lock()
	defer baseMu.Unlock()
	if baseCore == nil {
		baseCore = buildCore(baseOpts)
	}
	return baseCore, baseOpts.Level
}

// Logger provides structured logging with context
type Logger struct {
	prefix   string
	sugar    *zap.SugaredLogger
	logLevel LogLevel
}

// NewLogger creates a new logger with a given prefix
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	core, level := currentCore()
	if len(logLevel) > 0 {
		level = logLevel[0]
	}
	return &Logger{
		prefix:   prefix,
		sugar:    zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Named(prefix).Sugar(),
		logLevel: level,
	}
}

func (l *Logger) enabled(level LogLevel) bool {
	return l.logLevel <= level
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	if l.enabled(Info) {
		l.sugar.Infow(msg, keyvals...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	if l.enabled(Error) {
		l.sugar.Errorw(msg, keyvals...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	if l.enabled(Warning) {
		l.sugar.Warnw(msg, keyvals...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	if l.enabled(Debug) {
		l.sugar.Debugw(msg, keyvals...)
	}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// ParseLogLevel maps a level name to a LogLevel, defaulting to Info.
func ParseLogLevel(name string) LogLevel {
	switch name {
	case "debug", "DEBUG":
		return Debug
	case "warn", "warning", "WARN", "WARNING":
		return Warning
	case "error", "ERROR":
		return Error
	case "critical", "CRITICAL":
		return Critical
	default:
		return Info
	}
}
