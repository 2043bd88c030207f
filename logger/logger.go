package logger

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger = zap.NewNop()
	once         sync.Once
)

// LogLevel names a log level.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// Config is the logger configuration.
type Config struct {
	Level      LogLevel
	OutputPath string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func parseLevel(l LogLevel) zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger sets up logging; only the first call takes effect.
func InitLogger(config Config) {
	once.Do(func() {
		level := parseLevel(config.Level)

		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.RFC3339TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}

		consoleCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		)

		core := consoleCore
		if config.OutputPath != "" {
			// make sure the log directory exists
			if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0755); err != nil {
				panic(err)
			}

			// lumberjack rotates the file
			fileWriter := zapcore.AddSync(&lumberjack.Logger{
				Filename:   config.OutputPath,
				MaxSize:    config.MaxSize,
				MaxBackups: config.MaxBackups,
				MaxAge:     config.MaxAge,
				Compress:   config.Compress,
			})
			fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), fileWriter, level)
			core = zapcore.NewTee(consoleCore, fileCore)
		}

		globalLogger = zap.New(core,
			zap.AddCaller(),
			zap.AddCallerSkip(1), // skip this package's wrappers
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
	})
}

// Sync flushes buffered entries, call before exit.
func Sync() {
	_ = globalLogger.Sync()
}

// L returns the underlying zap logger.
func L() *zap.Logger {
	return globalLogger
}

func Debug(msg string, fields ...zap.Field) { globalLogger.Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { globalLogger.Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { globalLogger.Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { globalLogger.Error(msg, fields...) }

// Fatal logs at fatal level and exits.
func Fatal(msg string, fields ...zap.Field) { globalLogger.Fatal(msg, fields...) }

// field helpers
func String(key string, val string) zap.Field { return zap.String(key, val) }

func Int(key string, val int) zap.Field { return zap.Int(key, val) }

func Int64(key string, val int64) zap.Field { return zap.Int64(key, val) }

func Float64(key string, val float64) zap.Field { return zap.Float64(key, val) }

func Bool(key string, val bool) zap.Field { return zap.Bool(key, val) }

func ErrorField(err error) zap.Field { return zap.Error(err) }

func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }

func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }

// Deck is the deck field.
func Deck(id string) zap.Field { return zap.String("deck", id) }

// Track is the track field.
func Track(id int64, title string) zap.Field {
	return zap.Dict("track", zap.Int64("id", id), zap.String("title", title))
}
