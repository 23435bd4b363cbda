// High level log wrapper, so it can output different log based on level.
//
// There are five levels in total: FATAL, ERROR, WARNING, INFO, DEBUG.
// The default log output level is INFO, you can change it by:
// - call log.SetLevelByString()
// - set environment variable `LOG_LEVEL`
//
// Records go to stderr and, once Init is given a file name, to a size-rotated log file as well.

package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes the rotated log file.
type FileConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxDays    int
}

var (
	_level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	_log   = newLogger(zapcore.Lock(os.Stderr))
	_sugar = _log.Sugar()
)

func init() {
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		SetLevelByString(l)
	}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func newLogger(ws zapcore.WriteSyncer) *zap.Logger {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), ws, _level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Init replaces the global logger. It must be called before any goroutine starts logging.
func Init(level string, file FileConfig) {
	ws := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if file.Filename != "" {
		ws = append(ws, zapcore.AddSync(&lumberjack.Logger{
			Filename:   file.Filename,
			MaxSize:    file.MaxSize,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxDays,
		}))
	}
	if level != "" {
		SetLevelByString(level)
	}
	_log = newLogger(zapcore.NewMultiWriteSyncer(ws...))
	_sugar = _log.Sugar()
}

// L returns the structured logger for callers that want typed fields.
func L() *zap.Logger {
	return _log.WithOptions(zap.AddCallerSkip(-1))
}

// With returns the structured logger carrying fields on every record.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// Sync flushes buffered records.
func Sync() {
	_ = _log.Sync()
}

func SetLevel(level zapcore.Level) {
	_level.SetLevel(level)
}

func GetLogLevel() zapcore.Level {
	return _level.Level()
}

func SetLevelByString(level string) {
	_level.SetLevel(StringToLogLevel(level))
}

func Info(v ...interface{}) {
	_sugar.Info(v...)
}

func Infof(format string, v ...interface{}) {
	_sugar.Infof(format, v...)
}

func Debug(v ...interface{}) {
	_sugar.Debug(v...)
}

func Debugf(format string, v ...interface{}) {
	_sugar.Debugf(format, v...)
}

func Warn(v ...interface{}) {
	_sugar.Warn(v...)
}

func Warnf(format string, v ...interface{}) {
	_sugar.Warnf(format, v...)
}

func Warning(v ...interface{}) {
	_sugar.Warn(v...)
}

func Warningf(format string, v ...interface{}) {
	_sugar.Warnf(format, v...)
}

func Error(v ...interface{}) {
	_sugar.Error(v...)
}

func Errorf(format string, v ...interface{}) {
	_sugar.Errorf(format, v...)
}

func Panic(v ...interface{}) {
	_sugar.Panic(v...)
}

func Panicf(format string, v ...interface{}) {
	_sugar.Panicf(format, v...)
}

func Fatal(v ...interface{}) {
	_sugar.Fatal(v...)
}

func Fatalf(format string, v ...interface{}) {
	_sugar.Fatalf(format, v...)
}

func StringToLogLevel(level string) zapcore.Level {
	switch level {
	case "fatal":
		return zapcore.FatalLevel
	case "error":
		return zapcore.ErrorLevel
	case "warn":
		return zapcore.WarnLevel
	case "warning":
		return zapcore.WarnLevel
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}
