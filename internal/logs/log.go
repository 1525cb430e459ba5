// Package logs builds the zap loggers used across ormcore: a colored console
// core, plus a JSON core written through lumberjack when a log file is
// configured.
package logs

import (
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/ormcore/internal/config"
)

var logger = zap.NewNop()

// Init replaces the package logger.
func Init(appName string, cfg config.LogConfig) error {
	l, err := New(appName, cfg)
	if err != nil {
		return err
	}
	_ = logger.Sync()
	logger = l
	return nil
}

// L returns the package logger. It is a no-op logger until Init runs.
func L() *zap.Logger {
	return logger
}

// New builds a logger from cfg without touching the package logger.
func New(appName string, cfg config.LogConfig) (*zap.Logger, error) {
	return newLogger(appName, cfg, zapcore.Lock(os.Stderr))
}

func newLogger(appName string, cfg config.LogConfig, console zapcore.WriteSyncer) (*zap.Logger, error) {
	// unknown levels fall back to info
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		lvl = zapcore.InfoLevel
	}
	atomicLevel := zap.NewAtomicLevelAt(lvl)

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	consoleCfg := encoderCfg
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleCfg)

	fileCfg := encoderCfg
	fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	jsonEncoder := zapcore.NewJSONEncoder(fileCfg)

	var fileWriter io.Writer = io.Discard
	if cfg.File != "" {
		fileWriter = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    max(1, cfg.MaxSize),
			MaxBackups: max(0, cfg.MaxBackups),
			MaxAge:     max(0, cfg.MaxAge),
			Compress:   cfg.Compress,
		}
	}

	// the file gets JSON only, so no color escapes end up on disk
	core := zapcore.NewCore(consoleEncoder, console, atomicLevel)
	if cfg.File != "" {
		core = zapcore.NewTee(
			core,
			zapcore.NewCore(jsonEncoder, zapcore.AddSync(fileWriter), atomicLevel),
		)
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Dev {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	}
	return zap.New(core, opts...).Named(appName), nil
}

func Debug(msg string, fields ...zap.Field) {
	logger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	logger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	logger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	logger.Error(msg, fields...)
}

// Sync flushes the package logger.
func Sync() error {
	return logger.Sync()
}
