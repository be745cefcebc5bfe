//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package log provides the process-wide leveled logger used by every
// component of the studio runtime.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level names accepted by SetLevel and the config file.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelFatal = "fatal"
)

// Logger is the logging contract used throughout the runtime.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

var zapLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "lvl",
	NameKey:        "name",
	CallerKey:      "caller",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.SecondsDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// Default is the logger behind the package-level helpers. It shares
// zapLevel, so SetLevel takes effect immediately.
var Default Logger = New(os.Stdout)

// New builds a console logger writing to w at the shared level.
func New(w io.Writer) *zap.SugaredLogger {
	return zap.New(
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(w),
			zapLevel,
		),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	).Sugar()
}

// SetLevel changes the level of every logger created by New.
// Unknown names fall back to info.
func SetLevel(level string) {
	switch level {
	case LevelDebug:
		zapLevel.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		zapLevel.SetLevel(zapcore.WarnLevel)
	case LevelError:
		zapLevel.SetLevel(zapcore.ErrorLevel)
	case LevelFatal:
		zapLevel.SetLevel(zapcore.FatalLevel)
	default:
		zapLevel.SetLevel(zapcore.InfoLevel)
	}
}

// Enabled reports whether level is currently logged.
func Enabled(level string) bool {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return false
	}
	return zapLevel.Enabled(l)
}

// Debug logs at debug level in the manner of fmt.Print.
func Debug(args ...any) { Default.Debug(args...) }

// Debugf logs at debug level in the manner of fmt.Printf.
func Debugf(format string, args ...any) { Default.Debugf(format, args...) }

// Info logs at info level in the manner of fmt.Print.
func Info(args ...any) { Default.Info(args...) }

// Infof logs at info level in the manner of fmt.Printf.
func Infof(format string, args ...any) { Default.Infof(format, args...) }

// Warn logs at warn level in the manner of fmt.Print.
func Warn(args ...any) { Default.Warn(args...) }

// Warnf logs at warn level in the manner of fmt.Printf.
func Warnf(format string, args ...any) { Default.Warnf(format, args...) }

// Error logs at error level in the manner of fmt.Print.
func Error(args ...any) { Default.Error(args...) }

// Errorf logs at error level in the manner of fmt.Printf.
func Errorf(format string, args ...any) { Default.Errorf(format, args...) }

// Fatal logs at fatal level and exits.
func Fatal(args ...any) { Default.Fatal(args...) }

// Fatalf logs at fatal level and exits.
func Fatalf(format string, args ...any) { Default.Fatalf(format, args...) }
