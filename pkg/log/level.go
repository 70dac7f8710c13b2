package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// A Level is a logging priority. Higher levels are more important.
type Level = zapcore.Level

const (
	// DebugLevel logs are typically voluminous, and are usually disabled
	// in production.
	DebugLevel = zapcore.DebugLevel

	// InfoLevel is the default logging priority.
	InfoLevel = zapcore.InfoLevel

	// WarnLevel logs are more important than Info, but don't need
	// individual human review.
	WarnLevel = zapcore.WarnLevel

	// ErrorLevel logs are high-priority.
	ErrorLevel = zapcore.ErrorLevel

	// DPanicLevel logs are particularly important errors. In development
	// the logger panics after writing the message.
	DPanicLevel = zapcore.DPanicLevel

	// PanicLevel logs a message, then panics.
	PanicLevel = zapcore.PanicLevel

	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel = zapcore.FatalLevel
)

// An AtomicLevel is an atomically changeable, dynamic logging level. It
// lets you safely change the log level of a tree of loggers (the root
// logger and any children created by adding context) at runtime.
//
// AtomicLevels must be created with the NewAtomicLevel constructor to
// allocate their internal atomic pointer.
type AtomicLevel = zap.AtomicLevel

// NewAtomicLevel creates an AtomicLevel with InfoLevel and above logging
// enabled.
func NewAtomicLevel() AtomicLevel {
	return zap.NewAtomicLevel()
}

// NewAtomicLevelAt is a convenience function that creates an AtomicLevel
// and then calls SetLevel with the given level.
func NewAtomicLevelAt(l Level) AtomicLevel {
	a := NewAtomicLevel()
	a.SetLevel(l)
	return a
}
