package log

// Logger is the leveled, structured logger used across this module. All
// methods are safe for concurrent use.
//
// Components receive a Logger explicitly (the reactor's WithLogger option,
// for example) and fall back to DefaultLogger when given none.
type Logger interface {
	// Named adds a new path segment to the logger's name. Segments are
	// joined by periods. By default, Loggers are unnamed.
	Named(s string) Logger

	// With creates a child logger with the given fields added to its
	// context. Fields added to the child don't affect the parent, and
	// vice versa.
	With(fields ...Field) Logger

	// WithLevel creates a child logger that logs on the given level. The
	// child keeps all fields from the parent.
	WithLevel(lvl Level) Logger

	// Level reports the minimum enabled level for this logger.
	Level() Level

	// Debug logs a message at DebugLevel.
	Debug(msg string, fields ...Field)

	// Info logs a message at InfoLevel.
	Info(msg string, fields ...Field)

	// Warn logs a message at WarnLevel.
	Warn(msg string, fields ...Field)

	// Error logs a message at ErrorLevel.
	Error(msg string, fields ...Field)

	// DPanic logs a message at DPanicLevel, then panics if the logger is
	// in development mode.
	DPanic(msg string, fields ...Field)

	// Panic logs a message at PanicLevel, then panics, even if logging at
	// PanicLevel is disabled.
	Panic(msg string, fields ...Field)

	// Fatal logs a message at FatalLevel, then calls os.Exit(1), even if
	// logging at FatalLevel is disabled.
	Fatal(msg string, fields ...Field)
}
