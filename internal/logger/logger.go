// Package logger provides logging implementations for Overseer execution.
//
// Engine components log through the small Logger interface so callers can
// plug in the console logger, the file logger, both, or nothing at all.
// Implementations are thread-safe.
package logger

// Logger is the leveled logging interface consumed by engine components.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// nopLogger discards all messages.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns l unchanged, or a no-op logger if l is nil. It lets
// components log unconditionally without nil checks at every call site.
func OrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// multiLogger fans messages out to several loggers.
type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger that forwards every message to all given loggers.
// Nil entries are skipped.
func Multi(loggers ...Logger) Logger {
	filtered := make([]Logger, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			filtered = append(filtered, l)
		}
	}
	return &multiLogger{loggers: filtered}
}

func (m *multiLogger) Debugf(format string, args ...any) {
	for _, l := range m.loggers {
		l.Debugf(format, args...)
	}
}

func (m *multiLogger) Infof(format string, args ...any) {
	for _, l := range m.loggers {
		l.Infof(format, args...)
	}
}

func (m *multiLogger) Warnf(format string, args ...any) {
	for _, l := range m.loggers {
		l.Warnf(format, args...)
	}
}

func (m *multiLogger) Errorf(format string, args ...any) {
	for _, l := range m.loggers {
		l.Errorf(format, args...)
	}
}
