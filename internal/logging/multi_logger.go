package logging

import "context"

// MultiLogger fans out every entry to all of its loggers
type MultiLogger struct {
	loggers []Logger
}

func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Debug(msg string, fields ...Field) {
	for _, l := range m.loggers {
		l.Debug(msg, fields...)
	}
}

func (m *MultiLogger) Info(msg string, fields ...Field) {
	for _, l := range m.loggers {
		l.Info(msg, fields...)
	}
}

func (m *MultiLogger) Warn(msg string, fields ...Field) {
	for _, l := range m.loggers {
		l.Warn(msg, fields...)
	}
}

func (m *MultiLogger) Error(msg string, fields ...Field) {
	for _, l := range m.loggers {
		l.Error(msg, fields...)
	}
}

func (m *MultiLogger) With(fields ...Field) Logger {
	return m.derive(func(l Logger) Logger { return l.With(fields...) })
}

func (m *MultiLogger) WithTraceID(traceID string) Logger {
	return m.derive(func(l Logger) Logger { return l.WithTraceID(traceID) })
}

func (m *MultiLogger) WithContext(ctx context.Context) Logger {
	return m.derive(func(l Logger) Logger { return l.WithContext(ctx) })
}

func (m *MultiLogger) derive(fn func(Logger) Logger) Logger {
	out := make([]Logger, len(m.loggers))
	for i, l := range m.loggers {
		out[i] = fn(l)
	}
	return &MultiLogger{loggers: out}
}

func (m *MultiLogger) SetLevel(level LogLevel) {
	for _, l := range m.loggers {
		l.SetLevel(level)
	}
}

// Close closes every logger and returns the first error
func (m *MultiLogger) Close() error {
	var first error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
