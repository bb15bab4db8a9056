package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

// consoleSink is shared by a console logger and every logger derived from it
type consoleSink struct {
	mu     sync.Mutex
	writer io.Writer
	level  LogLevel
}

// ConsoleLogger writes human readable lines to a terminal
type ConsoleLogger struct {
	sink             *consoleSink
	traceID          string
	fields           []Field
	colorEnabled     bool
	timestampEnabled bool
	redactSensitive  bool
}

// ConsoleLoggerConfig contains configuration for console logger
type ConsoleLoggerConfig struct {
	Writer           io.Writer
	Level            LogLevel
	ColorEnabled     bool
	TimestampEnabled bool
	RedactSensitive  bool
}

// NewConsoleLogger creates a new console logger, writing to stderr by default
func NewConsoleLogger(config ConsoleLoggerConfig) *ConsoleLogger {
	if config.Writer == nil {
		config.Writer = os.Stderr
	}

	return &ConsoleLogger{
		sink:             &consoleSink{writer: config.Writer, level: config.Level},
		colorEnabled:     config.ColorEnabled,
		timestampEnabled: config.TimestampEnabled,
		redactSensitive:  config.RedactSensitive,
	}
}

var (
	bearerTokenPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/]+=*`)
	oauthTokenPattern  = regexp.MustCompile(`(access_token|refresh_token|id_token)["']?\s*[:=]\s*["']?[A-Za-z0-9\-._~+/]+=*`)
	apiKeyPattern      = regexp.MustCompile(`(?i)(api[_-]?key|apikey)["']?\s*[:=]\s*["']?[A-Za-z0-9\-._~+/]+=*`)
	authHeaderPattern  = regexp.MustCompile(`(?i)authorization["']?\s*[:=]\s*["']?[^\s"']+`)
)

// redactSensitiveData masks credentials in a log string
func redactSensitiveData(s string) string {
	s = bearerTokenPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	s = oauthTokenPattern.ReplaceAllString(s, "$1=[REDACTED]")
	s = apiKeyPattern.ReplaceAllString(s, "$1=[REDACTED]")
	s = authHeaderPattern.ReplaceAllString(s, "Authorization: [REDACTED]")
	return s
}

func (l *ConsoleLogger) paint(sb *strings.Builder, color, text string) {
	if l.colorEnabled {
		sb.WriteString(color)
		sb.WriteString(text)
		sb.WriteString(colorReset)
		return
	}
	sb.WriteString(text)
}

func (l *ConsoleLogger) formatMessage(level LogLevel, msg string, fields []Field) string {
	var sb strings.Builder

	if l.timestampEnabled {
		l.paint(&sb, colorGray, time.Now().Format("2006-01-02 15:04:05"))
		sb.WriteString(" ")
	}

	levelColor := colorReset
	switch level {
	case DEBUG:
		levelColor = colorBlue
	case WARN:
		levelColor = colorYellow
	case ERROR:
		levelColor = colorRed
	}
	l.paint(&sb, levelColor, fmt.Sprintf("%-5s", level.String()))
	sb.WriteString(" ")

	if l.traceID != "" {
		short := l.traceID
		if len(short) > 8 {
			short = short[:8]
		}
		l.paint(&sb, colorGray, "["+short+"] ")
	}

	if l.redactSensitive {
		msg = redactSensitiveData(msg)
	}
	sb.WriteString(msg)

	all := mergeFields(l.fields, fields)
	if len(all) > 0 {
		sb.WriteString(" ")
		for i, field := range all {
			if i > 0 {
				sb.WriteString(", ")
			}
			value := fmt.Sprintf("%v", field.Value)
			if l.redactSensitive {
				value = redactSensitiveData(value)
			}
			sb.WriteString(field.Key)
			sb.WriteString("=")
			sb.WriteString(value)
		}
	}

	return sb.String()
}

func (l *ConsoleLogger) log(level LogLevel, msg string, fields []Field) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if level < l.sink.level {
		return
	}
	_, _ = fmt.Fprintln(l.sink.writer, l.formatMessage(level, msg, fields))
}

func (l *ConsoleLogger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields) }
func (l *ConsoleLogger) Info(msg string, fields ...Field)  { l.log(INFO, msg, fields) }
func (l *ConsoleLogger) Warn(msg string, fields ...Field)  { l.log(WARN, msg, fields) }
func (l *ConsoleLogger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields) }

func (l *ConsoleLogger) clone() *ConsoleLogger {
	c := *l
	return &c
}

// With returns a logger that prepends fields to every line
func (l *ConsoleLogger) With(fields ...Field) Logger {
	c := l.clone()
	c.fields = mergeFields(l.fields, fields)
	return c
}

// WithTraceID returns a new logger with the trace ID set
func (l *ConsoleLogger) WithTraceID(traceID string) Logger {
	c := l.clone()
	c.traceID = traceID
	return c
}

// WithContext returns a new logger that extracts trace ID from context
func (l *ConsoleLogger) WithContext(ctx context.Context) Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return l
	}
	return l.WithTraceID(traceID)
}

// SetLevel sets the minimum level for this logger and all derived loggers
func (l *ConsoleLogger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// Close is a no-op; the writer is owned by the caller
func (l *ConsoleLogger) Close() error {
	return nil
}
