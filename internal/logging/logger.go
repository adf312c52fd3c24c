// Package logging is the ambient structured logger every TapeVault
// component writes through: the daemon's own startup/shutdown trace,
// the Command Runner's tool-failure detail, the orchestrator's
// best-effort unmount warnings. There is no log aggregation service in
// this deployment, so the two formats it supports map directly onto
// how an operator reads it: "text" for a terminal, "json" for a file
// something else (journald, a log shipper) will later grep or parse.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Level is log severity, ordered so a numeric comparison decides
// whether an entry is below the configured threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel maps the LOG_LEVEL environment variable to a Level,
// falling back to info for anything it doesn't recognize rather than
// failing the daemon's startup over a typo'd env var.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LogEntry is one line of output, in both formats: JSON mode encodes
// it directly, text mode renders the same fields space-separated.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger writes leveled, structured entries to stdout and, optionally,
// an append-only file. A single mutex serializes writes since several
// goroutines (the web server, the reconciler, the FUSE adapter) all
// log concurrently.
type Logger struct {
	mu     sync.Mutex
	level  Level
	output io.Writer
	format string // "json" or "text"
	file   *os.File
}

// NewLogger builds a Logger at the given level and format ("json" or
// "text"). An empty or "-" outputPath logs to stdout only; any other
// path is opened for append and fanned out alongside stdout so the
// daemon's console and its log file never disagree.
func NewLogger(level, format, outputPath string) (*Logger, error) {
	l := &Logger{
		level:  ParseLevel(level),
		format: format,
		output: os.Stdout,
	}

	if outputPath == "" || outputPath == "-" {
		return l, nil
	}

	f, err := openAppend(outputPath)
	if err != nil {
		return nil, err
	}
	l.file = f
	l.output = io.MultiWriter(os.Stdout, f)
	return l, nil
}

// openAppend opens path for append, creating its parent directory
// first since the catalog/cache directories this daemon writes under
// may not exist yet on a first run.
func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return f, nil
}

// Close closes the backing log file, if one was opened. Safe to call
// on a stdout-only logger.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) emit(level Level, message string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   message,
		Fields:    fields,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.output, render(entry, l.format))
}

// render formats one entry as either a compact JSON object or a
// single-line "timestamp [level] message key=val ..." string. Text
// mode sorts field keys so two runs of the same log line are
// byte-comparable instead of varying with Go's map iteration order.
func render(entry LogEntry, format string) string {
	if format == "json" {
		data, _ := json.Marshal(entry)
		return string(data)
	}

	line := fmt.Sprintf("%s [%s] %s", entry.Timestamp.Format(time.RFC3339), entry.Level, entry.Message)
	if len(entry.Fields) == 0 {
		return line
	}

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(" %s=%v", k, entry.Fields[k])
	}
	return line
}

func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.emit(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.emit(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.emit(LevelWarn, message, fields)
}

func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.emit(LevelError, message, fields)
}

// WithFields returns a FieldLogger that merges a fixed set of fields
// (e.g. a component name) into every call, so callers deep in the
// orchestrator or fetcher don't have to repeat them at each log site.
func (l *Logger) WithFields(fields map[string]interface{}) *FieldLogger {
	return &FieldLogger{logger: l, fields: fields}
}

// FieldLogger is a Logger with a preset group of fields merged into
// every entry it emits.
type FieldLogger struct {
	logger *Logger
	fields map[string]interface{}
}

func (fl *FieldLogger) merged(extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fl.fields)+len(extra))
	for k, v := range fl.fields {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (fl *FieldLogger) Debug(message string, fields map[string]interface{}) {
	fl.logger.emit(LevelDebug, message, fl.merged(fields))
}

func (fl *FieldLogger) Info(message string, fields map[string]interface{}) {
	fl.logger.emit(LevelInfo, message, fl.merged(fields))
}

func (fl *FieldLogger) Warn(message string, fields map[string]interface{}) {
	fl.logger.emit(LevelWarn, message, fl.merged(fields))
}

func (fl *FieldLogger) Error(message string, fields map[string]interface{}) {
	fl.logger.emit(LevelError, message, fl.merged(fields))
}
