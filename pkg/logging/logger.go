// Package logging provides the process-wide leveled logger used by every
// Flowgraph component. Severity gating follows the framework convention:
// ERROR is the quietest useful level and DEBUG the loudest, with DISABLED
// silencing output entirely. The logger can mirror or redirect its output
// to a file and, with profiling enabled, stamps each line with the emitting
// goroutine and a millisecond timestamp.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level represents a logging severity level.
type Level int

const (
	// Disabled suppresses all output.
	Disabled Level = iota
	// ErrorLevel logs errors only. This is the default.
	ErrorLevel
	// WarningLevel adds warnings.
	WarningLevel
	// InfoLevel adds informational messages.
	InfoLevel
	// DebugLevel logs everything.
	DebugLevel
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case Disabled:
		return "DISABLED"
	case ErrorLevel:
		return "ERROR"
	case WarningLevel:
		return "WARNING"
	case InfoLevel:
		return "INFO"
	case DebugLevel:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "disabled", "off", "none":
		return Disabled, nil
	case "error":
		return ErrorLevel, nil
	case "warn", "warning":
		return WarningLevel, nil
	case "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	default:
		return ErrorLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// Format represents a log output format.
type Format int

const (
	// TextFormat is a human-readable single line per entry.
	TextFormat Format = iota
	// JSONFormat emits one JSON object per entry.
	JSONFormat
)

// Entry is a single log entry.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
	Goroutine int            `json:"goroutine,omitempty"`
	UnixMs    int64          `json:"unix_ms,omitempty"`
}

// Logger writes leveled log entries to a console writer and, when dumping
// is enabled, to a file. All writes are serialized by one mutex.
type Logger struct {
	mu         sync.Mutex
	level      Level
	format     Format
	console    io.Writer
	file       io.WriteCloser
	fileOnly   bool
	showCaller bool
	profiling  bool
	component  string
}

// Config holds logger configuration.
type Config struct {
	Level      Level
	Format     Format
	Output     io.Writer
	ShowCaller bool
	Component  string
}

// DefaultConfig returns the default logger configuration: ERROR level,
// text format, stdout, caller annotation on.
func DefaultConfig() *Config {
	return &Config{
		Level:      ErrorLevel,
		Format:     TextFormat,
		Output:     os.Stdout,
		ShowCaller: true,
	}
}

// New creates a logger with the given configuration.
func New(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		level:      config.Level,
		format:     config.Format,
		console:    out,
		showCaller: config.ShowCaller,
		component:  config.Component,
	}
}

// WithComponent returns a logger that starts from a copy of this logger's
// current sinks and settings and tags entries with the component name.
// Later changes to this logger (level, format, file, profiling) do not
// reach the returned logger.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		level:      l.level,
		format:     l.format,
		console:    l.console,
		file:       l.file,
		fileOnly:   l.fileOnly,
		showCaller: l.showCaller,
		profiling:  l.profiling,
		component:  component,
	}
}

// SetLevel sets the severity level. Messages above the level are dropped.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current severity level.
func (l *Logger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetFormat sets the output format.
func (l *Logger) SetFormat(format Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = format
}

// SetOutput replaces the console writer.
func (l *Logger) SetOutput(output io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = output
}

// DumpToFile opens filename (creating parent directories) and appends every
// subsequent entry to it. With fileOnly set, console output is silenced. A
// previous dump file is closed first.
func (l *Logger) DumpToFile(filename string, fileOnly bool) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = file
	l.fileOnly = fileOnly
	return nil
}

// CloseFile stops dumping to file and closes it.
func (l *Logger) CloseFile() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileOnly = false
	return err
}

// EnableProfiling adds the emitting goroutine id and a unix-millisecond
// timestamp to every entry.
func (l *Logger) EnableProfiling() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.profiling = true
}

// DisableProfiling turns profiling annotations off.
func (l *Logger) DisableProfiling() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.profiling = false
}

// IsEnabled reports whether entries at the level would be written.
func (l *Logger) IsEnabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled(level)
}

func (l *Logger) enabled(level Level) bool {
	return l.level != Disabled && level != Disabled && level <= l.level
}

// log formats and writes one entry. calldepth counts frames between the
// public helper and the user call site.
func (l *Logger) log(level Level, calldepth int, message string, fields map[string]any) {
	l.mu.Lock()
	if !l.enabled(level) {
		l.mu.Unlock()
		return
	}
	showCaller, profiling := l.showCaller, l.profiling
	component, format := l.component, l.format
	l.mu.Unlock()

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    fields,
	}
	if component != "" {
		if entry.Fields == nil {
			entry.Fields = make(map[string]any)
		}
		entry.Fields["component"] = component
	}
	if showCaller {
		if _, file, line, ok := runtime.Caller(calldepth); ok {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}
	if profiling {
		entry.Goroutine = goid()
		entry.UnixMs = entry.Timestamp.UnixMilli()
	}

	var output string
	switch format {
	case JSONFormat:
		data, _ := json.Marshal(entry)
		output = string(data) + "\n"
	default:
		output = l.formatText(entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.console != nil && !(l.fileOnly && l.file != nil) {
		l.console.Write([]byte(output))
	}
	if l.file != nil {
		l.file.Write([]byte(output))
	}
}

func (l *Logger) formatText(entry Entry) string {
	var parts []string
	parts = append(parts, entry.Timestamp.Format("2006-01-02 15:04:05"))
	parts = append(parts, fmt.Sprintf("[%s]", entry.Level))
	if entry.Goroutine != 0 {
		parts = append(parts, fmt.Sprintf("[g%d]", entry.Goroutine))
	}
	if entry.UnixMs != 0 {
		parts = append(parts, fmt.Sprintf("[%d]", entry.UnixMs))
	}
	if entry.Caller != "" {
		parts = append(parts, fmt.Sprintf("(%s)", entry.Caller))
	}
	parts = append(parts, entry.Message)

	result := strings.Join(parts, " ")
	if len(entry.Fields) > 0 {
		var fieldParts []string
		for key, value := range entry.Fields {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%v", key, value))
		}
		result += fmt.Sprintf(" [%s]", strings.Join(fieldParts, " "))
	}
	return result + "\n"
}

// goid extracts the current goroutine id from the runtime stack header.
// Only consulted when profiling is enabled.
func goid() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := buf[:n]
	header = bytes.TrimPrefix(header, []byte("goroutine "))
	if i := bytes.IndexByte(header, ' '); i > 0 {
		if id, err := strconv.Atoi(string(header[:i])); err == nil {
			return id
		}
	}
	return 0
}

// Error logs an error message.
func (l *Logger) Error(message string, fields ...map[string]any) {
	l.log(ErrorLevel, 2, message, firstField(fields))
}

// Warning logs a warning message.
func (l *Logger) Warning(message string, fields ...map[string]any) {
	l.log(WarningLevel, 2, message, firstField(fields))
}

// Info logs an informational message.
func (l *Logger) Info(message string, fields ...map[string]any) {
	l.log(InfoLevel, 2, message, firstField(fields))
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...map[string]any) {
	l.log(DebugLevel, 2, message, firstField(fields))
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) {
	l.log(ErrorLevel, 2, fmt.Sprintf(format, args...), nil)
}

// Warningf logs a formatted warning message.
func (l *Logger) Warningf(format string, args ...any) {
	l.log(WarningLevel, 2, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted informational message.
func (l *Logger) Infof(format string, args ...any) {
	l.log(InfoLevel, 2, fmt.Sprintf(format, args...), nil)
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...any) {
	l.log(DebugLevel, 2, fmt.Sprintf(format, args...), nil)
}

func firstField(fields []map[string]any) map[string]any {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// WithField returns a field logger carrying one preset field.
func (l *Logger) WithField(key string, value any) *FieldLogger {
	return &FieldLogger{logger: l, fields: map[string]any{key: value}}
}

// WithFields returns a field logger carrying preset fields.
func (l *Logger) WithFields(fields map[string]any) *FieldLogger {
	f := make(map[string]any, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	return &FieldLogger{logger: l, fields: f}
}

// FieldLogger wraps a logger with preset fields.
type FieldLogger struct {
	logger *Logger
	fields map[string]any
}

// Error logs an error message with the preset fields.
func (fl *FieldLogger) Error(message string) {
	fl.logger.log(ErrorLevel, 2, message, fl.fields)
}

// Warning logs a warning message with the preset fields.
func (fl *FieldLogger) Warning(message string) {
	fl.logger.log(WarningLevel, 2, message, fl.fields)
}

// Info logs an info message with the preset fields.
func (fl *FieldLogger) Info(message string) {
	fl.logger.log(InfoLevel, 2, message, fl.fields)
}

// Debug logs a debug message with the preset fields.
func (fl *FieldLogger) Debug(message string) {
	fl.logger.log(DebugLevel, 2, message, fl.fields)
}

// WithField adds another preset field.
func (fl *FieldLogger) WithField(key string, value any) *FieldLogger {
	fields := make(map[string]any, len(fl.fields)+1)
	for k, v := range fl.fields {
		fields[k] = v
	}
	fields[key] = value
	return &FieldLogger{logger: fl.logger, fields: fields}
}

// Global logger instance.
var (
	defaultLogger   *Logger
	defaultLoggerMu sync.RWMutex
)

// InitGlobalLogger installs the global logger.
func InitGlobalLogger(config *Config) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = New(config)
}

// GetGlobalLogger returns the global logger, creating a default one on
// first use.
func GetGlobalLogger() *Logger {
	defaultLoggerMu.RLock()
	if defaultLogger != nil {
		defer defaultLoggerMu.RUnlock()
		return defaultLogger
	}
	defaultLoggerMu.RUnlock()

	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(DefaultConfig())
	}
	return defaultLogger
}

// SetLogLevel sets the global logger's level.
func SetLogLevel(level Level) {
	GetGlobalLogger().SetLevel(level)
}

// Error logs to the global logger.
func Error(message string, fields ...map[string]any) {
	GetGlobalLogger().log(ErrorLevel, 2, message, firstField(fields))
}

// Warning logs to the global logger.
func Warning(message string, fields ...map[string]any) {
	GetGlobalLogger().log(WarningLevel, 2, message, firstField(fields))
}

// Info logs to the global logger.
func Info(message string, fields ...map[string]any) {
	GetGlobalLogger().log(InfoLevel, 2, message, firstField(fields))
}

// Debug logs to the global logger.
func Debug(message string, fields ...map[string]any) {
	GetGlobalLogger().log(DebugLevel, 2, message, firstField(fields))
}

// Errorf logs a formatted message to the global logger.
func Errorf(format string, args ...any) {
	GetGlobalLogger().log(ErrorLevel, 2, fmt.Sprintf(format, args...), nil)
}

// Warningf logs a formatted message to the global logger.
func Warningf(format string, args ...any) {
	GetGlobalLogger().log(WarningLevel, 2, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted message to the global logger.
func Infof(format string, args ...any) {
	GetGlobalLogger().log(InfoLevel, 2, fmt.Sprintf(format, args...), nil)
}

// Debugf logs a formatted message to the global logger.
func Debugf(format string, args ...any) {
	GetGlobalLogger().log(DebugLevel, 2, fmt.Sprintf(format, args...), nil)
}
