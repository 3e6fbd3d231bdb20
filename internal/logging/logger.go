// Package logging provides config-driven categorized file-based logging for
// atelier. Logs are written to {state_dir}/logs/ with separate files per
// category. Logging is a silent no-op unless debug mode is enabled, so the
// core never pays for it in normal runs.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup/initialization
	CategorySession    Category = "session"    // Session lifecycle, state actors
	CategoryRegistry   Category = "registry"   // Registry mutations
	CategorySecurity   Category = "security"   // Path validation decisions
	CategoryPersist    Category = "persist"    // Save/load/resume pipeline
	CategoryEvents     Category = "events"     // Event router
	CategoryRateLimit  Category = "ratelimit"  // Sliding-window limiter
	CategorySupervisor Category = "supervisor" // Supervision trees, restarts
	CategoryAudit      Category = "audit"      // File-operation audit store
)

// Options mirrors config.LoggingConfig to avoid a circular import.
type Options struct {
	DebugMode  bool
	Level      string // debug, info, warn, error
	Categories map[string]bool
	JSONFormat bool
}

// structuredEntry is the JSON log line format.
type structuredEntry struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	optsMu    sync.RWMutex
	logLevel  int
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory. Call once at startup with the
// state dir and the logging section of the loaded config.
func Initialize(stateDir string, o Options) error {
	if stateDir == "" {
		return fmt.Errorf("state dir required")
	}

	optsMu.Lock()
	opts = o
	switch o.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	optsMu.Unlock()

	if !o.DebugMode {
		return nil // Silent no-op in production mode
	}

	logsDir = filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== atelier logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", o.Level)
	return nil
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !opts.DebugMode {
		return false
	}
	if opts.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation trivial
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

func (l *Logger) logJSON(level, msg string) {
	entry := structuredEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

func (l *Logger) emit(level int, tag, format string, args ...interface{}) {
	if l.logger == nil || logLevel > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	optsMu.RLock()
	jsonFormat := opts.JSONFormat
	optsMu.RUnlock()
	if jsonFormat {
		l.logJSON(tag, msg)
	} else {
		l.logger.Printf("[%s] %s", tag, msg)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.emit(LevelDebug, "DEBUG", format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.emit(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.emit(LevelWarn, "WARN", format, args...)
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(LevelError, "ERROR", format, args...)
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without getting a logger first.
// These are no-ops if the category is disabled.
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Session logs to the session category.
func Session(format string, args ...interface{}) { Get(CategorySession).Info(format, args...) }

// SessionDebug logs debug to the session category.
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }

// SessionError logs error to the session category.
func SessionError(format string, args ...interface{}) { Get(CategorySession).Error(format, args...) }

// Registry logs to the registry category.
func Registry(format string, args ...interface{}) { Get(CategoryRegistry).Info(format, args...) }

// RegistryDebug logs debug to the registry category.
func RegistryDebug(format string, args ...interface{}) { Get(CategoryRegistry).Debug(format, args...) }

// Security logs to the security category.
func Security(format string, args ...interface{}) { Get(CategorySecurity).Info(format, args...) }

// SecurityWarn logs warning to the security category.
func SecurityWarn(format string, args ...interface{}) { Get(CategorySecurity).Warn(format, args...) }

// Persist logs to the persist category.
func Persist(format string, args ...interface{}) { Get(CategoryPersist).Info(format, args...) }

// PersistDebug logs debug to the persist category.
func PersistDebug(format string, args ...interface{}) { Get(CategoryPersist).Debug(format, args...) }

// PersistWarn logs warning to the persist category.
func PersistWarn(format string, args ...interface{}) { Get(CategoryPersist).Warn(format, args...) }

// PersistError logs error to the persist category.
func PersistError(format string, args ...interface{}) { Get(CategoryPersist).Error(format, args...) }

// Events logs to the events category.
func Events(format string, args ...interface{}) { Get(CategoryEvents).Info(format, args...) }

// RateLimit logs to the ratelimit category.
func RateLimit(format string, args ...interface{}) { Get(CategoryRateLimit).Info(format, args...) }

// Supervisor logs to the supervisor category.
func Supervisor(format string, args ...interface{}) { Get(CategorySupervisor).Info(format, args...) }

// SupervisorWarn logs warning to the supervisor category.
func SupervisorWarn(format string, args ...interface{}) { Get(CategorySupervisor).Warn(format, args...) }

// SupervisorError logs error to the supervisor category.
func SupervisorError(format string, args ...interface{}) { Get(CategorySupervisor).Error(format, args...) }

// Audit logs to the audit category.
func Audit(format string, args ...interface{}) { Get(CategoryAudit).Info(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
