// Package logging provides config-driven categorized file-based logging.
// Logs are written to .mosaic/logs/ with separate files per category.
// Logging is controlled by the logging section of .mosaic/config.yaml -
// when debug_mode is false, no logs are written.
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

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and configuration
	CategoryTools     Category = "tools"     // Tool dispatch and execution
	CategoryShell     Category = "shell"     // Shell command execution
	CategorySafety    Category = "safety"    // Command classification
	CategorySnapshot  Category = "snapshot"  // Workspace snapshot capture/compare
	CategoryReview    Category = "review"    // Change queue and review loop
	CategoryApproval  Category = "approval"  // Approval/question rendezvous
	CategoryRules     Category = "rules"     // Local rules store
	CategoryWorkspace Category = "workspace" // Path validation
	CategoryFetch     Category = "fetch"     // HTTP fetch tool
)

// Settings mirrors the logging section of the mosaic config. It is a local
// copy to avoid importing internal/config from here.
type Settings struct {
	DebugMode  bool            `json:"debug_mode" yaml:"debug_mode"`
	Categories map[string]bool `json:"categories" yaml:"categories"`
	Level      string          `json:"level" yaml:"level"`
	JSONFormat bool            `json:"json_format" yaml:"json_format"`
}

// entry is the structured form written when json_format is enabled.
type entry struct {
	Timestamp int64  `json:"ts"`
	Category  string `json:"cat"`
	Level     string `json:"lvl"`
	Message   string `json:"msg"`
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
	settings  Settings
	settingsM sync.RWMutex
	logLevel  int
)

const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory under the workspace root.
// Should be called once at startup, after config load.
func Initialize(workspace string, s Settings) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	settingsM.Lock()
	settings = s
	switch s.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	settingsM.Unlock()

	if !s.DebugMode {
		return nil // Silent no-op in production mode
	}

	logsDir = filepath.Join(workspace, ".mosaic", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== mosaic logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", s.Level)
	return nil
}

// IsDebugMode reports whether debug logging is enabled.
func IsDebugMode() bool {
	settingsM.RLock()
	defer settingsM.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled reports whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	settingsM.RLock()
	defer settingsM.RUnlock()

	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := settings.Categories[string(category)]
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
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a matter of deleting old files.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not open log file %s: %v\n", logPath, err)
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

func (l *Logger) write(level int, tag, format string, args ...interface{}) {
	if l.logger == nil || logLevel > level {
		return
	}
	msg := fmt.Sprintf(format, args...)

	settingsM.RLock()
	jsonFormat := settings.JSONFormat
	settingsM.RUnlock()

	if jsonFormat {
		e := entry{
			Timestamp: time.Now().UnixMilli(),
			Category:  string(l.category),
			Level:     tag,
			Message:   msg,
		}
		if data, err := json.Marshal(e); err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s", tag, msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
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

// Convenience functions. These are no-ops when the category is disabled.

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

func Tools(format string, args ...interface{})      { Get(CategoryTools).Info(format, args...) }
func ToolsDebug(format string, args ...interface{}) { Get(CategoryTools).Debug(format, args...) }
func ToolsWarn(format string, args ...interface{})  { Get(CategoryTools).Warn(format, args...) }
func ToolsError(format string, args ...interface{}) { Get(CategoryTools).Error(format, args...) }

func Shell(format string, args ...interface{})      { Get(CategoryShell).Info(format, args...) }
func ShellDebug(format string, args ...interface{}) { Get(CategoryShell).Debug(format, args...) }
func ShellWarn(format string, args ...interface{})  { Get(CategoryShell).Warn(format, args...) }

func Safety(format string, args ...interface{})      { Get(CategorySafety).Info(format, args...) }
func SafetyDebug(format string, args ...interface{}) { Get(CategorySafety).Debug(format, args...) }

func Snapshot(format string, args ...interface{})      { Get(CategorySnapshot).Info(format, args...) }
func SnapshotDebug(format string, args ...interface{}) { Get(CategorySnapshot).Debug(format, args...) }
func SnapshotWarn(format string, args ...interface{})  { Get(CategorySnapshot).Warn(format, args...) }

func Review(format string, args ...interface{})      { Get(CategoryReview).Info(format, args...) }
func ReviewDebug(format string, args ...interface{}) { Get(CategoryReview).Debug(format, args...) }
func ReviewError(format string, args ...interface{}) { Get(CategoryReview).Error(format, args...) }

func Approval(format string, args ...interface{})      { Get(CategoryApproval).Info(format, args...) }
func ApprovalDebug(format string, args ...interface{}) { Get(CategoryApproval).Debug(format, args...) }

func Rules(format string, args ...interface{})      { Get(CategoryRules).Info(format, args...) }
func RulesDebug(format string, args ...interface{}) { Get(CategoryRules).Debug(format, args...) }
func RulesWarn(format string, args ...interface{})  { Get(CategoryRules).Warn(format, args...) }

func Workspace(format string, args ...interface{})     { Get(CategoryWorkspace).Info(format, args...) }
func WorkspaceWarn(format string, args ...interface{}) { Get(CategoryWorkspace).Warn(format, args...) }

func Fetch(format string, args ...interface{})      { Get(CategoryFetch).Info(format, args...) }
func FetchDebug(format string, args ...interface{}) { Get(CategoryFetch).Debug(format, args...) }
