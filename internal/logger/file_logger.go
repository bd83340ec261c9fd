package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// Logger writes leveled pipeline entries to a per class, per day file
type Logger struct {
	class   string
	mode    string
	logFile *os.File
	logger  *log.Logger
	mu      sync.Mutex
	logDir  string
	debug   bool
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelStatus  LogLevel = "STATUS"
	LogLevelDebug   LogLevel = "DEBUG"
)

// Options controls where and how much the logger writes
type Options struct {
	Dir    string
	Class  string
	Mode   string
	Debug  bool
	Stdout bool // mirror every entry to stdout
}

// NewLogger creates a file logger for one instrument class and mode
func NewLogger(opts Options) (*Logger, error) {
	logDir := opts.Dir
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, fileName(opts.Class, opts.Mode, time.Now()))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var out io.Writer = file
	if opts.Stdout {
		out = io.MultiWriter(file, os.Stdout)
	}

	l := &Logger{
		class:   opts.Class,
		mode:    opts.Mode,
		logFile: file,
		logger:  log.New(out, "", 0),
		logDir:  logDir,
		debug:   opts.Debug,
	}
	l.writeSessionHeader()
	return l, nil
}

// NewWriterLogger logs to an arbitrary writer, without a file behind it
func NewWriterLogger(w io.Writer, debug bool) *Logger {
	return &Logger{
		logger: log.New(w, "", 0),
		debug:  debug,
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return NewWriterLogger(io.Discard, false)
}

func fileName(class, mode string, now time.Time) string {
	if class == "" {
		class = "pipeline"
	}
	if mode == "" {
		mode = "paper"
	}
	return fmt.Sprintf("%s_%s_%s.log", class, mode, now.Format("2006-01-02"))
}

func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
ORDER PIPELINE SESSION STARTED
================================================================================
Class: %s | Mode: %s
Started: %s
================================================================================
`, l.class, l.mode, time.Now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.logger.Println(fmt.Sprintf("[%s] [%s] %s", timestamp, level, message))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

// LogDebugOnly logs only when debug output is enabled
func (l *Logger) LogDebugOnly(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.Log(LogLevelDebug, format, args...)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// LogWarning logs warning with context
func (l *Logger) LogWarning(context string, message string, args ...interface{}) {
	l.Warning("%s: %s", context, fmt.Sprintf(message, args...))
}

// LogExecution logs one routed order outcome
func (l *Logger) LogExecution(result types.ExecutionResult) {
	if result.Status == types.StatusRejected {
		l.Warning("order rejected %s %s %s qty=%g: %s",
			result.Strategy, result.Side, result.Symbol, result.Quantity, result.Message)
		return
	}
	l.Trade("%s %s %s %s qty=%g filled=%g avg=%.4f id=%s",
		result.Status, result.Strategy, result.Side, result.Symbol,
		result.Quantity, result.FilledQuantity, result.AvgPrice, result.OrderID)
}

// LogEquity logs an equity snapshot line
func (l *Logger) LogEquity(equity, realized, unrealized float64, positions int) {
	l.Status("equity=%.2f realized=%.2f unrealized=%.2f open_positions=%d",
		equity, realized, unrealized, positions)
}

// Close closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return nil
	}
	l.logger.Print(fmt.Sprintf(`
================================================================================
ORDER PIPELINE SESSION ENDED %s
================================================================================
`, time.Now().Format("2006-01-02 15:04:05")))

	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	if l.logDir == "" {
		return ""
	}
	return filepath.Join(l.logDir, fileName(l.class, l.mode, time.Now()))
}
