// Package logger provides the process-wide logging used by every layer of
// pg-rewind-go, from CLI argument parsing down to the file map executor.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	// Logger is the debug/warn/error sink; level-gated by Config.LogLevel.
	Logger *logrus.Logger
	// InfoLogger carries Info-level progress output (stage transitions,
	// per-file actions when -v is set).
	InfoLogger *logrus.Logger
	// ErrorLogger carries Error/Fatal diagnostics, written to stderr.
	ErrorLogger *logrus.Logger
)

// Config controls where log output goes and at what level.
type Config struct {
	ErrorLogPath string
	InfoLogPath  string
	LogLevel     string
	Color        bool // force-enable ANSI color regardless of TTY detection
}

// CustomFormatter renders "[15:04:05 MST 2006/01/02] [INFO] (caller) msg".
type CustomFormatter struct {
	TimestampFormat string
	Color           bool
}

var levelColor = map[logrus.Level]string{
	logrus.DebugLevel: "\x1b[36m", // cyan
	logrus.InfoLevel:  "\x1b[32m", // green
	logrus.WarnLevel:  "\x1b[33m", // yellow
	logrus.ErrorLevel: "\x1b[31m", // red
	logrus.FatalLevel: "\x1b[35m", // magenta
}

const colorReset = "\x1b[0m"

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	caller := getCaller()

	if f.Color {
		c := levelColor[entry.Level]
		return []byte(fmt.Sprintf("[%s] %s[%s]%s (%s) %s\n",
			timestamp, c, level, colorReset, caller, entry.Message)), nil
	}
	return []byte(fmt.Sprintf("[%s] [%s] (%s) %s\n",
		timestamp, level, caller, entry.Message)), nil
}

// getCaller walks the goroutine stack past this package and logrus itself
// to find the first frame that actually logged something.
func getCaller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") ||
			strings.Contains(file, "/logger/logger.go") ||
			strings.Contains(file, "/entry.go") {
			continue
		}
		funcName := runtime.FuncForPC(pc).Name()
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), funcName, line)
	}
	return "unknown:unknown:0"
}

func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// Init sets up Logger, InfoLogger and ErrorLogger. Info goes to stdout
// (plus InfoLogPath if set), errors go to stderr (plus ErrorLogPath).
func Init(cfg Config) error {
	color := cfg.Color || isatty.IsTerminal(os.Stdout.Fd())
	formatter := &CustomFormatter{TimestampFormat: "15:04:05 MST 2006/01/02", Color: color}

	level := parseLogLevel(cfg.LogLevel)

	Logger = logrus.New()
	Logger.SetFormatter(formatter)
	Logger.SetLevel(level)

	InfoLogger = logrus.New()
	InfoLogger.SetFormatter(formatter)
	InfoLogger.SetLevel(level)

	ErrorLogger = logrus.New()
	ErrorLogger.SetFormatter(formatter)
	ErrorLogger.SetLevel(level)

	stdout := io.Writer(colorable.NewColorableStdout())
	stderr := io.Writer(colorable.NewColorableStderr())
	if !color {
		stdout, stderr = os.Stdout, os.Stderr
	}

	if cfg.InfoLogPath != "" {
		f, err := openLogFile(cfg.InfoLogPath)
		if err != nil {
			InfoLogger.SetOutput(stdout)
			InfoLogger.Warnf("could not open info log %q, falling back to stdout: %v", cfg.InfoLogPath, err)
		} else {
			InfoLogger.SetOutput(io.MultiWriter(stdout, f))
		}
	} else {
		InfoLogger.SetOutput(stdout)
	}

	if cfg.ErrorLogPath != "" {
		f, err := openLogFile(cfg.ErrorLogPath)
		if err != nil {
			ErrorLogger.SetOutput(stderr)
			ErrorLogger.Warnf("could not open error log %q, falling back to stderr: %v", cfg.ErrorLogPath, err)
		} else {
			ErrorLogger.SetOutput(io.MultiWriter(stderr, f))
		}
	} else {
		ErrorLogger.SetOutput(stderr)
	}

	Logger.SetOutput(InfoLogger.Out)
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func Info(args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Info(args...)
	}
}

func Infof(format string, args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Infof(format, args...)
	}
}

func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

func Error(args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Error(args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Errorf(format, args...)
	}
}
