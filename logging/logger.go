package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovetools/virtsession/config"
	"github.com/grovetools/virtsession/pkg/paths"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex

	// settings is resolved lazily on the first NewLogger call unless
	// Configure ran first.
	settings   *Config
	fileSink   io.Writer
	fileSinkMu sync.Mutex
)

// Configure sets the logging section used by loggers created afterwards.
// Commands call it once the configuration file is known.
func Configure(cfg *config.Config) {
	var logCfg Config
	if cfg != nil {
		if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
			logrus.Warnf("Failed to parse 'logging' config: %v", err)
		}
	}
	loggersMu.Lock()
	defer loggersMu.Unlock()
	settings = &logCfg
}

// LogFilePath returns the daily log file the session writes to.
func LogFilePath(t time.Time) string {
	return filepath.Join(paths.LogDir(), fmt.Sprintf("virtsession-%s.log", t.Format("2006-01-02")))
}

// NewLogger creates and returns a pre-configured logger for a specific component.
// Loggers are cached per component.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	if settings == nil {
		var logCfg Config
		if cfg, err := config.LoadDefault(); err == nil {
			if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
				logrus.Warnf("Failed to parse 'logging' config: %v", err)
			}
		}
		settings = &logCfg
	}
	logCfg := *settings

	logger := logrus.New()

	levelStr := "info"
	if env := os.Getenv("VIRTSESSION_LOG_LEVEL"); env != "" {
		levelStr = env
	} else if logCfg.Level != "" {
		levelStr = logCfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if os.Getenv("VIRTSESSION_LOG_CALLER") == "true" || logCfg.ReportCaller {
		logger.SetReportCaller(true)
	}

	isInteractive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	switch logCfg.Format.Preset {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "simple":
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		logger.SetFormatter(&TextFormatter{Config: logCfg.Format})
	}

	var writers []io.Writer
	if !logCfg.File.Disabled {
		if w := openFileSink(logger, logCfg.File.Path); w != nil {
			writers = append(writers, w)
		}
	}

	shouldLogToStderr := false
	stderrMode := "auto"
	if logCfg.Format.StructuredToStderr != "" {
		stderrMode = logCfg.Format.StructuredToStderr
	}
	switch stderrMode {
	case "always":
		shouldLogToStderr = true
	case "never":
		shouldLogToStderr = false
	case "auto":
		// Interactive terminals only see logs at debug level.
		if logger.GetLevel() >= logrus.DebugLevel || !isInteractive {
			shouldLogToStderr = true
		}
	}
	if shouldLogToStderr {
		writers = append(writers, os.Stderr)
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	entry := logger.WithField("component", component)
	loggers[component] = entry
	return entry
}

// openFileSink opens the shared log file once per process. All component
// loggers append to the same file.
func openFileSink(logger *logrus.Logger, configured string) io.Writer {
	fileSinkMu.Lock()
	defer fileSinkMu.Unlock()

	if fileSink != nil {
		return fileSink
	}

	logFilePath := LogFilePath(time.Now())
	if configured != "" {
		logFilePath = expandPath(configured)
	}

	dir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		if configured != "" {
			logger.Warnf("Failed to create log directory %s: %v", dir, err)
		}
		return nil
	}
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		if configured != "" {
			logger.Warnf("Failed to open log file %s: %v", logFilePath, err)
		}
		return nil
	}
	fileSink = file
	return fileSink
}

// expandPath expands tilde in file paths
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
