package logging

import (
	"bytes"
	"runtime"
	"strings"
	"testing"

	"github.com/grovetools/virtsession/config"
	"github.com/sirupsen/logrus"
)

func resetLoggers(t *testing.T) {
	t.Helper()
	loggersMu.Lock()
	loggers = make(map[string]*logrus.Entry)
	settings = nil
	loggersMu.Unlock()
}

func TestNewLogger(t *testing.T) {
	t.Setenv("VIRTSESSION_HOME", t.TempDir())
	resetLoggers(t)
	t.Cleanup(func() { resetLoggers(t) })

	logger := NewLogger("test-component")
	if logger == nil {
		t.Fatal("Expected logger to be created")
	}
	if logger.Data["component"] != "test-component" {
		t.Errorf("Expected component to be 'test-component', got %v", logger.Data["component"])
	}
	if again := NewLogger("test-component"); again != logger {
		t.Error("Expected cached logger for the same component")
	}
}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name    string
		config  FormatConfig
		entry   *logrus.Entry
		want    []string
		notWant []string
	}{
		{
			name:   "default format",
			config: FormatConfig{},
			entry: &logrus.Entry{
				Level:   logrus.InfoLevel,
				Message: "tick cycle finished",
				Data: logrus.Fields{
					"component": "scheduler",
					"uri":       "test:///default",
				},
			},
			want: []string{"[INFO]", "[scheduler]", "tick cycle finished", "uri=test:///default"},
		},
		{
			name: "simple format",
			config: FormatConfig{
				DisableTimestamp: true,
				DisableComponent: true,
			},
			entry: &logrus.Entry{
				Level:   logrus.WarnLevel,
				Message: "tick is slow",
				Data:    logrus.Fields{"component": "scheduler"},
			},
			want:    []string{"[WARN]", "tick is slow"},
			notWant: []string{"[scheduler]"},
		},
		{
			name:   "caller information",
			config: FormatConfig{},
			entry: func() *logrus.Entry {
				logger := logrus.New()
				logger.SetReportCaller(true)
				return &logrus.Entry{
					Logger:  logger,
					Level:   logrus.InfoLevel,
					Message: "with caller",
					Data:    logrus.Fields{"component": "engine"},
					Caller: &runtime.Frame{
						File:     "/path/to/engine.go",
						Line:     42,
						Function: "github.com/grovetools/virtsession/internal/engine.(*Engine).Start",
					},
				}
			}(),
			want: []string{"[engine.go:42 engine.(*Engine).Start]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TextFormatter{Config: tt.config}
			output, err := formatter.Format(tt.entry)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			outputStr := string(output)
			for _, want := range tt.want {
				if !strings.Contains(outputStr, want) {
					t.Errorf("Expected output to contain '%s', got: %s", want, outputStr)
				}
			}
			for _, notWant := range tt.notWant {
				if strings.Contains(outputStr, notWant) {
					t.Errorf("Expected output NOT to contain '%s', got: %s", notWant, outputStr)
				}
			}
		})
	}
}

func TestFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&TextFormatter{Config: FormatConfig{DisableTimestamp: true}})

	logger.WithFields(logrus.Fields{"uri": "u", "job": "j", "label": "l"}).Info("done")

	if got := buf.String(); !strings.HasSuffix(got, "done job=j label=l uri=u\n") {
		t.Errorf("Expected sorted fields, got: %q", got)
	}
}

func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("VIRTSESSION_HOME", t.TempDir())
	t.Setenv("VIRTSESSION_LOG_LEVEL", "debug")
	t.Setenv("VIRTSESSION_LOG_CALLER", "true")
	resetLoggers(t)
	t.Cleanup(func() { resetLoggers(t) })

	logger := NewLogger("env-test")
	if logger.Logger.Level != logrus.DebugLevel {
		t.Errorf("Expected debug level from env var, got %v", logger.Logger.Level)
	}
	if !logger.Logger.ReportCaller {
		t.Error("Expected caller reporting to be enabled from env var")
	}
}

func TestConfigureFromConfig(t *testing.T) {
	t.Setenv("VIRTSESSION_HOME", t.TempDir())
	t.Setenv("VIRTSESSION_LOG_LEVEL", "")
	resetLoggers(t)
	t.Cleanup(func() { resetLoggers(t) })

	cfg, err := config.LoadFromBytes([]byte("logging:\n  level: warn\n  format:\n    preset: json\n"), config.FormatYAML)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	Configure(cfg)

	logger := NewLogger("configured")
	if logger.Logger.Level != logrus.WarnLevel {
		t.Errorf("Expected warn level from config, got %v", logger.Logger.Level)
	}
	if _, ok := logger.Logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("Expected JSON formatter, got %T", logger.Logger.Formatter)
	}
}
