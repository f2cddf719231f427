package observ

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the global log level ("debug", "info", "warn", "error").
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

// Logger returns the shared structured logger.
func Logger() *logrus.Logger { return logger }

// Log emits one structured event line. kv carries the event context.
func Log(event string, kv map[string]any) {
	logger.WithFields(logrus.Fields(kv)).Info(event)
}

// Warn emits a warning-level structured event.
func Warn(event string, kv map[string]any) {
	logger.WithFields(logrus.Fields(kv)).Warn(event)
}

// Error emits an error-level structured event.
func Error(event string, err error, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	if err != nil {
		kv["error"] = err.Error()
	}
	logger.WithFields(logrus.Fields(kv)).Error(event)
}
