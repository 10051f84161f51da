package logger

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger receives one call per sync operation plus free-form diagnostics.
type Logger interface {
	Create(path string)
	Update(path string)
	Delete(path string)
	Move(from, to string)
	Warn(message string)
	Error(operation, path string, err error)
	Debug(message string)
}

// SyncLogger writes sync operations through logrus. Operations are logged at
// info level and prefixed with "(dryrun)" when nothing is actually mutated.
type SyncLogger struct {
	IsDryRun bool
	IsQuiet  bool
	Log      logrus.FieldLogger
}

func (l *SyncLogger) log() logrus.FieldLogger {
	if l.Log == nil {
		return logrus.StandardLogger()
	}
	return l.Log
}

func (l *SyncLogger) operation(op, msg string) {
	if l.IsQuiet {
		return
	}
	if l.IsDryRun {
		msg = "(dryrun) " + msg
	}
	l.log().WithField("op", op).Info(msg)
}

func (l *SyncLogger) Create(path string) {
	l.operation("create", fmt.Sprintf("create: %s", path))
}

func (l *SyncLogger) Update(path string) {
	l.operation("update", fmt.Sprintf("update: %s", path))
}

func (l *SyncLogger) Delete(path string) {
	l.operation("delete", fmt.Sprintf("delete: %s", path))
}

func (l *SyncLogger) Move(from, to string) {
	l.operation("move", fmt.Sprintf("move: %s to %s", from, to))
}

func (l *SyncLogger) Warn(message string) {
	l.log().Warn(message)
}

func (l *SyncLogger) Error(operation, path string, err error) {
	l.log().WithError(err).WithField("path", path).Errorf("%s failed", operation)
}

func (l *SyncLogger) Debug(message string) {
	l.log().Debug(message)
}

type NullLogger struct{}

func (l *NullLogger) Create(path string) {}

func (l *NullLogger) Update(path string) {}

func (l *NullLogger) Delete(path string) {}

func (l *NullLogger) Move(from, to string) {}

func (l *NullLogger) Warn(message string) {}

func (l *NullLogger) Error(operation, path string, err error) {}

func (l *NullLogger) Debug(message string) {}

// ParseLevel accepts error, warn, info, debug and trace.
func ParseLevel(name string) (logrus.Level, error) {
	switch strings.ToLower(name) {
	case "error":
		return logrus.ErrorLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "trace":
		return logrus.TraceLevel, nil
	}
	return logrus.InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// New returns a logrus logger writing text records to out.
func New(level logrus.Level, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}
