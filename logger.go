package bayeux

import (
	"github.com/sirupsen/logrus"
)

// Logger is the structured logging port the core writes diagnostics
// through (original spec C10). It mirrors logrus.FieldLogger's
// shape so a caller can pass a *logrus.Logger or *logrus.Entry
// directly via WithFieldLogger, or implement their own adapter.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

// wrappedFieldLogger adapts a logrus.FieldLogger (either *logrus.Logger
// or *logrus.Entry) to the Logger interface.
type wrappedFieldLogger struct {
	logrus.FieldLogger
}

func (w *wrappedFieldLogger) WithField(key string, value interface{}) Logger {
	return &wrappedFieldLogger{w.FieldLogger.WithField(key, value)}
}

func (w *wrappedFieldLogger) WithError(err error) Logger {
	return &wrappedFieldLogger{w.FieldLogger.WithError(err)}
}

// newNullLogger returns a Logger that discards everything. It is the
// default when no logger is configured, matching the teacher's
// zero-cost-by-default convention.
func newNullLogger() Logger {
	logger := logrus.New()
	logger.SetOutput(discardWriter{})
	return &wrappedFieldLogger{logger}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
