package session

import (
	"github.com/sirupsen/logrus"
)

// NewLogger returns a Logger backed by a fresh logrus logger at the given
// level. Unknown levels fall back to info.
func NewLogger(level string) Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return FromLogrus(logger)
}

// FromLogrus adapts a logrus logger.
func FromLogrus(l logrus.FieldLogger) Logger {
	if l == nil {
		return defLogger{}
	}
	return logrusLogger{entry: l.WithField("component", "AUTH")}
}

type logrusLogger struct {
	entry *logrus.Entry
}

func (l logrusLogger) Debug(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l logrusLogger) Info(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l logrusLogger) Warn(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l logrusLogger) Error(format string, args ...any) { l.entry.Errorf(format, args...) }

var std = logrus.StandardLogger().WithField("component", "AUTH")

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	std.Errorf(format, args...)
}

func (d defLogger) Warn(format string, args ...any) {
	std.Warnf(format, args...)
}

func (d defLogger) Info(format string, args ...any) {
	std.Infof(format, args...)
}

func (d defLogger) Debug(format string, args ...any) {
	std.Debugf(format, args...)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
