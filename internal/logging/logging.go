// Package logging provides the subsystem-tagged structured logger used
// across the event pipeline: a logrus entry carrying a "subsystem" field
// ("broker", "callback", "subscription", ...).
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry pre-tagged with a subsystem field.
type Logger struct {
	entry *logrus.Entry
}

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel adjusts the global log level (debug, info, warn, error).
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}

// For returns a Logger tagged with the given subsystem, e.g. For("subscription").
func For(subsystem string) *Logger {
	return &Logger{entry: base.WithField("subsystem", subsystem)}
}

// With returns a derived Logger with an additional field, for per-call
// context like speaker id or SID.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
