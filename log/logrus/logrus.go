package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/syncache"
)

type LogrusLogger struct{ E *logrus.Entry }

var _ syncache.Logger = LogrusLogger{}

func (l LogrusLogger) Debug(msg string, f syncache.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l LogrusLogger) Info(msg string, f syncache.Fields) { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l LogrusLogger) Warn(msg string, f syncache.Fields) { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l LogrusLogger) Error(msg string, f syncache.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}
