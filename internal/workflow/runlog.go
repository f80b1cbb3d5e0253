package workflow

import (
	"fmt"

	"go.uber.org/zap"
)

// runLog accumulates the human-readable log of one workflow run and mirrors
// every entry to zap.
type runLog struct {
	entries []string
	logger  *zap.Logger
}

func newRunLog(logger *zap.Logger) *runLog {
	return &runLog{logger: logger}
}

func (l *runLog) infof(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.entries = append(l.entries, msg)
	l.logger.Info(msg)
}

func (l *runLog) warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.entries = append(l.entries, "WARNING: "+msg)
	l.logger.Warn(msg)
}

func (l *runLog) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.entries = append(l.entries, "ERROR: "+msg)
	l.logger.Error(msg)
}

// lines returns a copy of the entries.
func (l *runLog) lines() []string {
	return append([]string{}, l.entries...)
}
