package messaging

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger routes whatsmeow logs into slog.
type slogLogger struct {
	l *slog.Logger
}

// NewLogger returns a whatsmeow logger writing to slog under module.
func NewLogger(module string) waLog.Logger {
	return &slogLogger{l: slog.Default().With("module", module)}
}

func (s *slogLogger) Errorf(msg string, args ...interface{}) { s.l.Error(fmt.Sprintf(msg, args...)) }
func (s *slogLogger) Warnf(msg string, args ...interface{})  { s.l.Warn(fmt.Sprintf(msg, args...)) }
func (s *slogLogger) Infof(msg string, args ...interface{})  { s.l.Info(fmt.Sprintf(msg, args...)) }
func (s *slogLogger) Debugf(msg string, args ...interface{}) { s.l.Debug(fmt.Sprintf(msg, args...)) }

func (s *slogLogger) Sub(module string) waLog.Logger {
	return &slogLogger{l: s.l.With("sub", module)}
}
