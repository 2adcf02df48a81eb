// Package logging installs the process-wide dlog logger, sourced from
// logrus and configured through the LOG_LEVEL environment variable.
package logging

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/datawire/dlib/dlog"
)

// defaultLevel is used when LOG_LEVEL is unset or unparseable.
const defaultLevel = logrus.InfoLevel

// WithBaseLogger returns ctx with a dlog logger installed, and also
// registers it as dlog's fallback logger for code paths that log before a
// context carrying one is available.
func WithBaseLogger(ctx context.Context, override string) context.Context {
	logrusLogger := logrus.New()
	logrusLogger.SetFormatter(newFormatter("2006-01-02 15:04:05.0000"))
	logrusLogger.SetLevel(parseLevel(override))

	logger := dlog.WrapLogrus(logrusLogger)
	dlog.SetFallbackLogger(logger)
	return dlog.WithLogger(ctx, logger)
}

func parseLevel(override string) logrus.Level {
	levelStr := override
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}
	if levelStr == "" {
		return defaultLevel
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		return defaultLevel
	}
	return level
}
