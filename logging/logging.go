// Package logging sets up the structured logger shared by every component.
//
// The Python original had a single module-level logger instantiated as a
// side effect of importing utils/logger.py. Design note §9 calls for
// logging to become "a capability injected into each component" instead;
// New builds the base *logrus.Logger once (wired to the configured log
// file, falling back to stderr if it cannot be opened) and callers derive
// a *logrus.Entry per component with For.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// New creates the base logger for the process, writing to logFile (created
// with its parent directories, truncated on each run as the Python
// original's utils/logger.py did) in addition to stderr.
func New(logFile string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if logFile == "" {
		return logger
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		logger.WithError(err).Warn("could not create log directory, logging to stderr only")
		return logger
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		logger.WithError(err).Warn("could not open log file, logging to stderr only")
		return logger
	}

	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return logger
}

// For returns a component-scoped entry. Every long-lived component (pool,
// tracker, peer node, downloader, uploader) should hold one of these rather
// than the bare *logrus.Logger, so every line it emits carries a
// "component" field.
func For(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}
