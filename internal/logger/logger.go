// Package logger performs the logrus setup the teacher's cmd/main.go
// already imports as internal/logger but never ships a body for:
// level parsing plus text-formatter initialization, with timestamps so
// stripe-by-stripe Debug output can be correlated across a run.
package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// InitLogger parses level (one of the config.LogLevel* constants) and
// installs it as logrus's standard-logger level, writing to stderr
// with a text formatter. An unrecognized level is an error, not a
// silent fallback, so a mistyped level string fails fast at startup
// rather than quietly running at the wrong verbosity.
func InitLogger(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logger: invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(os.Stderr)
	return nil
}
