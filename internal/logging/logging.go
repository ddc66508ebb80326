// Package logging builds the run-scoped logger every component is handed
// at construction time, instead of reaching for a package-level logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// RunContext carries fields attached to every entry produced for one run.
type RunContext struct {
	RunID            string
	BackendEngine    string
	BackendModel     string
	WorkingDirectory string
}

// New opens (creating if needed) a timestamped log file under logRoot and
// returns a logrus.Entry pre-populated with run context, the way
// lazydocker's pkg/log.NewLogger attaches debug/version/commit fields once.
func New(logRoot string, rc RunContext) (*logrus.Entry, func() error, error) {
	if err := os.MkdirAll(logRoot, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log root %q: %w", logRoot, err)
	}

	name := time.Now().Format("20060102_150405") + "_" + rc.RunID + ".log"
	path := filepath.Join(logRoot, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %q: %w", path, err)
	}

	logger := logrus.New()
	logger.SetOutput(file)
	logger.SetLevel(levelFromEnv())
	logger.Formatter = &logrus.JSONFormatter{}

	entry := logger.WithFields(logrus.Fields{
		"run_id":          rc.RunID,
		"backend_engine":  rc.BackendEngine,
		"backend_model":   rc.BackendModel,
		"working_dir":     rc.WorkingDirectory,
	})

	return entry, file.Close, nil
}

// Discard returns a logger that drops everything, for tests and dry probes.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger.WithField("discard", true)
}

func levelFromEnv() logrus.Level {
	s := os.Getenv("LOG_LEVEL")
	if s == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
