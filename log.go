package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// setupLog configures the global logger. Logs go to stderr; when
// MIMEO_LOGFILE is set they go to that file instead, which keeps the
// playback status line readable. The returned closer flushes the file.
func setupLog() (func() error, error) {
	log.SetTimeFormat(time.Kitchen)

	if envOpts.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	if envOpts.LogFile == "" {
		return func() error { return nil }, nil
	}

	f, err := os.OpenFile(envOpts.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("error setting up log file: %w", err)
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	return f.Close, nil
}
