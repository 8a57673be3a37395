package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// setupLog configures the global logger from the --log-file and
// --debug settings and returns a closer for the log sink.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)
	log.SetLevel(log.FatalLevel)
	if viper.GetBool("debug") {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.DebugLevel)
	}
	if file := viper.GetString("log-file"); file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("error setting up log file: %w", err)
		}
		log.SetOutput(f)
		log.SetLevel(log.DebugLevel)
		log.SetReportTimestamp(true)
		log.SetTimeFormat(time.Kitchen)
		return f.Close, nil
	}
	return func() error { return nil }, nil
}
