package main

import (
	"log/slog"
	"os"

	"github.com/evdash/telemetryd/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "telemetryd")
	logging.Set(l)
	return l
}
