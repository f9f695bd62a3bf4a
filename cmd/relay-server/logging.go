package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/relay-protocol/relay-go/pkg/log"
)

// newLogger creates a text logger writing to stderr at the given level.
func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "", "info":
		l = slog.LevelInfo
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

// newProtocolLogger builds the protocol event sink. Events go to path when
// set, and to the operational logger at debug level.
func newProtocolLogger(path string, logger *slog.Logger) (log.Logger, func(), error) {
	console := log.NewSlogAdapter(logger)
	if path == "" {
		return console, func() {}, nil
	}

	file, err := log.NewFileLogger(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open protocol log: %w", err)
	}
	logger.Info("protocol logging enabled", "path", path)
	closeFn := func() {
		_ = file.Close()
		written, dropped := file.Counts()
		logger.Debug("protocol log closed", "path", path, "events", written, "dropped", dropped)
	}
	return log.Tee(file, console), closeFn, nil
}
