package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/relay-protocol/relay-go/pkg/log"
)

// newLogger creates a text logger writing to w at the given level.
func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	if level == "" {
		level = "info"
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("unknown log level: %s", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// newProtocolLogger builds the protocol event sink: the file at path when
// set, plus the operational logger at debug level.
func newProtocolLogger(path string, logger *slog.Logger) (log.Logger, func(), error) {
	console := log.NewSlogAdapter(logger)
	if path == "" {
		return console, func() {}, nil
	}

	file, err := log.NewFileLogger(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open protocol log: %w", err)
	}
	closeFn := func() {
		_ = file.Close()
		written, dropped := file.Counts()
		logger.Debug("protocol log closed", "path", path, "events", written, "dropped", dropped)
	}
	return log.Tee(file, console), closeFn, nil
}
