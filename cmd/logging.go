package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// setupLogging configures the global zerolog logger.
// format is json, console or auto (console when output is a terminal).
// output is stdout, stderr or a file path. The returned closer releases the file.
func setupLogging(level, format, output string) (io.Closer, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
		fd     = -1
	)
	switch output {
	case "", "stdout":
		w, fd = os.Stdout, int(os.Stdout.Fd())
	case "stderr":
		w, fd = os.Stderr, int(os.Stderr.Fd())
	default:
		// #nosec G304 -- log path comes from the operator's config
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log output %s: %w", output, err)
		}
		w, closer = f, f
	}

	console := format == "console" || (format == "auto" && fd >= 0 && term.IsTerminal(fd))
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
