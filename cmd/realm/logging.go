package main

import (
	"io"
	"log/slog"
	"strings"

	realmerrors "github.com/vango-dev/realm/internal/errors"
)

// newLogger builds the process logger from a level and a format name.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, realmerrors.New("R301").WithDetail("--log-level must be one of debug, info, warn, error.").Wrap(err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, realmerrors.Newf(realmerrors.CategoryCLI, "unknown log format %q (want text or json)", format)
	}
}
