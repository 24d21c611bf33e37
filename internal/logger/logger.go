package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where kernel logs go. With File set, records are written
// there and rotated with lumberjack semantics; otherwise they go to the
// writer passed to New.
type Config struct {
	Level      string // debug, info, warn, error (default info)
	Format     string // color, text or json (default color)
	ShowTime   bool
	File       string
	MaxSizeMB  int // megabytes before rotation (default 10)
	MaxBackups int // number of backups to keep (default 3)
	MaxAgeDays int // days to keep (default 7)
	Compress   bool
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Writer returns the rotating file writer for c, or nil when c has no file.
func (c Config) Writer() io.WriteCloser {
	if c.File == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds a logger from c. Output goes to the configured file, or to w.
// The returned closer releases the file and is never nil.
func New(c Config, w io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	var closer io.Closer = nopCloser{}
	format := strings.ToLower(c.Format)
	if fw := c.Writer(); fw != nil {
		w = fw
		closer = fw
		if format == "" || format == "color" {
			format = "text"
		}
	}
	if w == nil {
		w = io.Discard
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch format {
	case "", "color":
		h = NewColorTextHandler(w, opts, c.ShowTime)
	case "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return slog.New(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
