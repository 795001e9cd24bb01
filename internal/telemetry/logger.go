package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	// debug, info, warn or error, defaults to info
	Level string `json:"level"`
	// when set, logs are also written as json to a rolling file
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout sends each record to every handler that has the level enabled.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		err := h.Handle(ctx, r.Clone())
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// NewLogHandler builds a colored console handler writing to console and,
// when cfg.File is set, a json handler writing to a lumberjack rolling file.
// The returned closer flushes and closes the rolling file.
func NewLogHandler(console io.Writer, cfg LogConfig) (slog.Handler, io.Closer) {
	level := ParseLevel(cfg.Level)

	consoleHandler := tint.NewHandler(console, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})
	if cfg.File == "" {
		return consoleHandler, nopCloser{}
	}

	if dir := filepath.Dir(cfg.File); dir != "" {
		_ = os.MkdirAll(dir, 0755)
	}
	rolling := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 3),
		MaxAge:     orDefault(cfg.MaxAgeDays, 7),
		Compress:   cfg.Compress,
	}
	fileHandler := slog.NewJSONHandler(rolling, &slog.HandlerOptions{Level: level})

	return fanout{consoleHandler, fileHandler}, rolling
}

// InitSlog installs the handler built from cfg as the slog default.
func InitSlog(cfg LogConfig) io.Closer {
	handler, closer := NewLogHandler(os.Stderr, cfg)
	slog.SetDefault(slog.New(handler))
	return closer
}
