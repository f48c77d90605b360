package diag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	slogmulti "github.com/samber/slog-multi"
)

// NewLogger builds the linker's slog.Logger. Diagnostics always go to
// stderr as colorized human-readable text; when logFile is non-empty, a
// second JSON handler fans out the same records to it via slog-multi, the
// same "multi handler" shape the reference corpus's cucaracha module pulls
// in slog-multi for.
func NewLogger(verbose bool, logFile string) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{newColorHandler(os.Stderr, level)}
	closer := func() error { return nil }

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		closer = f.Close
	}

	logger := slog.New(slogmulti.Fanout(handlers...))
	return logger, closer, nil
}

// colorHandler renders log records as "LEVEL message key=value ..." with the
// level colorized by severity, in the terser style a linker's stderr output
// favors over slog's default key=value-everywhere text handler.
type colorHandler struct {
	out   io.Writer
	level slog.Leveler
	attrs []slog.Attr
}

func newColorHandler(w io.Writer, level slog.Leveler) *colorHandler {
	return &colorHandler{out: w, level: level}
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	c := levelColor(r.Level)
	prefix := c.Sprintf("%-5s", r.Level.String())
	line := fmt.Sprintf("%s %s", prefix, r.Message)
	for _, a := range h.attrs {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})
	_, err := fmt.Fprintln(h.out, line)
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &colorHandler{out: h.out, level: h.level, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *colorHandler) WithGroup(_ string) slog.Handler { return h }

func levelColor(level slog.Level) *color.Color {
	switch {
	case level >= slog.LevelError:
		return color.New(color.FgRed, color.Bold)
	case level >= slog.LevelWarn:
		return color.New(color.FgYellow)
	case level >= slog.LevelInfo:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}
