// Package klog is a small leveled, structured logger built on log/slog:
// a terminal handler with color detection, and a JSON handler for
// non-tty output.
package klog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger wraps slog.Logger with bound key/value context, mirroring the
// teacher's log.Logger.New(ctx...) sub-logger pattern.
type Logger struct {
	s *slog.Logger
}

var root = New(NewTerminalHandler(os.Stderr))

// Root returns the process-wide default logger.
func Root() Logger { return root }

// SetRoot replaces the process-wide default logger.
func SetRoot(l Logger) { root = l }

// New wraps an slog.Handler into a Logger.
func New(h slog.Handler) Logger {
	return Logger{s: slog.New(h)}
}

// With returns a sub-logger with additional bound key/value pairs, e.g.
// log.With("chain", name) for a per-chain watcher's logger.
func (l Logger) With(kv ...any) Logger {
	return Logger{s: l.s.With(kv...)}
}

func (l Logger) Trace(msg string, kv ...any) { l.log(LevelTrace, msg, kv...) }
func (l Logger) Debug(msg string, kv ...any) { l.s.Debug(msg, kv...) }
func (l Logger) Info(msg string, kv ...any)  { l.s.Info(msg, kv...) }
func (l Logger) Warn(msg string, kv ...any)  { l.s.Warn(msg, kv...) }
func (l Logger) Error(msg string, kv ...any) { l.s.Error(msg, kv...) }
func (l Logger) Crit(msg string, kv ...any)  { l.log(LevelCrit, msg, kv...); os.Exit(1) }

func (l Logger) log(level slog.Level, msg string, kv ...any) {
	l.s.Log(context.Background(), level, msg, kv...)
}

// Levels beyond slog's default four: Trace below Debug, Crit above Error.
const (
	LevelTrace = slog.Level(-8)
	LevelCrit  = slog.Level(12)
)

// NewTerminalHandler returns a colorized, human-readable handler when w is
// a terminal, and a plain text handler otherwise — the same heuristic the
// teacher's CLI logger applies with go-isatty/go-colorable.
func NewTerminalHandler(w io.Writer) slog.Handler {
	var out io.Writer = w
	useColor := false
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if useColor {
		out = colorable.NewColorable(w.(*os.File))
	}
	return &terminalHandler{out: out, color: useColor, level: slog.LevelInfo}
}

// JSONHandler returns a slog.JSONHandler configured at info level, for
// non-interactive/production use.
func JSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
}

type terminalHandler struct {
	out   io.Writer
	color bool
	level slog.Level
	attrs []slog.Attr
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

func (h *terminalHandler) WithGroup(_ string) slog.Handler { return h }

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.Format("01-02|15:04:05.000")
	level := levelString(r.Level, h.color)
	line := ts + " " + level + " " + r.Message
	for _, a := range h.attrs {
		line += " " + a.Key + "=" + a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		line += " " + a.Key + "=" + a.Value.String()
		return true
	})
	_, err := io.WriteString(h.out, line+"\n")
	return err
}

func levelString(l slog.Level, color bool) string {
	var s string
	switch {
	case l < slog.LevelDebug:
		s = "TRACE"
	case l < slog.LevelInfo:
		s = "DEBUG"
	case l < slog.LevelWarn:
		s = "INFO "
	case l < slog.LevelError:
		s = "WARN "
	case l < LevelCrit:
		s = "ERROR"
	default:
		s = "CRIT "
	}
	if !color {
		return "[" + s + "]"
	}
	code := "37"
	switch s[0] {
	case 'W':
		code = "33"
	case 'E', 'C':
		code = "31"
	case 'D', 'T':
		code = "36"
	}
	return "\x1b[" + code + "m[" + s + "]\x1b[0m"
}

// Elapsed is a small helper used by call sites that want to log a
// duration attribute without importing time at every call site.
func Elapsed(since time.Time) time.Duration { return time.Since(since) }
