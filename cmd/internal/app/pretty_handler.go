package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultLogWidth = 100
	minLogWidth     = 40

	prettyContPrefix = "  "
)

// prettyHandler is the human-oriented slog backend for dev terminals. The
// mutex is shared across WithAttrs/WithGroup clones so interleaved goroutines
// cannot shear a line.
type prettyHandler struct {
	w     io.Writer
	opts  slog.HandlerOptions
	color bool
	mu    *sync.Mutex

	attrs  []slog.Attr
	groups []string
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.opts.Level != nil {
		return level >= h.opts.Level.Level()
	}
	return level >= slog.LevelInfo
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var head strings.Builder

	when := r.Time
	if when.IsZero() {
		when = time.Now()
	}
	head.WriteString("ts=")
	head.WriteString(paint(when.Format("15:04:05.000"), ansiDim, h.color))
	head.WriteByte(' ')
	head.WriteString("lvl=")
	head.WriteString(levelBadge(r.Level, h.color))
	head.WriteByte(' ')
	head.WriteString("msg=")
	head.WriteString(paint(r.Message, ansiBright, h.color))

	if src := h.recordSource(r); src != "" {
		head.WriteByte(' ')
		head.WriteString("src=")
		head.WriteString(paint(src, ansiDim, h.color))
	}

	segments := []string{head.String()}
	for _, a := range h.attrs {
		segments = h.appendAttr(segments, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		segments = h.appendAttr(segments, a, "")
		return true
	})

	lines := wrapSegments(segments, " ", h.terminalWidth(), prettyContPrefix)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, line := range lines {
		if _, err := io.WriteString(h.w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// recordSource resolves the file:line behind the record's PC, or "" when
// source capture is off.
func (h *prettyHandler) recordSource(r slog.Record) string {
	if !h.opts.AddSource || r.PC == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{r.PC})
	frame, _ := frames.Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}

// terminalWidth resolves the target line width: PARLEY_LOG_WIDTH wins, then
// the COLUMNS variable most shells export. Values below minLogWidth are
// ignored so a cramped or bogus setting cannot mangle output.
func (h *prettyHandler) terminalWidth() int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("PARLEY_LOG_WIDTH"))); err == nil && n >= minLogWidth {
		return n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("COLUMNS"))); err == nil && n >= minLogWidth {
		return n
	}
	return defaultLogWidth
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	cp.attrs = append(append(cp.attrs, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}

	cp := *h
	cp.groups = make([]string, 0, len(h.groups)+1)
	cp.groups = append(append(cp.groups, h.groups...), name)
	return &cp
}

func (h *prettyHandler) appendAttr(segments []string, a slog.Attr, parent string) []string {
	a.Value = a.Value.Resolve()

	// A zero attr has an empty key, so one check covers both.
	key := strings.TrimSpace(a.Key)
	if key == "" {
		return segments
	}

	fullKey := qualifiedKey(h.groups, parent, key)
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			segments = h.appendAttr(segments, ga, fullKey)
		}
		return segments
	}
	return append(segments, displayKey(fullKey)+"="+h.prettyValue(fullKey, a.Value))
}

// qualifiedKey joins group names, the parent path, and the key into one
// dotted name.
func qualifiedKey(groups []string, parent, key string) string {
	parts := make([]string, 0, len(groups)+2)
	parts = append(parts, groups...)
	if parent != "" {
		parts = append(parts, parent)
	}
	return strings.Join(append(parts, key), ".")
}

// prettyValue renders well-known HTTP keys with their dedicated tints.
// Group-qualified keys fall through to the plain rendering on purpose.
func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	switch strings.TrimSpace(key) {
	case "method":
		return tintMethod(strings.ToUpper(strings.TrimSpace(v.String())), h.color)
	case "path":
		return paint(strings.TrimSpace(v.String()), ansiCyan, h.color)
	case "status":
		if n, ok := numericValue(v); ok {
			return tintStatus(int(n), h.color)
		}
	case "status_class", "class":
		return tintStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration_ms":
		if n, ok := numericValue(v); ok {
			return tintDuration(n, h.color)
		}
	case "result":
		return tintResult(strings.ToLower(strings.TrimSpace(v.String())), h.color)
	}

	return quoteIfNeeded(plainValue(v))
}

// shortKeys maps verbose wire keys onto the compact spelling the terminal
// output prefers.
var shortKeys = map[string]string{
	"status_class": "class",
	"duration_ms":  "duration",
}

func displayKey(k string) string {
	if short, ok := shortKeys[k]; ok {
		return short
	}
	return k
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	default:
		return fmt.Sprint(v.Any())
	}
}

// quoteIfNeeded leaves bare tokens alone and quotes anything that would
// break k=v scanning: whitespace, quotes, or an equals sign.
func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelBadge(level slog.Level, color bool) string {
	var tag, code string
	switch {
	case level >= slog.LevelError:
		tag, code = "[ERROR]", ansiRed
	case level >= slog.LevelWarn:
		tag, code = "[WARN]", ansiYellow
	case level < slog.LevelInfo:
		tag, code = "[DEBUG]", ansiMagenta
	default:
		tag, code = "[INFO]", ansiBlue
	}
	return paint(tag, code, color)
}

// paint wraps s in the given ANSI code when color output is on.
func paint(s, code string, color bool) string {
	if !color {
		return s
	}
	return code + s + ansiReset
}
