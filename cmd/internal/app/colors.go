package app

import (
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ANSI escape codes used by the pretty handler. Kept as plain constants so
// tests can compose expected strings without a terminal.
const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var ansiRE = regexp.MustCompile("\x1b\\[[0-9;]*m")

// stripANSI removes color escape sequences, leaving the visible text.
func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	return ansiRE.ReplaceAllString(s, "")
}

// visualLen is the on-screen rune count of s, ignoring color codes.
func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

// truncateVisual cuts s down to at most max visible runes, marking the cut
// with an ellipsis. Color codes are dropped when a cut is needed.
func truncateVisual(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if visualLen(s) <= max {
		return s
	}
	plain := []rune(stripANSI(s))
	if max == 1 {
		return "…"
	}
	return string(plain[:max-1]) + "…"
}

// wrapSegments lays out segments into lines no wider than width (measured in
// visible runes). Segments never split across lines; ones too long for a line
// of their own are truncated. Continuation lines start with contPrefix.
func wrapSegments(segments []string, sep string, width int, contPrefix string) []string {
	if width <= 0 {
		width = defaultLogWidth
	}

	var lines []string
	line := ""

	for _, seg := range segments {
		if seg == "" {
			continue
		}

		if line == "" {
			prefix := ""
			if len(lines) > 0 {
				prefix = contPrefix
			}
			line = prefix + truncateVisual(seg, width-visualLen(prefix))
			continue
		}

		if visualLen(line)+visualLen(sep)+visualLen(seg) <= width {
			line += sep + seg
			continue
		}

		lines = append(lines, line)
		line = contPrefix + truncateVisual(seg, width-visualLen(contPrefix))
	}

	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

func tintMethod(method string, color bool) string {
	if !color {
		return method
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		return ansiGreen + method + ansiReset
	case http.MethodPost:
		return ansiBlue + method + ansiReset
	case http.MethodPut, http.MethodPatch:
		return ansiYellow + method + ansiReset
	case http.MethodDelete:
		return ansiRed + method + ansiReset
	default:
		return ansiCyan + method + ansiReset
	}
}

func tintStatus(code int, color bool) string {
	s := strconv.Itoa(code)
	if !color {
		return s
	}
	switch {
	case code >= 500:
		return ansiRed + s + ansiReset
	case code >= 400:
		return ansiYellow + s + ansiReset
	case code >= 300:
		return ansiCyan + s + ansiReset
	default:
		return ansiGreen + s + ansiReset
	}
}

func tintStatusClass(class string, color bool) string {
	if !color {
		return class
	}
	switch class {
	case "5xx":
		return ansiRed + class + ansiReset
	case "4xx":
		return ansiYellow + class + ansiReset
	case "3xx":
		return ansiCyan + class + ansiReset
	case "2xx":
		return ansiGreen + class + ansiReset
	default:
		return class
	}
}

func tintDuration(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	if !color {
		return s
	}
	switch {
	case ms >= 1000:
		return ansiRed + s + ansiReset
	case ms >= 250:
		return ansiYellow + s + ansiReset
	default:
		return ansiDim + s + ansiReset
	}
}

func tintResult(result string, color bool) string {
	if !color {
		return result
	}
	switch result {
	case "success":
		return ansiGreen + result + ansiReset
	case "redirect":
		return ansiCyan + result + ansiReset
	case "client_error":
		return ansiYellow + result + ansiReset
	case "server_error":
		return ansiRed + result + ansiReset
	default:
		return result
	}
}

// numericValue extracts an integer from the slog kinds that can carry one.
func numericValue(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		u := v.Uint64()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
