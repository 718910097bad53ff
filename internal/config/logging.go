package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits below [slog.LevelDebug] and gates wire-level output:
// the full JSON-RPC payloads exchanged with providers. The value -8
// matches what other slog-extending Go projects settled on for Trace.
//
// Trace is too noisy for normal operation; turn it on only while
// chasing a misbehaving provider.
const LevelTrace = slog.Level(-8)

// ParseLogLevel maps a config string to an [slog.Level]. Matching is
// case-insensitive and ignores surrounding whitespace; the empty string
// means info. "trace" selects [LevelTrace], and "warning" is accepted
// as an alias for "warn". Anything else returns an error naming the
// valid set.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// ReplaceLogLevelNames is a ReplaceAttr hook that renames [LevelTrace]
// records from slog's default "DEBUG-4" to "TRACE". Install it on
// whichever handler carries the trace level:
//
//	slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level:       lvl,
//	    ReplaceAttr: config.ReplaceLogLevelNames,
//	})
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}
