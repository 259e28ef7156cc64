// Package envconfig resolves process-level settings from PHOTOCRITIC_*
// environment variables.
package envconfig

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/PiaoShihao/photocritic/logutil"
)

// Debug returns true when PHOTOCRITIC_DEBUG is set to a truthy value.
func Debug() bool {
	return truthy(os.Getenv("PHOTOCRITIC_DEBUG"))
}

// LogLevel returns the slog level selected by the environment. Debug mode
// enables debug logging; PHOTOCRITIC_DEBUG=trace enables trace logging.
func LogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("PHOTOCRITIC_DEBUG")) {
	case "trace":
		return logutil.LevelTrace
	case "":
		return slog.LevelInfo
	default:
		if Debug() {
			return slog.LevelDebug
		}
		return slog.LevelInfo
	}
}

// NumThreads returns the number of compute threads used for a forward
// pass. Defaults to the number of logical CPUs.
func NumThreads() int {
	if s := os.Getenv("PHOTOCRITIC_NUM_THREADS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
		slog.Warn("invalid PHOTOCRITIC_NUM_THREADS, using default", "value", s)
	}
	return runtime.NumCPU()
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "", "0", "false", "no", "off":
		return false
	default:
		return true
	}
}
