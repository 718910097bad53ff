// Package buildinfo exposes the version metadata stamped into release
// binaries, plus a few runtime facts reported through the operator API.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Overridden at link time with -ldflags; a plain go build keeps the
// dev defaults.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info flattens build and runtime metadata into the map served by the
// version endpoint and subcommand.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime is the time since the process came up, rounded down to whole
// seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent identifies this process on outbound provider HTTP traffic.
func UserAgent() string {
	return fmt.Sprintf("seneschal/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String is the startup banner line.
func String() string {
	return fmt.Sprintf("Seneschal %s (%s) built %s", Version, GitCommit, BuildTime)
}
