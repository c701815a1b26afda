// Package logging provides the process-wide leveled logger, in the style
// of hexinfra/gorox's global Debugf/IsDebug/UseExitln helpers: a package
// scoped verbosity flag gates verbose output, and fatal configuration or
// environment errors go through dedicated exit helpers with distinct
// codes so scripts driving the server can tell the two apart.
package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Exit codes for the two categories of fatal startup error: a bad CLI
// argument versus a failure to bind the listening socket.
const (
	CodeOK       = 0
	CodeArgError = 1
	CodeBindFail = 2
)

var verbose bool

// SetVerbose toggles verbose logging for the process.
func SetVerbose(v bool) { verbose = v }

// Verbose reports whether verbose logging is enabled.
func Verbose() bool { return verbose }

// isTTY caches whether stderr is attached to a terminal; log lines
// carry a short clock time on a terminal and a full RFC 3339 timestamp
// otherwise.
var isTTY = isatty.IsTerminal(os.Stderr.Fd())

// Logf writes an unconditional, timestamped log line to stderr.
func Logf(format string, args ...any) {
	writeLine("", format, args...)
}

// Verbosef writes a log line only when verbose logging is enabled.
func Verbosef(format string, args ...any) {
	if !verbose {
		return
	}
	writeLine("[verbose] ", format, args...)
}

func writeLine(prefix, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if isTTY {
		fmt.Fprintf(os.Stderr, "%s %s%s\n", time.Now().Format("15:04:05.000"), prefix, msg)
	} else {
		fmt.Fprintf(os.Stderr, "%s %s%s\n", time.Now().Format(time.RFC3339), prefix, msg)
	}
}

// Bytes formats a byte count for verbose logs (e.g. response sizes).
func Bytes(n int) string {
	return humanize.Bytes(uint64(n))
}

// ArgExitf reports a CLI argument error and exits with CodeArgError.
func ArgExitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "scgid: "+format+"\n", args...)
	os.Exit(CodeArgError)
}

// BindExitf reports a listen/bind failure and exits with CodeBindFail.
func BindExitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "scgid: "+format+"\n", args...)
	os.Exit(CodeBindFail)
}
