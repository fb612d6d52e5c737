// Package obslog provides the bracketed-tag logger used throughout
// dispatch-proxy, following Ealireza-SuperProxy's own "[component]
// message" convention, plus a colorized startup banner suppressed
// under --quiet.
package obslog

import (
	"io"
	"log"
	"os"

	"github.com/fatih/color"
)

// New builds a *log.Logger writing to out (os.Stderr in production).
// obslog does not filter on --quiet itself; the root command discards
// the logger's output when the operator asked for quiet output.
func New(out io.Writer) *log.Logger {
	return log.New(out, "", log.LstdFlags)
}

// Banner prints the startup summary (listen address, mode, configured
// backends) in color, unless quiet is set. Grounded on
// paulGUZU-fsak/pkg/banner's use of github.com/fatih/color for a
// startup splash.
func Banner(quiet bool, listenAddr, mode string, backendCount int) {
	if quiet {
		return
	}
	title := color.New(color.FgCyan, color.Bold)
	title.Fprintln(os.Stderr, "dispatch-proxy")
	color.New(color.FgGreen).Fprintf(os.Stderr, "  listening: %s\n", listenAddr)
	color.New(color.FgGreen).Fprintf(os.Stderr, "  mode:      %s\n", mode)
	color.New(color.FgGreen).Fprintf(os.Stderr, "  backends:  %d\n", backendCount)
}
