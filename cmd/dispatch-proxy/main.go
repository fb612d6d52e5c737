// Command dispatch-proxy is a SOCKS5 proxy server that spreads
// inbound connections across multiple egress paths — local source
// addresses or upstream SOCKS5 tunnels — by weighted round robin.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	if err == nil {
		os.Exit(0)
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "dispatch-proxy: %v\n", exitErr.err)
		os.Exit(exitErr.code)
	}

	fmt.Fprintf(os.Stderr, "dispatch-proxy: %v\n", err)
	os.Exit(1)
}
