package config

import (
	"fmt"
	"io"
	"net"
)

// ListInterfaces prints every local interface and its addresses to w,
// for the -l/--list CLI option (spec §6). Enumeration detail is an
// external-collaborator concern per spec §1; this is intentionally
// minimal.
func ListInterfaces(w io.Writer) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("enumerate interfaces: %w", err)
	}

	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			fmt.Fprintf(w, "%s: <error: %v>\n", ifi.Name, err)
			continue
		}
		fmt.Fprintf(w, "%s:\n", ifi.Name)
		for _, a := range addrs {
			fmt.Fprintf(w, "    %s\n", a.String())
		}
	}
	return nil
}
