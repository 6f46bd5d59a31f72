//go:build linux
// +build linux

package main

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// listPorts queries the serial library for the ports accessible on this
// machine and prints one per line. Handy for finding which ttyUSB the
// node enumerated as.
func listPorts(w io.Writer) error {
	ports, err := serial.GetPortsList()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, port := range ports {
		fmt.Fprintln(w, port)
	}
	return nil
}
