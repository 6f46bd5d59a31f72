//go:build linux
// +build linux

// Command serialmon mirrors the boot output of an AS7343 sensor node to
// stdout. It watches the node's serial console for up to ten seconds,
// drains the lines that follow the initialization banner, and reports how
// many lines it saw. Run with the single argument "list" to print the
// serial ports accessible on this machine instead.
package main

import (
	"fmt"
	"os"
	"time"

	serial "github.com/luhtfiimanal/serialmon"
	"github.com/luhtfiimanal/serialmon/monitor"
)

const (
	device      = "/dev/ttyUSB0"
	baudRate    = 115200
	readTimeout = 2 * time.Second
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "list" {
		if err := listPorts(os.Stdout); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	reader, err := serial.Open(serial.Config{
		Device:      device,
		BaudRate:    baudRate,
		Delimiter:   "\n",
		ReadTimeout: readTimeout,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// Run owns the reader and closes it on every exit path.
	monitor.New(monitor.Config{}).Run(reader)
}
