// Package monitor implements a time-boxed console monitor for the boot
// output of a serial sensor node. It mirrors device lines to a writer
// until a wall-clock budget elapses, or until the node reports its sensor
// initialized, in which case a fixed number of trailing lines is drained
// before exiting early.
package monitor

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	serial "github.com/luhtfiimanal/serialmon"
)

// Defaults match the AS7343 node firmware: it prints its banner within a
// few seconds of reset and tags the final init message with both markers
// on one line.
const (
	DefaultSettleDelay  = 500 * time.Millisecond
	DefaultBudget       = 10 * time.Second
	DefaultDeviceMarker = "[AS7343]"
	DefaultDoneMarker   = "INITIALIZATION"
	DefaultDrainLines   = 20
	DefaultDrainPause   = 500 * time.Millisecond
)

// LineSource is the device end of the monitor. *serial.SerialReader
// satisfies it; tests substitute scripted sources. ReadLine reports
// serial.ErrTimeout when no line arrived within the source's per-read
// budget; any other error is a genuine fault.
type LineSource interface {
	ReadLine() (string, error)
	ResetInputBuffer() error
	Close() error
}

// Config holds the monitor's loop parameters. Zero values are replaced
// with the defaults above by New.
type Config struct {
	SettleDelay  time.Duration // wait after open before flushing boot noise
	Budget       time.Duration // wall-clock limit for the main read loop
	DeviceMarker string        // substring identifying the sensor's lines
	DoneMarker   string        // substring marking initialization complete
	DrainLines   int           // read attempts after the marker pair
	DrainPause   time.Duration // wait before draining
	Out          io.Writer     // mirrored output; default os.Stdout
}

// Monitor runs the two-phase read sequence over a LineSource.
type Monitor struct {
	cfg Config
}

// New returns a Monitor with zero Config fields replaced by defaults.
func New(cfg Config) *Monitor {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Budget == 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.DeviceMarker == "" {
		cfg.DeviceMarker = DefaultDeviceMarker
	}
	if cfg.DoneMarker == "" {
		cfg.DoneMarker = DefaultDoneMarker
	}
	if cfg.DrainLines == 0 {
		cfg.DrainLines = DefaultDrainLines
	}
	if cfg.DrainPause == 0 {
		cfg.DrainPause = DefaultDrainPause
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Monitor{cfg: cfg}
}

// Run mirrors lines from src until the budget elapses or the marker pair
// is seen and drained past. It takes ownership of src: the source is
// closed exactly once on every exit path, before the summary is printed.
// The returned count covers main-loop lines only; drained lines are
// printed but not counted.
func (m *Monitor) Run(src LineSource) (lines int) {
	defer func() {
		if err := src.Close(); err != nil {
			log.Printf("close: %v", err)
		}
		fmt.Fprintf(m.cfg.Out, "\n=== Read %d lines ===\n", lines)
	}()

	// Let the device settle after open, then drop whatever it said
	// before we were listening.
	time.Sleep(m.cfg.SettleDelay)
	if err := src.ResetInputBuffer(); err != nil {
		log.Printf("flush input: %v", err)
	}

	fmt.Fprintf(m.cfg.Out, "\n=== Serial Monitor Output ===\n\n")

	start := time.Now()
	for time.Since(start) < m.cfg.Budget {
		line, err := m.readOne(src)
		if err != nil {
			if errors.Is(err, serial.ErrClosed) {
				return lines
			}
			continue
		}
		lines++
		fmt.Fprintln(m.cfg.Out, line)

		if strings.Contains(line, m.cfg.DeviceMarker) && strings.Contains(line, m.cfg.DoneMarker) {
			m.drain(src)
			break
		}
	}
	return lines
}

// readOne attempts a single line read. Timeouts are silent; genuine read
// errors are logged and reported upward, never propagated further.
func (m *Monitor) readOne(src LineSource) (string, error) {
	line, err := src.ReadLine()
	if err != nil {
		if !errors.Is(err, serial.ErrTimeout) && !errors.Is(err, serial.ErrClosed) {
			log.Printf("read: %v", err)
		}
		return "", err
	}
	return sanitize(line), nil
}

// drain reads up to DrainLines trailing lines after the node reports
// initialization complete. A timed-out attempt is a no-op; a genuine
// error ends the drain, since the device has stopped sending.
func (m *Monitor) drain(src LineSource) {
	time.Sleep(m.cfg.DrainPause)
	for i := 0; i < m.cfg.DrainLines; i++ {
		line, err := src.ReadLine()
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			if !errors.Is(err, serial.ErrClosed) {
				log.Printf("drain read: %v", err)
			}
			return
		}
		fmt.Fprintln(m.cfg.Out, sanitize(line))
	}
}

// sanitize makes a raw device line printable: invalid UTF-8 sequences are
// dropped rather than treated as fatal, and trailing whitespace (including
// a stray \r when the delimiter is \n) is trimmed.
func sanitize(line string) string {
	return strings.TrimRight(strings.ToValidUTF8(line, ""), " \t\r\n")
}
