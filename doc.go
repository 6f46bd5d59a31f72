// Package serial provides a minimal, Linux-only serial port reader
// designed for line-oriented communication with embedded devices.
//
// This package is the port-access layer of serialmon, a monitor for
// sensor nodes that announce themselves over UART during boot. Reads are
// unbuffered and line-based, with a per-read timeout that is reported as
// ErrTimeout rather than folded into genuine I/O errors.
//
// Features:
//   - Raw syscall-based serial I/O on Linux, no buffering delays
//   - Line-based reading with custom delimiter (default: \r\n)
//   - Per-read timeout via Config.ReadTimeout, distinguishable from faults
//   - Input-buffer flush for discarding boot noise
//   - Self-pipe mechanism for killability
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	cfg := serial.Config{
//	    Device:      "/dev/ttyUSB0",
//	    BaudRate:    115200,
//	    Delimiter:   "\n",
//	    ReadTimeout: 2 * time.Second,
//	}
//	reader, err := serial.Open(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reader.Close()
//
//	// Discard whatever the device emitted before we were listening.
//	if err := reader.ResetInputBuffer(); err != nil {
//	    log.Println("flush failed:", err)
//	}
//
//	for {
//	    line, err := reader.ReadLine()
//	    switch {
//	    case err == nil:
//	        fmt.Println("Received:", line)
//	    case errors.Is(err, serial.ErrTimeout):
//	        continue // device quiet this interval
//	    default:
//	        log.Println("Read error:", err)
//	        return
//	    }
//	}
package serial
