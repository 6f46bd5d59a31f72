package serial

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrTimeout is returned by ReadLine when Config.ReadTimeout elapses
	// before a complete line arrives. It signals "no line this time", not
	// a port fault; partial data stays buffered for the next call.
	ErrTimeout = errors.New("serial: read timed out")

	// ErrClosed is returned by reads that were unblocked by Close.
	ErrClosed = errors.New("serial: reader closed")
)

// SerialReader provides low-latency, killable, line-oriented access to a
// Linux serial port. Reads are sequential: call ReadLine (or run
// ReadLinesLoop) from one goroutine at a time; Close may be called from
// any goroutine to unblock them.
type SerialReader struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	config    Config
	pending   string // received bytes not yet forming a complete line
	pipeR     int    // self-pipe read fd
	pipeW     int    // self-pipe write fd
}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device      string
	BaudRate    int
	Delimiter   string        // default "\r\n"
	ReadTimeout time.Duration // per-ReadLine budget; 0 blocks indefinitely
}

// Open opens a serial port using the provided Config and returns a SerialReader.
// The port is configured for raw, low-latency, non-buffered operation.
func Open(cfg Config) (*SerialReader, error) {
	if cfg.Delimiter == "" {
		cfg.Delimiter = "\r\n"
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8

	// Baud rate
	baud := baudToUnix(cfg.BaudRate)
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud

	// Set VMIN=1, VTIME=0 for immediate, non-blocking reads
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}

	// Turn back into blocking mode now that config is done
	syscall.SetNonblock(fd, false)

	// Create self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	file := os.NewFile(uintptr(fd), cfg.Device)
	return &SerialReader{
		fd:        fd,
		file:      file,
		done:      make(chan struct{}),
		closeOnce: sync.Once{},
		config:    cfg,
		pipeR:     pipeFds[0],
		pipeW:     pipeFds[1],
	}, nil
}

// WriteLine writes a line (with specified newline) to the serial port.
func (s *SerialReader) WriteLine(line string, newline string) error {
	_, err := s.file.WriteString(line + newline)
	return err
}

// ResetInputBuffer discards bytes the kernel has already buffered for this
// port, along with any partial line retained from earlier reads. Devices
// often emit noise while settling after open; call this before the first
// ReadLine to start from a clean stream.
func (s *SerialReader) ResetInputBuffer() error {
	s.pending = ""
	if err := unix.IoctlSetInt(s.fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		return fmt.Errorf("flush input: %w", err)
	}
	return nil
}

// ReadLine reads a single line from the serial port, blocking until a full
// line is received, Config.ReadTimeout elapses (ErrTimeout), or the reader
// is closed (ErrClosed). The delimiter is specified in Config. This avoids
// bufio for lowest latency; bytes after the delimiter, or of an incomplete
// line at timeout, are kept for the next call.
func (s *SerialReader) ReadLine() (string, error) {
	var deadline time.Time
	if s.config.ReadTimeout > 0 {
		deadline = time.Now().Add(s.config.ReadTimeout)
	}

	buf := make([]byte, 4096)
	for {
		if idx := strings.Index(s.pending, s.config.Delimiter); idx >= 0 {
			line := s.pending[:idx]
			s.pending = s.pending[idx+len(s.config.Delimiter):]
			return line, nil
		}

		// Use poll to wait for data or kill signal, bounded by the deadline
		pollTimeout := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return "", ErrTimeout
			}
			pollTimeout = int(remaining.Milliseconds())
			if pollTimeout == 0 {
				pollTimeout = 1
			}
		}
		pfd := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(s.pipeR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfd, pollTimeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return "", err
		}
		if n == 0 {
			return "", ErrTimeout
		}
		// Check killability
		select {
		case <-s.done:
			return "", ErrClosed
		default:
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			// Drain pipe
			var b [1]byte
			unix.Read(s.pipeR, b[:])
			return "", ErrClosed
		}
		// POLLHUP/POLLERR mean the device went away; fall through to the
		// read so the real I/O error surfaces instead of spinning until
		// the deadline and masquerading as a timeout.
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			n, err := s.file.Read(buf)
			if err != nil {
				return "", err
			}
			s.pending += string(buf[:n])
		}
	}
}

// ReadLinesLoop continuously reads lines from the serial port and invokes
// onLine for each complete line. It shares ReadLine's partial-line
// carryover but never times out; the loop runs until an error occurs
// (onError is called, then it exits) or the reader is closed.
func (s *SerialReader) ReadLinesLoop(onLine func(string), onError func(error)) {
	buf := make([]byte, 4096)
	for {
		for {
			idx := strings.Index(s.pending, s.config.Delimiter)
			if idx < 0 {
				break
			}
			onLine(s.pending[:idx])
			s.pending = s.pending[idx+len(s.config.Delimiter):]
		}

		// Use poll to wait for data or kill signal
		pfd := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(s.pipeR), Events: unix.POLLIN},
		}
		_, err := unix.Poll(pfd, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			onError(err)
			return
		}
		// Check killability
		select {
		case <-s.done:
			return
		default:
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			// Drain pipe
			var b [1]byte
			unix.Read(s.pipeR, b[:])
			return
		}
		// Same hangup handling as ReadLine: let the read report the fault.
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			n, err := s.file.Read(buf)
			if err != nil {
				onError(err)
				return
			}
			s.pending += string(buf[:n])
		}
	}
}

// Close closes the serial port and unblocks any ReadLine/ReadLinesLoop calls.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *SerialReader) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		// Wake up poll using self-pipe
		if s.pipeW > 0 {
			unix.Write(s.pipeW, []byte{1})
		}
		if s.file != nil {
			err = s.file.Close()
		}
		syscall.Close(s.fd)
		if s.pipeR > 0 {
			unix.Close(s.pipeR)
		}
		if s.pipeW > 0 {
			unix.Close(s.pipeW)
		}
	})
	return err
}

func baudToUnix(baud int) uint32 {
	switch baud {
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 230400:
		return unix.B230400
	default:
		return unix.B115200 // fallback
	}
}
