package serial

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/luhtfiimanal/mcucmd/internal/deadline"
)

const (
	// chunkSize is the refill granularity of the read buffer.
	chunkSize = 64

	// retryInterval is the pause between open attempts on a busy device.
	retryInterval = 200 * time.Millisecond
)

var (
	// ErrTimeout is returned when the device stays busy past the open
	// deadline, or when no byte becomes readable within the per-chunk
	// timeout.
	ErrTimeout = errors.New("timeout waiting for device")

	// ErrNoData is returned on a zero-length read, i.e. the peer closed
	// or disconnected.
	ErrNoData = errors.New("no data")
)

// Options configures Open.
type Options struct {
	// Timeout bounds the busy-retry loop during open and each buffer
	// refill during reads. Non-positive disables both bounds.
	Timeout time.Duration

	// Force skips the privilege drop and the advisory lock, opening the
	// device even when another process holds it.
	Force bool

	// DropPrivileges, when non-nil and Force is unset, runs once before
	// the first open attempt. It narrows capabilities so the kernel
	// enforces the device's exclusivity marking.
	DropPrivileges func() error

	// Logger receives debug and trace output.
	// Defaults to the standard logrus logger.
	Logger *logrus.Logger
}

// Port is an exclusively owned serial device in raw mode. It is not safe
// for concurrent use; the session layer is strictly sequential.
type Port struct {
	fd   int
	file *os.File
	log  *logrus.Logger

	timeout time.Duration

	buf [chunkSize]byte
	pos int
	n   int
}

// Open acquires path for exclusive read/write use and configures it for
// raw, byte-transparent transport. While the device is busy it retries at
// a fixed interval until Options.Timeout elapses.
func Open(path string, opts Options) (*Port, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	if !opts.Force && opts.DropPrivileges != nil {
		if err := opts.DropPrivileges(); err != nil {
			return nil, fmt.Errorf("drop privileges: %w", err)
		}
	}

	log.Debugf("opening %s", path)
	dl := deadline.Start(opts.Timeout)
	var fd int
	for {
		var err error
		fd, err = unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
		if err == nil {
			if opts.Force {
				break
			}
			err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
			if err == nil {
				break
			}
			unix.Close(fd)
		}

		if !errors.Is(err, unix.EBUSY) && !errors.Is(err, unix.EAGAIN) {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		if dl.Expired() {
			return nil, fmt.Errorf("open %s: %w", path, ErrTimeout)
		}
		log.Debugf("%s busy, retrying", path)
		time.Sleep(retryInterval)
	}

	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set exclusive mode: %w", err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8

	// Blocking read, return after at least 1 byte
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set raw mode: %w", err)
	}

	// Discard anything buffered before we took ownership.
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("flush: %w", err)
	}

	return &Port{
		fd:      fd,
		file:    os.NewFile(uintptr(fd), path),
		log:     log,
		timeout: opts.Timeout,
	}, nil
}

// ReadByte returns the next byte from the device, refilling the internal
// buffer when it is exhausted. Each refill waits up to the full configured
// timeout for the device to become readable; this per-chunk bound is
// independent of any phase deadline the caller keeps.
func (p *Port) ReadByte() (byte, error) {
	if p.pos >= p.n {
		if err := p.fill(); err != nil {
			return 0, err
		}
	}
	b := p.buf[p.pos]
	p.pos++
	return b, nil
}

func (p *Port) fill() error {
	timeout := -1
	if p.timeout > 0 {
		timeout = int(p.timeout / time.Millisecond)
	}

	pfd := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	for {
		ready, err := unix.Poll(pfd, timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		p.log.Tracef("poll returned %d revents %#x", ready, pfd[0].Revents)
		if ready == 0 {
			return ErrTimeout
		}
		break
	}

	n, err := p.file.Read(p.buf[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ErrNoData
		}
		return fmt.Errorf("read: %w", err)
	}
	if n == 0 {
		return ErrNoData
	}
	p.pos, p.n = 0, n

	p.log.Debugf("read %d bytes", n)
	if p.log.IsLevelEnabled(logrus.TraceLevel) {
		p.log.Trace("\n" + hex.Dump(p.buf[:n]))
	}
	return nil
}

// Write sends b to the device in full.
func (p *Port) Write(b []byte) (int, error) {
	return p.file.Write(b)
}

// Close releases the device and its advisory lock.
func (p *Port) Close() error {
	return p.file.Close()
}
