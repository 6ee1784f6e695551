// Package session implements the command/response exchange with a serial
// console: send one command line, wait for the device to echo it, then
// collect response lines until the prompt reappears.
package session

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luhtfiimanal/mcucmd/internal/deadline"
)

// Config holds the immutable parameters of one exchange.
type Config struct {
	// Prompt matches the console prompt that terminates a response.
	Prompt *regexp.Regexp

	// Timeout bounds the echo-wait and response-collect phases. Each
	// phase arms its own fresh deadline. Non-positive disables both.
	Timeout time.Duration

	// Logger receives debug output.
	// Defaults to the standard logrus logger.
	Logger *logrus.Logger
}

// Session drives one command/response exchange over a Transport.
type Session struct {
	tr  Transport
	cfg Config
	out io.Writer
	log *logrus.Logger
}

// New returns a Session writing response lines to out.
func New(tr Transport, cfg Config, out io.Writer) *Session {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{tr: tr, cfg: cfg, out: out, log: log}
}

// Run sends command, which must already be newline-terminated, and prints
// every response line to the session's output until the prompt reappears.
func (s *Session) Run(command string) error {
	s.log.Debug("sending command")
	n, err := s.tr.Write([]byte(command))
	if err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	if n < len(command) {
		return fmt.Errorf("short write: %d < %d", n, len(command))
	}

	lr := NewLineReader(s.tr, s.cfg.Prompt)
	if err := s.waitEcho(lr, command); err != nil {
		return err
	}
	return s.collectResponse(lr)
}

// waitEcho discards lines until one contains the sent command. A prompt
// before the echo, or the phase deadline elapsing, means the device never
// accepted the command.
func (s *Session) waitEcho(lr *LineReader, command string) error {
	s.log.Debug("waiting for command echo")
	dl := deadline.Start(s.cfg.Timeout)
	for {
		line, err := lr.ReadLine()
		switch {
		case errors.Is(err, ErrPrompt):
			return errors.New("command echo not found")
		case err != nil:
			return err
		}

		if strings.Contains(line, command) {
			s.log.Debug("command echo found")
			return nil
		}
		if dl.Expired() {
			return errors.New("command echo not found")
		}
		s.log.Debugf("ignoring %q", line)
	}
}

// collectResponse prints completed lines until the prompt reappears. The
// deadline is checked once per line, so a slow trickle that beats every
// per-chunk read timeout is still bounded per phase.
func (s *Session) collectResponse(lr *LineReader) error {
	dl := deadline.Start(s.cfg.Timeout)
	for {
		line, err := lr.ReadLine()
		switch {
		case errors.Is(err, ErrPrompt):
			s.log.Debug("prompt seen, end of data")
			return nil
		case err != nil:
			return err
		}

		if dl.Expired() {
			return errors.New("response too long")
		}
		if _, err := io.WriteString(s.out, line); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
}
