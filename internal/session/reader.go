package session

import (
	"errors"
	"regexp"
)

// maxLine caps the length of a single assembled line, trailing newline
// included. A longer line is a protocol violation.
const maxLine = 1023

var (
	// ErrPrompt signals that the accumulated input matched the prompt
	// pattern; the partial line is discarded and the device is idle.
	ErrPrompt = errors.New("prompt seen")

	// ErrLineTooLong signals a line exceeding maxLine bytes.
	ErrLineTooLong = errors.New("line too long")
)

// Transport is the byte-level device surface the session layer consumes.
// *serial.Port implements it; tests inject fakes.
type Transport interface {
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
}

// LineReader assembles carriage-return-free lines from a Transport,
// testing the accumulated input against a prompt pattern after every
// appended byte. The line buffer is owned by the reader and reused
// across calls.
type LineReader struct {
	tr     Transport
	prompt *regexp.Regexp
	line   []byte
}

func NewLineReader(tr Transport, prompt *regexp.Regexp) *LineReader {
	return &LineReader{tr: tr, prompt: prompt, line: make([]byte, 0, 128)}
}

// ReadLine returns the next complete line, trailing newline included.
// Carriage returns are dropped before they reach the line and never count
// toward its length. When the accumulated partial line matches the prompt
// pattern, ReadLine discards it and returns ErrPrompt instead. Transport
// errors are passed through unchanged.
func (r *LineReader) ReadLine() (string, error) {
	r.line = r.line[:0]
	for {
		b, err := r.tr.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\r' {
			continue
		}

		if len(r.line) >= maxLine {
			return "", ErrLineTooLong
		}
		r.line = append(r.line, b)

		// The prompt check runs after every byte, the newline included,
		// so a match always wins over line completion.
		if r.prompt.Match(r.line) {
			return "", ErrPrompt
		}
		if b == '\n' {
			return string(r.line), nil
		}
	}
}
