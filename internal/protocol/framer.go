package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// DefaultMaxLineLength bounds a single protocol line, terminator excluded.
const DefaultMaxLineLength = 8192

var (
	ErrLineTooLong = errors.New("protocol: line too long")
)

// Framer splits a byte stream into protocol lines and, on demand, raw
// binary bodies. Line and raw reads share one buffer, so switching from a
// binary body back to line mode resumes at the byte right after the body.
type Framer struct {
	r       *bufio.Reader
	maxLine int
}

// NewFramer wraps r. A maxLine of zero or less selects DefaultMaxLineLength.
func NewFramer(r io.Reader, maxLine int) *Framer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	return &Framer{r: bufio.NewReader(r), maxLine: maxLine}
}

// ReadLine returns the next line without its terminator and with every
// carriage return removed.
//
// io.EOF is returned only when the stream ends cleanly before the first
// byte of a line; a line cut short by end of stream yields
// io.ErrUnexpectedEOF. A bare terminator yields ("", nil).
func (f *Framer) ReadLine() (string, error) {
	var line []byte
	read := 0
	for {
		chunk, err := f.r.ReadSlice('\n')
		read += len(chunk)
		line = appendWithoutCR(line, chunk)
		if len(line) > f.maxLine+1 {
			return "", ErrLineTooLong
		}

		switch {
		case err == nil:
			return string(line[:len(line)-1]), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if read == 0 {
				return "", io.EOF
			}
			return "", io.ErrUnexpectedEOF
		default:
			return "", err
		}
	}
}

// appendWithoutCR appends chunk to line, dropping carriage returns so the
// length limit applies to the line's content.
func appendWithoutCR(line, chunk []byte) []byte {
	for {
		i := bytes.IndexByte(chunk, '\r')
		if i < 0 {
			return append(line, chunk...)
		}
		line = append(line, chunk[:i]...)
		chunk = chunk[i+1:]
	}
}

// ReadExactly returns exactly n bytes, blocking until they are available.
func (f *Framer) ReadExactly(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		if errors.Is(err, io.EOF) && n > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// Read reads raw bytes, bypassing line framing. Callers streaming a body
// of known length should bound it with io.LimitReader.
func (f *Framer) Read(p []byte) (int, error) {
	return f.r.Read(p)
}
