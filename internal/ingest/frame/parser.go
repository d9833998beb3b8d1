// Package frame splits a streaming response body into complete JSON frames.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMaxFrameBytes bounds the accumulation buffer.
const DefaultMaxFrameBytes = 1 << 20

// ErrFrameTooLarge is returned when the buffer grows past the limit without
// a terminator. The frame is discarded up to and including its terminator.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Frame is one complete, terminator-delimited unit of the stream.
type Frame struct {
	Raw    json.RawMessage
	Fields map[string]json.RawMessage

	// Err is set when Raw is not a JSON object. Fields is nil in that case.
	Err error
}

// Parser accumulates chunks of arbitrary size and alignment. A frame is
// emitted only once its terminating newline has arrived, so the sequence of
// frames does not depend on how the stream was chunked.
type Parser struct {
	buf []byte
	max int

	// discarding is set after an overflow until the oversized frame's
	// terminator has been seen.
	discarding bool
}

// NewParser creates a parser. maxFrameBytes <= 0 uses DefaultMaxFrameBytes.
func NewParser(maxFrameBytes int) *Parser {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &Parser{max: maxFrameBytes}
}

// Feed appends a chunk and returns every frame it completed, in order.
// Blank lines (keep-alives) are skipped. Consumed bytes leave the buffer
// whether or not they decode.
func (p *Parser) Feed(chunk []byte) ([]Frame, error) {
	if p.discarding {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return nil, nil
		}
		chunk = chunk[i+1:]
		p.discarding = false
	}
	p.buf = append(p.buf, chunk...)

	var frames []Frame
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(p.buf[:i])
		p.buf = p.buf[i+1:]
		if len(line) == 0 {
			continue
		}
		frames = append(frames, decode(line))
	}

	// Drop the consumed prefix so the backing array does not grow forever
	if len(p.buf) == 0 {
		p.buf = p.buf[:0:0]
	} else if cap(p.buf) > 2*p.max {
		p.buf = append([]byte(nil), p.buf...)
	}

	if len(p.buf) > p.max {
		size := len(p.buf)
		p.buf = nil
		p.discarding = true
		return frames, fmt.Errorf("%w: %d bytes buffered", ErrFrameTooLarge, size)
	}
	return frames, nil
}

// Buffered returns the number of bytes waiting for a terminator.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

func decode(line []byte) Frame {
	raw := make(json.RawMessage, len(line))
	copy(raw, line)

	f := Frame{Raw: raw}
	if err := json.Unmarshal(raw, &f.Fields); err != nil {
		f.Fields = nil
		f.Err = fmt.Errorf("malformed frame: %w", err)
	}
	return f
}
