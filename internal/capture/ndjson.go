package capture

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"tt-go/internal/track"
)

// The wire form of the capture protocol is one JSON-encoded message per
// line. It is how an out-of-process capture context (tt capture) talks to
// the orchestrator; in-process capture uses the same Message type over a
// channel.

// LineWriter encodes messages to an NDJSON stream. Safe for concurrent use.
type LineWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewLineWriter wraps w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: bufio.NewWriter(w)}
}

// Write encodes one message and flushes it.
func (lw *LineWriter) Write(m track.Message) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if _, err := lw.w.Write(data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := lw.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing message terminator: %w", err)
	}
	return lw.w.Flush()
}

// LineReader decodes messages from an NDJSON stream.
type LineReader struct {
	scanner *bufio.Scanner
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{scanner: bufio.NewScanner(r)}
}

// Read returns the next message. io.EOF signals a cleanly ended stream.
// A malformed line is an error for that line only; callers may continue
// reading. Unknown message types are returned as-is: the consumer decides
// to log and drop them.
func (lr *LineReader) Read() (track.Message, error) {
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return track.Message{}, fmt.Errorf("reading message line: %w", err)
		}
		return track.Message{}, io.EOF
	}

	var m track.Message
	if err := json.Unmarshal(lr.scanner.Bytes(), &m); err != nil {
		return track.Message{}, fmt.Errorf("decoding message line: %w", err)
	}
	return m, nil
}

// Forward copies messages from the service channel to an NDJSON writer
// until the channel closes or a write fails. Used by the subprocess mode.
func Forward(msgs <-chan track.Message, w io.Writer) error {
	lw := NewLineWriter(w)
	for m := range msgs {
		if err := lw.Write(m); err != nil {
			return err
		}
	}
	return nil
}
