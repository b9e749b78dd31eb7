package wire

import (
	"bufio"
	"io"
)

// Reader incrementally decodes a stream of framed messages from an
// underlying io.Reader (typically a net.Conn), appending newly read
// bytes to an internal buffer and peeling off whole frames as they
// become available. It has no notion of message *type* — callers
// interpret the bytes Next returns.
type Reader struct {
	r       *bufio.Reader
	pending []byte
	maxSize int
}

// NewReader wraps r. maxSize <= 0 means DefaultMaxMessageSize.
func NewReader(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Reader{r: bufio.NewReader(r), maxSize: maxSize}
}

// Next blocks until one complete framed message is available and
// returns its payload (length-prefix already stripped). It returns the
// underlying read error (including io.EOF) if the connection ends
// before a full frame arrives.
func (r *Reader) Next() ([]byte, error) {
	for {
		msg, rest, ok, err := Extract(r.pending, r.maxSize)
		if err != nil {
			return nil, err
		}
		if ok {
			out := make([]byte, len(msg))
			copy(out, msg)
			r.pending = rest
			return out, nil
		}

		chunk := make([]byte, 4096)
		n, err := r.r.Read(chunk)
		if n > 0 {
			r.pending = append(r.pending, chunk[:n]...)
		}
		if err != nil {
			if n > 0 {
				// Try once more to drain a frame that completed exactly
				// at EOF before surfacing the error.
				if msg, rest, ok, extractErr := Extract(r.pending, r.maxSize); extractErr == nil && ok {
					out := make([]byte, len(msg))
					copy(out, msg)
					r.pending = rest
					return out, nil
				}
			}
			return nil, err
		}
	}
}
