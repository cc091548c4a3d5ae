package electrum

import (
	"bytes"

	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

const (
	delim          = byte('\n')
	maxParserDepth = 20
)

// MessageParser turns a stream of chunks into newline-delimited messages.
// The callback is invoked once per complete message, in arrival order, with
// the delimiter stripped and the position of the message in the current pass.
type MessageParser struct {
	buffer   []byte
	callback func(msg []byte, n int)
}

// NewMessageParser returns a parser that delivers messages to the given
// callback.
func NewMessageParser(callback func(msg []byte, n int)) *MessageParser {
	return &MessageParser{
		buffer:   make([]byte, 0, readBufferSize),
		callback: callback,
	}
}

// Run appends the chunk to the internal buffer and emits every complete
// message. A single pass emits at most maxParserDepth messages, when the cap
// is hit another pass is started so that nothing pending is ever dropped. In
// that case ErrParseLimitExceeded is returned after the buffer is drained,
// it's informational only.
func (p *MessageParser) Run(chunk []byte) error {
	p.buffer = append(p.buffer, chunk...)

	var limitHit bool
	for {
		if !p.parse() {
			break
		}
		limitHit = true
	}

	if limitHit {
		return domain.ErrParseLimitExceeded
	}
	return nil
}

// Reset drops any partial message, used when a new connection is started.
func (p *MessageParser) Reset() {
	p.buffer = p.buffer[:0]
}

// parse runs a single pass over the buffer and returns whether the depth
// limit interrupted it with a complete message still pending.
func (p *MessageParser) parse() bool {
	n := 0
	for {
		i := bytes.IndexByte(p.buffer, delim)
		if i < 0 {
			return false
		}
		if len(bytes.TrimSpace(p.buffer[:i])) == 0 {
			p.buffer = p.buffer[i+1:]
			continue
		}
		if n >= maxParserDepth {
			return true
		}

		msg := make([]byte, i)
		copy(msg, p.buffer[:i])
		p.buffer = p.buffer[i+1:]

		p.callback(msg, n)
		n++
	}
}
