package gateway

import (
	"encoding/json"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// maxPooledBuffer caps what is returned to the pool so one oversized
// frame cannot pin memory for the process lifetime.
const maxPooledBuffer = 1 << 20

// Payload is a marshaled frame shared by every connection queue it is
// placed on. The hub marshals once and takes the initial reference; each
// enqueue adds one, and each write, drop or connection teardown releases
// one. The backing buffer returns to the pool when the count hits zero.
type Payload struct {
	buf  *bytebufferpool.ByteBuffer
	refs atomic.Int32
}

// MarshalPayload encodes v straight into a pooled buffer and returns a
// payload holding one reference. The caller MUST release it exactly once.
func MarshalPayload(v any) (*Payload, error) {
	buf := bytebufferpool.Get()
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		bytebufferpool.Put(buf)
		return nil, err
	}
	// Encode appends a newline; trim it so frames stay clean
	if n := len(buf.B); n > 0 && buf.B[n-1] == '\n' {
		buf.B = buf.B[:n-1]
	}
	p := &Payload{buf: buf}
	p.refs.Store(1)
	return p, nil
}

// Bytes returns the frame contents. Valid until the final Release.
func (p *Payload) Bytes() []byte { return p.buf.B }

// Retain adds a reference and returns p for call chaining.
func (p *Payload) Retain() *Payload {
	p.refs.Add(1)
	return p
}

// Release drops one reference and recycles the buffer on the last one.
func (p *Payload) Release() {
	if p.refs.Add(-1) != 0 {
		return
	}
	buf := p.buf
	p.buf = nil
	if cap(buf.B) <= maxPooledBuffer {
		bytebufferpool.Put(buf)
	}
}
