package message

import (
	"io"
	"iter"

	"github.com/valyala/bytebufferpool"
)

// Body is the payload of a message.
type Body interface {
	io.Reader
	// String returns the content not yet consumed. For a WritableBuffer this is
	// everything written so far.
	String() string
}

// ReadOnceStream wraps an inbound byte source. Once drained, further reads report
// io.EOF and String returns "".
type ReadOnceStream struct {
	r    io.Reader
	done bool
}

// NewReadOnceStream wraps r. A nil r behaves as an empty stream.
func NewReadOnceStream(r io.Reader) *ReadOnceStream {
	return &ReadOnceStream{r: r, done: r == nil}
}

func (s *ReadOnceStream) Read(p []byte) (int, error) {
	if s.done {
		return 0, io.EOF
	}
	n, err := s.r.Read(p)
	if err == io.EOF {
		s.finish()
	}
	return n, err
}

// String drains the stream. Read errors end the stream with what was read so far.
func (s *ReadOnceStream) String() string {
	if s.done {
		return ""
	}
	data, _ := io.ReadAll(s)
	s.finish()
	return string(data)
}

// Consumed reports whether the source has been drained or closed.
func (s *ReadOnceStream) Consumed() bool { return s.done }

// Close closes the source if it is an io.Closer. Later reads are empty.
func (s *ReadOnceStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *ReadOnceStream) finish() {
	if s.done {
		return
	}
	s.done = true
	if c, ok := s.r.(io.Closer); ok {
		_ = c.Close()
	}
}

// WritableBuffer is a growable outbound buffer backed by a pooled byte buffer.
// Reads consume from an internal offset; String and Bytes always return the
// whole accumulated content.
type WritableBuffer struct {
	buf *bytebufferpool.ByteBuffer
	off int
}

// NewWritableBuffer returns an empty buffer taken from the pool.
func NewWritableBuffer() *WritableBuffer {
	return &WritableBuffer{buf: bytebufferpool.Get()}
}

func (b *WritableBuffer) ensure() {
	if b.buf == nil {
		b.buf = bytebufferpool.Get()
	}
}

func (b *WritableBuffer) Write(p []byte) (int, error) {
	b.ensure()
	return b.buf.Write(p)
}

// WriteString appends s.
func (b *WritableBuffer) WriteString(s string) (int, error) {
	b.ensure()
	return b.buf.WriteString(s)
}

func (b *WritableBuffer) Read(p []byte) (int, error) {
	if b.buf == nil || b.off >= len(b.buf.B) {
		return 0, io.EOF
	}
	n := copy(p, b.buf.B[b.off:])
	b.off += n
	return n, nil
}

// Bytes returns the accumulated content. The slice is only valid until the next write.
func (b *WritableBuffer) Bytes() []byte {
	if b.buf == nil {
		return nil
	}
	return b.buf.B
}

func (b *WritableBuffer) String() string {
	if b.buf == nil {
		return ""
	}
	return b.buf.String()
}

// Len returns the number of accumulated bytes.
func (b *WritableBuffer) Len() int {
	if b.buf == nil {
		return 0
	}
	return b.buf.Len()
}

// Reset discards the content.
func (b *WritableBuffer) Reset() {
	if b.buf != nil {
		b.buf.Reset()
	}
	b.off = 0
}

// Release returns the storage to the pool. The buffer stays usable and starts empty.
func (b *WritableBuffer) Release() {
	if b.buf == nil {
		return
	}
	bytebufferpool.Put(b.buf)
	b.buf = nil
	b.off = 0
}

// ProducerBody streams chunks from a producer without buffering them.
type ProducerBody struct {
	seq     iter.Seq[[]byte]
	next    func() ([]byte, bool)
	stop    func()
	pending []byte
	done    bool
}

// NewProducerBody wraps seq. The sequence is consumed at most once.
func NewProducerBody(seq iter.Seq[[]byte]) *ProducerBody {
	return &ProducerBody{seq: seq, done: seq == nil}
}

func (p *ProducerBody) pull() ([]byte, bool) {
	if p.done {
		return nil, false
	}
	if p.next == nil {
		p.next, p.stop = iter.Pull(p.seq)
	}
	chunk, ok := p.next()
	if !ok {
		p.Close()
	}
	return chunk, ok
}

// Chunks yields the remaining chunks in order.
func (p *ProducerBody) Chunks() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if len(p.pending) > 0 {
			chunk := p.pending
			p.pending = nil
			if !yield(chunk) {
				return
			}
		}
		for {
			chunk, ok := p.pull()
			if !ok || !yield(chunk) {
				return
			}
		}
	}
}

func (p *ProducerBody) Read(b []byte) (int, error) {
	for len(p.pending) == 0 {
		chunk, ok := p.pull()
		if !ok {
			return 0, io.EOF
		}
		p.pending = chunk
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// String drains the producer.
func (p *ProducerBody) String() string {
	data, _ := io.ReadAll(p)
	return string(data)
}

// Close stops the producer. Remaining chunks are discarded.
func (p *ProducerBody) Close() error {
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	p.next = nil
	p.pending = nil
	p.done = true
	return nil
}
