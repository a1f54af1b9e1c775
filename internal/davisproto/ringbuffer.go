package davisproto

import "sync"

// ringBufferSize is fixed per the wire protocol: large enough to hold a full
// LOOP packet plus slack while the protocol engine catches up.
const ringBufferSize = 2048

// RingBuffer is a fixed-size byte buffer shared between one producer (the
// transport's reader callback) and one consumer (the protocol engine). All
// operations are mutex-protected so the two sides never need their own
// synchronization.
type RingBuffer struct {
	mu   sync.Mutex
	buf  [ringBufferSize]byte
	size int
}

// NewRingBuffer returns an empty ring buffer.
func NewRingBuffer() *RingBuffer {
	return &RingBuffer{}
}

// Write appends b to the buffer, dropping the oldest bytes if b would
// overflow the fixed capacity (the protocol never intentionally lets the
// buffer fill beyond one packet, but a jammed consumer must not panic).
func (r *RingBuffer) Write(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(b) >= ringBufferSize {
		copy(r.buf[:], b[len(b)-ringBufferSize:])
		r.size = ringBufferSize
		return
	}

	if r.size+len(b) > ringBufferSize {
		overflow := r.size + len(b) - ringBufferSize
		copy(r.buf[:], r.buf[overflow:r.size])
		r.size -= overflow
	}
	copy(r.buf[r.size:], b)
	r.size += len(b)
}

// Peek returns the byte at offset without consuming it, or (0, false) if
// offset is beyond the buffered data.
func (r *RingBuffer) Peek(offset int) (byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset < 0 || offset >= r.size {
		return 0, false
	}
	return r.buf[offset], true
}

// Read consumes and returns the first n bytes. Returns false if fewer than n
// bytes are buffered, in which case nothing is consumed.
func (r *RingBuffer) Read(n int) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 0 || n > r.size {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, r.buf[:n])
	copy(r.buf[:], r.buf[n:r.size])
	r.size -= n
	return out, true
}

// Available reports how many bytes are currently buffered.
func (r *RingBuffer) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Clear discards all buffered bytes.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.size = 0
}
