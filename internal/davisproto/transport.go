package davisproto

import (
	"errors"
	"time"
)

// ErrTimeout is returned by Transport.ReadExact when the deadline elapses
// before n bytes arrive.
var ErrTimeout = errors.New("davisproto: read timeout")

// DataCallback is invoked from the transport's dedicated reader context
// whenever bytes arrive. It must not block on the event bus or any other
// slow consumer.
type DataCallback func(data []byte)

// Transport is the byte-oriented duplex link the protocol engine drives. A
// single consumer owns a Transport for its entire lifetime; there is no
// internal locking against concurrent unrelated callers.
//
// Grounded in davis.Station, which wraps either a serial port
// or a network socket behind the same io.ReadWriteCloser-shaped usage
// (Write, a background read goroutine, Close); this generalizes that shape
// into an explicit interface so the simulator and the network variant can
// stand in for the real serial port without the engine knowing the
// difference.
type Transport interface {
	// Open acquires the underlying link. SerialTransport and TCPTransport
	// return an error when Open is called twice without an intervening
	// Close; the Simulator treats the second call as a no-op.
	Open() error
	// Close releases the link. Safe to call on an already-closed transport.
	Close() error
	// Write hands b to the link. SerialTransport blocks until the OS has
	// accepted all of b; TCPTransport only queues b on gnet's event loop
	// and returns before it is written (see TCPTransport.Write).
	Write(b []byte) error
	// SetDataCallback installs fn to be invoked from a dedicated reader
	// context whenever bytes arrive. Replaces any previously installed
	// callback.
	SetDataCallback(fn DataCallback)
	// ClearDataCallback suspends delivery to the installed callback without
	// stopping the underlying reader; bytes read while cleared are
	// delivered to a concurrent ReadExact call instead.
	ClearDataCallback()
	// ReadExact blocks until exactly n bytes are available or timeout
	// elapses, temporarily suppressing the data callback.
	ReadExact(n int, timeout time.Duration) ([]byte, error)
	// IsConnected reports whether Open has succeeded and Close has not
	// since been called.
	IsConnected() bool
}
