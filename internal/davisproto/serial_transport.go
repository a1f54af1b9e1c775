package davisproto

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	serial "github.com/tarm/goserial"

	"github.com/windvane-labs/weathercore/internal/log"
)

// SerialTransport is the hardware Transport, grounded in
// connectToSerialStation: a tarm/goserial port opened at a fixed baud, read
// continuously from a dedicated goroutine.
type SerialTransport struct {
	device string
	baud   int

	mu        sync.Mutex
	port      io.ReadWriteCloser
	connected bool

	cbMu     sync.RWMutex
	callback DataCallback
	suppress bool

	readErrCh chan error
	pending   chan []byte
	closeCh   chan struct{}
}

// NewSerialTransport returns a Transport bound to a physical serial device.
func NewSerialTransport(device string, baud int) *SerialTransport {
	return &SerialTransport{device: device, baud: baud}
}

func (s *SerialTransport) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return fmt.Errorf("davisproto: serial transport already open")
	}

	port, err := serial.OpenPort(&serial.Config{Name: s.device, Baud: s.baud})
	if err != nil {
		return fmt.Errorf("davisproto: open serial port %s: %w", s.device, err)
	}

	s.port = port
	s.connected = true
	s.pending = make(chan []byte, 64)
	s.closeCh = make(chan struct{})
	go s.readLoop()
	return nil
}

func (s *SerialTransport) readLoop() {
	r := bufio.NewReaderSize(s.port, ringBufferSize)
	buf := make([]byte, 512)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			s.cbMu.RLock()
			cb, suppressed := s.callback, s.suppress
			s.cbMu.RUnlock()

			if suppressed || cb == nil {
				select {
				case s.pending <- chunk:
				case <-s.closeCh:
					return
				}
			} else {
				cb(chunk)
			}
		}
		if err != nil {
			log.Debugf("davis serial transport read error: %v", err)
			return
		}
		select {
		case <-s.closeCh:
			return
		default:
		}
	}
}

func (s *SerialTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.closeCh)
	s.connected = false
	return s.port.Close()
}

func (s *SerialTransport) Write(b []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return fmt.Errorf("davisproto: serial transport not open")
	}
	_, err := port.Write(b)
	return err
}

func (s *SerialTransport) SetDataCallback(fn DataCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callback = fn
	s.suppress = false
}

func (s *SerialTransport) ClearDataCallback() {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.suppress = true
}

func (s *SerialTransport) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	s.cbMu.Lock()
	s.suppress = true
	s.cbMu.Unlock()
	defer func() {
		s.cbMu.Lock()
		s.suppress = false
		s.cbMu.Unlock()
	}()

	out := make([]byte, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case chunk := <-s.pending:
			out = append(out, chunk...)
		case <-deadline:
			return nil, ErrTimeout
		}
	}
	if len(out) > n {
		overflow := out[n:]
		out = out[:n]
		go func() { s.pending <- overflow }()
	}
	return out, nil
}

func (s *SerialTransport) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
