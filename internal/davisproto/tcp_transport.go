package davisproto

import (
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/gnet/v2"

	"github.com/windvane-labs/weathercore/internal/log"
)

// TCPTransport is the network-attached Transport variant for consoles that
// expose a WeatherLinkIP-style TCP bridge instead of a physical UART. Built
// on gnet's event-driven engine rather than a bare net.Dial so the read
// callback is delivered from gnet's I/O loop the same way SerialTransport
// delivers it from its own reader goroutine.
type TCPTransport struct {
	addr string

	mu        sync.Mutex
	client    *gnet.Client
	conn      gnet.Conn
	connected bool

	cbMu     sync.RWMutex
	callback DataCallback
	suppress bool

	pending chan []byte
}

type tcpHandler struct {
	gnet.BuiltinEventEngine
	t *TCPTransport
}

func (h *tcpHandler) OnTraffic(c gnet.Conn) gnet.Action {
	data, _ := c.Next(-1)
	if len(data) == 0 {
		return gnet.None
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)

	h.t.cbMu.RLock()
	cb, suppressed := h.t.callback, h.t.suppress
	h.t.cbMu.RUnlock()

	if suppressed || cb == nil {
		select {
		case h.t.pending <- chunk:
		default:
			log.Warn("davis tcp transport: pending buffer full, dropping chunk")
		}
	} else {
		cb(chunk)
	}
	return gnet.None
}

func (h *tcpHandler) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	h.t.mu.Lock()
	h.t.conn = c
	h.t.connected = true
	h.t.mu.Unlock()
	return nil, gnet.None
}

func (h *tcpHandler) OnClose(c gnet.Conn, err error) gnet.Action {
	h.t.mu.Lock()
	h.t.connected = false
	h.t.mu.Unlock()
	return gnet.None
}

// NewTCPTransport returns a Transport dialing a WeatherLinkIP-style
// TCP console at addr ("host:port").
func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{addr: addr, pending: make(chan []byte, 64)}
}

func (t *TCPTransport) Open() error {
	t.mu.Lock()
	if t.client != nil {
		t.mu.Unlock()
		return fmt.Errorf("davisproto: tcp transport already open")
	}
	t.mu.Unlock()

	client, err := gnet.NewClient(&tcpHandler{t: t})
	if err != nil {
		return fmt.Errorf("davisproto: new gnet client: %w", err)
	}
	if err := client.Start(); err != nil {
		return fmt.Errorf("davisproto: start gnet client: %w", err)
	}

	conn, err := client.Dial("tcp", t.addr)
	if err != nil {
		client.Stop()
		return fmt.Errorf("davisproto: dial %s: %w", t.addr, err)
	}

	t.mu.Lock()
	t.client = client
	t.conn = conn
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Stop()
	t.client = nil
	t.connected = false
	return err
}

// Write queues b with gnet's AsyncWrite and returns without waiting for the
// bytes to reach the socket; an error that occurs after queuing is not
// reported to the caller.
func (t *TCPTransport) Write(b []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("davisproto: tcp transport not open")
	}
	return conn.AsyncWrite(b, nil)
}

func (t *TCPTransport) SetDataCallback(fn DataCallback) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.callback = fn
	t.suppress = false
}

func (t *TCPTransport) ClearDataCallback() {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.suppress = true
}

func (t *TCPTransport) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	t.cbMu.Lock()
	t.suppress = true
	t.cbMu.Unlock()
	defer func() {
		t.cbMu.Lock()
		t.suppress = false
		t.cbMu.Unlock()
	}()

	out := make([]byte, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case chunk := <-t.pending:
			out = append(out, chunk...)
		case <-deadline:
			return nil, ErrTimeout
		}
	}
	if len(out) > n {
		overflow := out[n:]
		out = out[:n]
		go func() { t.pending <- overflow }()
	}
	return out, nil
}

func (t *TCPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}
