package davisproto

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/windvane-labs/weathercore/pkg/crc16"
)

// SIM device names the Davis adapter recognizes as "use the simulator
// instead of a physical port", per §6's configuration surface.
var SimulatorDeviceNames = map[string]bool{"SIMULATED": true, "SIMULATOR": true, "SIM": true}

// Simulator is an in-process Transport standing in for the hardware link.
// It answers wake newlines, honors "LOOP <n>" by emitting synthetic packets
// on the 2.5s cadence real hardware uses, and answers DMPAFT with an ACK. It
// does not synthesize archive pages or acknowledge the DMPAFT timestamp leg:
// archive bytes reach ReadExact only when pre-loaded with QueueArchivePage or
// QueueBytes. Open on an already-open Simulator is a no-op rather than an
// error. Grounded in cmd/davis-emulator, which
// generates the same LoopPacketWithTrend layout
// from a sinusoidal day/night model; this keeps that generator shape but
// drops its fault-injection knobs since nothing downstream exercises them.
type Simulator struct {
	mu        sync.Mutex
	connected bool
	cbMu      sync.RWMutex
	callback  DataCallback
	suppress  bool
	pending   chan []byte

	stopCh chan struct{}
	wg     sync.WaitGroup

	loopCount int
	start     time.Time
}

// NewSimulator returns a ready-to-Open in-process simulated transport.
func NewSimulator() *Simulator {
	return &Simulator{pending: make(chan []byte, 256), start: time.Now()}
}

func (s *Simulator) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	s.connected = true
	s.stopCh = make(chan struct{})
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.stopCh)
	s.connected = false
	s.wg.Wait()
	return nil
}

func (s *Simulator) deliver(b []byte) {
	s.cbMu.RLock()
	cb, suppressed := s.callback, s.suppress
	s.cbMu.RUnlock()
	if suppressed || cb == nil {
		select {
		case s.pending <- b:
		default:
		}
		return
	}
	cb(b)
}

func (s *Simulator) Write(b []byte) error {
	cmd := strings.TrimRight(string(b), "\r\n")

	switch {
	case cmd == "":
		s.deliver([]byte{0x0A, 0x0D})
	case strings.HasPrefix(cmd, "LOOP"):
		parts := strings.Fields(cmd)
		n := 200
		if len(parts) == 2 {
			if v, err := strconv.Atoi(parts[1]); err == nil {
				n = v
			}
		}
		s.startLoopStream(n)
	case cmd == "DMPAFT":
		s.deliver([]byte{0x06})
	default:
		// Archive-dialog continuation bytes (timestamp, ACK-for-next-page)
		// are consumed by the engine via ReadExact against s.pending; the
		// simulator's archive payload is queued by QueueArchivePage.
	}
	return nil
}

// startLoopStream begins emitting n synthetic LOOP packets at the real
// hardware's 2.5s cadence. The engine never waits for all n; it simply
// resubmits LOOP after each archive download per §4.4.
func (s *Simulator) startLoopStream(n int) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(2500 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; i < n; i++ {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.deliver(s.generateLoopPacket())
			}
		}
	}()
}

// generateLoopPacket synthesizes a 99-byte, CRC-valid LOOP packet following
// a smooth day/night temperature and humidity model.
func (s *Simulator) generateLoopPacket() []byte {
	now := time.Now()
	hourOfDay := float64(now.Hour()) + float64(now.Minute())/60.0
	tempF := 70.0 + 15.0*math.Sin((hourOfDay-6)*math.Pi/12)
	humidity := 50.0 - 10.0*math.Sin((hourOfDay-6)*math.Pi/12)

	p := make([]byte, loopRecordSize-2)
	copy(p[0:3], "LOO")
	p[3] = 0 // flavor B, trend 0

	binary.LittleEndian.PutUint16(p[5:7], 0) // next_archive_record
	binary.LittleEndian.PutUint16(p[7:9], uint16(30.0*1000))
	binary.LittleEndian.PutUint16(p[9:11], uint16((tempF-2)*10))
	p[11] = byte(humidity + 5)
	binary.LittleEndian.PutUint16(p[12:14], uint16(tempF*10))
	p[14] = byte(5 + (int(now.Unix()) % 5))
	p[15] = byte(3 + (int(now.Unix()) % 3))
	binary.LittleEndian.PutUint16(p[16:18], uint16(180+int(now.Unix()%90)))
	p[33] = byte(humidity)
	binary.LittleEndian.PutUint16(p[41:43], 0)
	p[43] = byte(3)
	binary.LittleEndian.PutUint16(p[44:46], uint16(400))
	binary.LittleEndian.PutUint16(p[50:52], 0)
	binary.LittleEndian.PutUint16(p[87:89], uint16(260))

	return crc16.Append(p)
}

func (s *Simulator) SetDataCallback(fn DataCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callback = fn
	s.suppress = false
}

func (s *Simulator) ClearDataCallback() {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.suppress = true
}

func (s *Simulator) ReadExact(n int, timeout time.Duration) ([]byte, error) {
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

func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// QueueArchivePage pre-loads one 267-byte DMPAFT page (seq || 5 records ||
// crc || pad) to be returned by the next ReadExact calls the engine issues
// during an archive download, letting tests exercise the archive dialog
// without a real console.
func (s *Simulator) QueueArchivePage(page []byte) {
	s.pending <- page
}

// QueueBytes pre-loads raw bytes to be handed to the next ReadExact, used
// for the DMPAFT header/ACK legs of the archive dialog.
func (s *Simulator) QueueBytes(b []byte) {
	s.pending <- b
}
