package davisproto

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/windvane-labs/weathercore/internal/errkind"
	"github.com/windvane-labs/weathercore/internal/log"
	"github.com/windvane-labs/weathercore/pkg/crc16"
)

// State is a protocol engine state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateWaking       State = "waking"
	StateAwake        State = "awake"
	StateLooping      State = "looping"
	StateArchiving    State = "archiving"
)

const (
	ack byte = 0x06
	nak byte = 0x21

	wakeMaxRetries  = 3
	wakeRetryPeriod = 1200 * time.Millisecond

	archivePageSize    = 267
	archivePageSeqSize = 1
	archiveRecsPerPage = 5
	archivePageCRCSize = 2
)

// EngineConfig parametrizes one protocol engine instance. Fields mirror the
// Davis adapter's configuration surface (§6).
type EngineConfig struct {
	LoopCount        int
	WakeupTimeoutMs  int
	ArchiveTimeout   time.Duration
	Location         *time.Location
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.LoopCount == 0 {
		c.LoopCount = 200
	}
	if c.WakeupTimeoutMs == 0 {
		c.WakeupTimeoutMs = 3000
	}
	if c.ArchiveTimeout == 0 {
		c.ArchiveTimeout = 5 * time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Engine drives the wake / LOOP / DMPAFT dialogs over a Transport and
// streams decoded records to its owner via callbacks. One Engine owns one
// Transport for its entire lifetime.
type Engine struct {
	cfg       EngineConfig
	transport Transport
	ring      *RingBuffer

	onLoop        func(*LoopRecord)
	onArchive     func(*ArchiveRecord)
	onStateChange func(State)
	onError       func(error)

	mu    sync.Mutex
	state State

	wakeAckCh chan struct{}
	stopCh    chan struct{}

	sessionMaxArchiveTS time.Time
}

// NewEngine constructs an Engine bound to transport. The four callbacks may
// be nil; a nil callback is simply not invoked.
func NewEngine(transport Transport, cfg EngineConfig, onLoop func(*LoopRecord), onArchive func(*ArchiveRecord), onStateChange func(State), onError func(error)) *Engine {
	return &Engine{
		cfg:           cfg.withDefaults(),
		transport:     transport,
		ring:          NewRingBuffer(),
		onLoop:        onLoop,
		onArchive:     onArchive,
		onStateChange: onStateChange,
		onError:       onError,
		state:         StateDisconnected,
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	if e.onStateChange != nil {
		e.onStateChange(s)
	}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) reportError(err error) {
	log.Warnf("davis protocol engine error: %v", err)
	if e.onError != nil {
		e.onError(err)
	}
}

// Start opens the transport, installs the byte listener, and begins the
// wake dialog. It returns once wake either succeeds (state becomes Looping)
// or is exhausted after its retries (state becomes Disconnected).
func (e *Engine) Start() error {
	if err := e.transport.Open(); err != nil {
		return errkind.WrapIO("davisproto: open transport", err)
	}
	e.stopCh = make(chan struct{})
	e.transport.SetDataCallback(e.onData)
	return e.wake()
}

// Stop transitions the engine to Disconnected and closes its transport.
func (e *Engine) Stop() error {
	if e.stopCh != nil {
		close(e.stopCh)
	}
	e.setState(StateDisconnected)
	return e.transport.Close()
}

func (e *Engine) onData(data []byte) {
	e.ring.Write(data)
	e.process()
}

// process drains the ring buffer of every complete frame it currently holds.
// Called from the transport's reader context; must never block.
func (e *Engine) process() {
	for {
		b0, ok := e.ring.Peek(0)
		if !ok {
			return
		}

		if b0 == ack || b0 == nak {
			e.ring.Read(1)
			if b0 == nak {
				state := e.State()
				if state == StateWaking || state == StateAwake {
					go e.wake()
				}
			}
			continue
		}

		if e.State() == StateWaking {
			b1, ok1 := e.ring.Peek(1)
			if b0 == 0x0A && ok1 && b1 == 0x0D {
				e.ring.Read(2)
				e.handleWakeResponse()
				continue
			}
		}

		if e.State() == StateLooping && e.ring.Available() >= loopRecordSize {
			b1, _ := e.ring.Peek(1)
			b2, _ := e.ring.Peek(2)
			if b0 == 'L' && b1 == 'O' && b2 == 'O' {
				pkt, _ := e.ring.Read(loopRecordSize)
				e.handleLoopPacket(pkt)
				continue
			}
		}

		return
	}
}

func (e *Engine) handleWakeResponse() {
	select {
	case e.wakeAckCh <- struct{}{}:
	default:
	}
}

func (e *Engine) handleLoopPacket(pkt []byte) {
	if !crc16.Verify(pkt) {
		e.ring.Clear()
		e.reportError(errkind.WrapProtocol("davisproto: loop packet", errors.New("CRC mismatch")))
		return
	}
	rec, err := ParseLoop(pkt)
	if err != nil {
		e.ring.Clear()
		e.reportError(err)
		return
	}
	if e.onLoop != nil {
		e.onLoop(rec)
	}
}

// wake runs the wake dialog, making up to wakeMaxRetries attempts in total.
func (e *Engine) wake() error {
	e.setState(StateWaking)
	e.ring.Clear()

	for attempt := 1; attempt <= wakeMaxRetries; attempt++ {
		e.mu.Lock()
		e.wakeAckCh = make(chan struct{}, 1)
		e.mu.Unlock()

		if err := e.transport.Write([]byte("\n")); err != nil {
			e.reportError(fmt.Errorf("davisproto: wake write: %w", err))
			e.setState(StateDisconnected)
			return err
		}

		select {
		case <-e.wakeAckCh:
			e.ring.Clear()
			e.setState(StateAwake)
			return e.startLooping()
		case <-time.After(time.Duration(e.cfg.WakeupTimeoutMs) * time.Millisecond):
			log.Debugf("davis wake attempt %d/%d timed out", attempt, wakeMaxRetries)
			if attempt < wakeMaxRetries {
				time.Sleep(wakeRetryPeriod)
			}
		}
	}

	err := fmt.Errorf("davisproto: wake dialog failed after %d attempts", wakeMaxRetries)
	e.reportError(err)
	e.setState(StateDisconnected)
	return err
}

func (e *Engine) startLooping() error {
	if err := e.transport.Write([]byte(fmt.Sprintf("LOOP %d\n", e.cfg.LoopCount))); err != nil {
		e.reportError(fmt.Errorf("davisproto: loop request: %w", err))
		e.setState(StateDisconnected)
		return err
	}
	e.setState(StateLooping)
	return nil
}

// DownloadArchive suspends the live-byte listener, runs the DMPAFT dialog
// for records strictly after from, and resumes LOOP streaming regardless of
// outcome (a failed download does not terminate the engine). Safe to call
// from any goroutine.
func (e *Engine) DownloadArchive(from time.Time) error {
	e.setState(StateArchiving)
	e.transport.ClearDataCallback()
	e.sessionMaxArchiveTS = time.Time{}

	err := e.runArchiveDialog(from)
	if err != nil {
		e.reportError(fmt.Errorf("davisproto: archive download: %w", err))
	}

	e.ring.Clear()
	e.transport.SetDataCallback(e.onData)
	_ = e.startLooping()
	return err
}

func (e *Engine) runArchiveDialog(from time.Time) error {
	timeout := e.cfg.ArchiveTimeout

	if err := e.transport.Write([]byte("\n")); err != nil {
		return fmt.Errorf("wake newline: %w", err)
	}
	time.Sleep(500 * time.Millisecond)
	// A console that was already awake answers nothing; one that had gone
	// idle echoes its usual 0x0A 0x0D. Either is fine here — discard it.
	_, _ = e.transport.ReadExact(2, 50*time.Millisecond)

	if err := e.transport.Write([]byte("DMPAFT\n")); err != nil {
		return fmt.Errorf("DMPAFT write: %w", err)
	}
	if err := e.expectACK(timeout); err != nil {
		return fmt.Errorf("DMPAFT ack: %w", err)
	}

	if err := e.transport.Write(EncodeDMPAFTTimestamp(from)); err != nil {
		return fmt.Errorf("timestamp write: %w", err)
	}
	if err := e.expectACK(timeout); err != nil {
		return fmt.Errorf("timestamp ack: %w", err)
	}

	header, err := e.transport.ReadExact(6, timeout)
	if err != nil {
		return fmt.Errorf("header read: %w", err)
	}
	if !crc16.Verify(header) {
		return fmt.Errorf("header CRC mismatch")
	}
	numPages := int(le16(header[0:2]))
	startIndex := int(le16(header[2:4]))

	if err := e.transport.Write([]byte{ack}); err != nil {
		return fmt.Errorf("header ack write: %w", err)
	}

	for pageNum := 0; pageNum < numPages; pageNum++ {
		page, err := e.readArchivePage(timeout)
		if err != nil {
			return fmt.Errorf("page %d: %w", pageNum, err)
		}

		firstIndex := 0
		if pageNum == 0 {
			firstIndex = startIndex
		}
		e.streamArchivePage(page, firstIndex, from)

		if err := e.transport.Write([]byte{ack}); err != nil {
			return fmt.Errorf("page %d ack: %w", pageNum, err)
		}
	}
	return nil
}

func (e *Engine) expectACK(timeout time.Duration) error {
	b, err := e.transport.ReadExact(1, timeout)
	if err != nil {
		return err
	}
	if b[0] != ack {
		return fmt.Errorf("expected ACK, got 0x%02X", b[0])
	}
	return nil
}

// readArchivePage reads one page, retrying once on a CRC failure per §4.4
// step 6.
func (e *Engine) readArchivePage(timeout time.Duration) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		page, err := e.transport.ReadExact(archivePageSize, timeout)
		if err != nil {
			return nil, err
		}
		crcSection := page[:archivePageSeqSize+archiveRecsPerPage*archiveRecordSize+archivePageCRCSize]
		if crc16.Verify(crcSection) {
			return page, nil
		}
		if attempt == 0 {
			_ = e.transport.Write([]byte{nak})
			continue
		}
		return nil, fmt.Errorf("page CRC mismatch after retry")
	}
	return nil, fmt.Errorf("page CRC mismatch")
}

func (e *Engine) streamArchivePage(page []byte, firstIndex int, requestedFrom time.Time) {
	for i := firstIndex; i < archiveRecsPerPage; i++ {
		start := archivePageSeqSize + i*archiveRecordSize
		rec := page[start : start+archiveRecordSize]
		if IsEmptyArchiveSlot(rec) {
			break
		}

		archiveRec, err := ParseArchive(rec, e.cfg.Location)
		if err != nil {
			e.reportError(fmt.Errorf("davisproto: archive record parse: %w", err))
			continue
		}
		if !e.sessionMaxArchiveTS.IsZero() && !archiveRec.Timestamp.After(e.sessionMaxArchiveTS) {
			continue
		}
		e.sessionMaxArchiveTS = archiveRec.Timestamp

		if e.onArchive != nil {
			e.onArchive(archiveRec)
		}
	}
}
