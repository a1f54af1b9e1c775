package davisproto

import (
	"math"
	"testing"
	"time"

	"github.com/windvane-labs/weathercore/pkg/crc16"
)

func TestEngineWakeToLooping(t *testing.T) {
	sim := NewSimulator()
	eng := NewEngine(sim, EngineConfig{WakeupTimeoutMs: 200}, nil, nil, nil, nil)

	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	if eng.State() != StateLooping {
		t.Fatalf("state = %v, want %v", eng.State(), StateLooping)
	}
}

func TestEngineLoopPacketCRCRecovery(t *testing.T) {
	var gotGood *LoopRecord
	var errs []error

	eng := NewEngine(NewSimulator(), EngineConfig{}, func(r *LoopRecord) { gotGood = r }, nil, nil, func(e error) { errs = append(errs, e) })
	eng.setState(StateLooping)

	bad := make([]byte, loopRecordSize)
	copy(bad[0:3], "LOO")
	bad[97], bad[98] = 0xAB, 0xCD // wrong CRC
	eng.onData(bad)

	if gotGood != nil {
		t.Fatalf("bad packet should not have produced a record")
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 reported error, got %d", len(errs))
	}
	if eng.ring.Available() != 0 {
		t.Fatalf("ring buffer should be cleared after CRC failure")
	}

	good := make([]byte, loopRecordSize-2)
	copy(good[0:3], "LOO")
	good[12], good[13] = 0xD0, 0x02
	good = crc16.Append(good)
	eng.onData(good)

	if gotGood == nil {
		t.Fatalf("expected a record after CRC recovery")
	}
	if gotGood.TempOut == nil || math.Abs(*gotGood.TempOut-22.2) > 0.05 {
		t.Fatalf("unexpected TempOut: %+v", gotGood.TempOut)
	}
}

// fakeArchiveTransport scripts ReadExact responses for exercising the DMPAFT
// dialog without timing dependencies.
type fakeArchiveTransport struct {
	responses [][]byte
	writes    [][]byte
}

func (f *fakeArchiveTransport) Open() error  { return nil }
func (f *fakeArchiveTransport) Close() error { return nil }
func (f *fakeArchiveTransport) Write(b []byte) error {
	cp := make([]byte, len(b))
	copy(cp, b)
	f.writes = append(f.writes, cp)
	return nil
}
func (f *fakeArchiveTransport) SetDataCallback(fn DataCallback) {}
func (f *fakeArchiveTransport) ClearDataCallback()               {}
func (f *fakeArchiveTransport) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	if len(f.responses) == 0 {
		return nil, ErrTimeout
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	if len(next) != n {
		out := make([]byte, n)
		copy(out, next)
		return out, nil
	}
	return next, nil
}
func (f *fakeArchiveTransport) IsConnected() bool { return true }

func buildArchivePage(seq byte, records [][]byte) []byte {
	page := make([]byte, archivePageSize)
	page[0] = seq
	for i := 0; i < archiveRecsPerPage; i++ {
		start := 1 + i*archiveRecordSize
		if i < len(records) {
			copy(page[start:start+archiveRecordSize], records[i])
		} else {
			page[start] = 0xFF
		}
	}
	crcSection := page[:1+archiveRecsPerPage*archiveRecordSize]
	crc := crc16.Compute(crcSection)
	page[1+archiveRecsPerPage*archiveRecordSize] = byte(crc >> 8)
	page[1+archiveRecsPerPage*archiveRecordSize+1] = byte(crc)
	return page
}

func TestEngineDownloadArchive(t *testing.T) {
	ts := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	rec := make([]byte, archiveRecordSize)
	copy(rec[0:2], EncodeDate(ts))
	copy(rec[2:4], EncodeTime(ts))

	header := make([]byte, 6)
	header[0], header[1] = 1, 0 // numPages = 1
	header[2], header[3] = 0, 0 // startIndex = 0
	hcrc := crc16.Compute(header[:4])
	header[4], header[5] = byte(hcrc>>8), byte(hcrc)

	page := buildArchivePage(0, [][]byte{rec})

	ft := &fakeArchiveTransport{
		responses: [][]byte{
			{0x0A, 0x0D}, // wake drain
			{ack},        // DMPAFT ack
			{ack},        // timestamp ack
			header,
			page,
		},
	}

	var gotArchive []*ArchiveRecord
	eng := NewEngine(ft, EngineConfig{Location: time.UTC}, nil, func(r *ArchiveRecord) { gotArchive = append(gotArchive, r) }, nil, nil)

	if err := eng.DownloadArchive(ts.Add(-10 * time.Minute)); err != nil {
		t.Fatalf("DownloadArchive: %v", err)
	}
	if len(gotArchive) != 1 {
		t.Fatalf("expected 1 archive record, got %d", len(gotArchive))
	}
	if !gotArchive[0].Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v, want %v", gotArchive[0].Timestamp, ts)
	}
	if eng.State() != StateLooping {
		t.Fatalf("state after download = %v, want %v", eng.State(), StateLooping)
	}
}
