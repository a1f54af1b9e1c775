package davisproto

import (
	"math"
	"testing"
	"time"

	"github.com/windvane-labs/weathercore/pkg/crc16"
)

func buildLoopPacket(fill func([]byte)) []byte {
	p := make([]byte, loopRecordSize-2)
	copy(p[0:3], "LOO")
	p[3] = 0 // flavor B, trend 0
	if fill != nil {
		fill(p)
	}
	return crc16.Append(p)
}

func TestParseLoop_TempOut(t *testing.T) {
	raw := buildLoopPacket(func(p []byte) {
		p[12] = 0xD0
		p[13] = 0x02
	})
	if !crc16.Verify(raw) {
		t.Fatalf("test packet CRC invalid")
	}

	rec, err := ParseLoop(raw)
	if err != nil {
		t.Fatalf("ParseLoop: %v", err)
	}
	if rec.TempOut == nil {
		t.Fatalf("expected TempOut present")
	}
	if math.Abs(*rec.TempOut-22.2) > 0.05 {
		t.Fatalf("TempOut = %v, want ~22.2", *rec.TempOut)
	}
}

func TestParseLoop_InvalidHumidityOut(t *testing.T) {
	raw := buildLoopPacket(func(p []byte) {
		p[33] = 0xFF
		p[12], p[13] = 0xD0, 0x02
	})
	rec, err := ParseLoop(raw)
	if err != nil {
		t.Fatalf("ParseLoop: %v", err)
	}
	if rec.HumidityOut != nil {
		t.Fatalf("expected HumidityOut suppressed, got %v", *rec.HumidityOut)
	}
	if rec.TempOut == nil {
		t.Fatalf("expected other fields from the same packet to still be present")
	}
}

func TestParseLoop_RejectsWrongLength(t *testing.T) {
	if _, err := ParseLoop(make([]byte, 10)); err == nil {
		t.Fatalf("expected error for short packet")
	}
}

func TestParseLoop_RejectsBadSignature(t *testing.T) {
	raw := buildLoopPacket(nil)
	raw[0] = 'X'
	if _, err := ParseLoop(raw); err == nil {
		t.Fatalf("expected error for bad signature")
	}
}

func TestEncodeDecodeDateRoundTrip(t *testing.T) {
	ts := time.Date(2024, time.March, 17, 14, 32, 0, 0, time.UTC)
	dateWord := le16(EncodeDate(ts))
	timeWord := le16(EncodeTime(ts))

	decoded := DecodeArchiveDateTime(dateWord, timeWord, time.UTC)
	if decoded.Year() != ts.Year() || decoded.Month() != ts.Month() || decoded.Day() != ts.Day() {
		t.Fatalf("date round trip mismatch: got %v want %v", decoded, ts)
	}
	if decoded.Hour() != ts.Hour() || decoded.Minute() != ts.Minute() {
		t.Fatalf("time round trip mismatch: got %v want %v", decoded, ts)
	}
}

func TestIsEmptyArchiveSlot(t *testing.T) {
	if !IsEmptyArchiveSlot([]byte{0xFF}) {
		t.Fatalf("0xFF should be empty")
	}
	if !IsEmptyArchiveSlot([]byte{0x00}) {
		t.Fatalf("0x00 should be empty")
	}
	if IsEmptyArchiveSlot([]byte{0x01}) {
		t.Fatalf("0x01 should not be empty")
	}
}

func TestParseArchive_RoundTripTimestamp(t *testing.T) {
	p := make([]byte, archiveRecordSize)
	ts := time.Date(2024, time.June, 1, 12, 5, 0, 0, time.UTC)
	copy(p[0:2], EncodeDate(ts))
	copy(p[2:4], EncodeTime(ts))

	rec, err := ParseArchive(p, time.UTC)
	if err != nil {
		t.Fatalf("ParseArchive: %v", err)
	}
	if !rec.Timestamp.Equal(ts) {
		t.Fatalf("got %v want %v", rec.Timestamp, ts)
	}
}
