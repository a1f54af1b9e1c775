// Package davisproto implements the Davis Vantage Pro binary serial protocol:
// CRC-framed LOOP/archive record decoding, the wake/LOOP/DMPAFT dialog state
// machine, and the transports (real serial, network-attached, and an
// in-process simulator) that carry it.
//
// Grounded in internal/weatherstations/davis/station.go, which
// decodes LOOP packets with encoding/binary into a wide struct and a table of
// per-field conversion helpers; this package keeps that shape (little-endian
// reads at fixed offsets, then a pass of named conversion functions) but widens it
// to cover archive records and date/time encoding that was never
// implemented.
package davisproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/windvane-labs/weathercore/pkg/crc16"
)

const (
	loopRecordSize    = 99
	archiveRecordSize = 52

	inHgToHPa = 1 / 0.02953007
	// mphToKph is the exact mph->km/h factor. Some LOOP field tables float
	// around a rounded 0.45 (mph->m/s, not km/h); that figure doesn't apply
	// here and shouldn't replace this constant.
	mphToKph = 1.609344
)

// LoopRecord is the decoded 99-byte live-telemetry packet. Numeric fields are
// pointers: nil means the console reported its invalid sentinel for that
// field (0x7FFF for words, 0xFF for bytes). The Davis adapter applies further
// range-based suppression (humidity, wind direction, solar/UV) on top of this.
type LoopRecord struct {
	BarometerTrend     int8
	NextArchiveRecord  uint16
	Pressure           *float64
	TempIn             *float64
	HumidityIn         *float64
	TempOut            *float64
	WindGust10Min      *float64
	WindSpeed          *float64
	WindDirection      *float64
	HumidityOut        *float64
	RainRate           *float64
	UVIndex            *float64
	SolarRadiation     *float64
	RainDaily          *float64
	ConsoleBatteryVolt *float64
}

// ArchiveRecord is one decoded 52-byte archive entry.
type ArchiveRecord struct {
	Timestamp       time.Time
	TempOutAvg      *float64
	TempOutHigh     *float64
	TempOutLow      *float64
	RainTotal       *float64
	RainPeakRate    *float64
	Pressure        *float64
	SolarRadiation  *float64
	TempIn          *float64
	HumidityIn      *float64
	HumidityOut     *float64
	WindSpeedAvg    *float64
	WindSpeedPeak   *float64
	WindDirAvg      *float64
	WindDirPeak     *float64
	UVIndex         *float64
	ET              *float64
	SolarRadHigh    *float64
	UVIndexHigh     *float64
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

func wordOrNil(b []byte, conv func(uint16) float64) *float64 {
	v := le16(b)
	if v == 0x7FFF {
		return nil
	}
	r := round1(conv(v))
	return &r
}

func byteOrNil(b byte, conv func(byte) float64) *float64 {
	if b == 0xFF {
		return nil
	}
	r := round1(conv(b))
	return &r
}

// ParseLoop decodes a 99-byte LOOP packet. The caller must have already
// verified the packet's CRC and the leading "LOO" signature.
func ParseLoop(p []byte) (*LoopRecord, error) {
	if len(p) != loopRecordSize {
		return nil, fmt.Errorf("davisproto: loop record must be %d bytes, got %d", loopRecordSize, len(p))
	}
	if !bytes.Equal(p[0:3], []byte("LOO")) {
		return nil, fmt.Errorf("davisproto: missing LOO signature")
	}

	r := &LoopRecord{
		BarometerTrend:    int8(p[3]),
		NextArchiveRecord: le16(p[5:7]),
		Pressure:          wordOrNil(p[7:9], func(v uint16) float64 { return float64(v) / 1000 * inHgToHPa }),
		TempIn:            wordOrNil(p[9:11], fToC10),
		HumidityIn:        byteOrNil(p[11], func(b byte) float64 { return float64(b) }),
		TempOut:           wordOrNil(p[12:14], fToC10),
		WindGust10Min:     byteOrNil(p[14], mphByteToKph),
		WindSpeed:         byteOrNil(p[15], mphByteToKph),
		WindDirection:     wordOrNil(p[16:18], func(v uint16) float64 { return float64(v) }),
		HumidityOut:       byteOrNil(p[33], func(b byte) float64 { return float64(b) }),
		RainRate:          wordOrNil(p[41:43], func(v uint16) float64 { return float64(v) * 0.2 }),
		UVIndex:           byteOrNil(p[43], func(b byte) float64 { return float64(b) / 10 }),
		SolarRadiation:    wordOrNil(p[44:46], func(v uint16) float64 { return float64(v) }),
		RainDaily:         wordOrNil(p[50:52], func(v uint16) float64 { return float64(v) * 0.2 }),
	}

	battery := round1(float64(le16(p[87:89])) * 300 / 512 / 100)
	r.ConsoleBatteryVolt = &battery

	return r, nil
}

func fToC10(v uint16) float64 {
	f := float64(v) / 10
	return (f - 32) * 5 / 9
}

func mphByteToKph(b byte) float64 {
	return float64(b) * mphToKph
}

// ParseArchive decodes a 52-byte archive record. loc is the zone in which
// the packed date/time word is interpreted (see the note on archive
// timestamps on DecodeArchiveDateTime).
func ParseArchive(p []byte, loc *time.Location) (*ArchiveRecord, error) {
	if len(p) != archiveRecordSize {
		return nil, fmt.Errorf("davisproto: archive record must be %d bytes, got %d", archiveRecordSize, len(p))
	}

	dateWord := le16(p[0:2])
	timeWord := le16(p[2:4])
	ts := DecodeArchiveDateTime(dateWord, timeWord, loc)

	rec := &ArchiveRecord{
		Timestamp:      ts,
		TempOutAvg:     wordOrNil(p[4:6], fToC10),
		TempOutHigh:    wordOrNil(p[6:8], fToC10),
		TempOutLow:     wordOrNil(p[8:10], fToC10),
		RainTotal:      wordOrNil(p[10:12], func(v uint16) float64 { return float64(v) * 0.2 }),
		RainPeakRate:   wordOrNil(p[12:14], func(v uint16) float64 { return float64(v) * 0.2 }),
		Pressure:       wordOrNil(p[14:16], func(v uint16) float64 { return float64(v) / 1000 * inHgToHPa }),
		SolarRadiation: wordOrNil(p[16:18], func(v uint16) float64 { return float64(v) }),
		TempIn:         wordOrNil(p[20:22], fToC10),
		HumidityIn:     byteOrNil(p[22], func(b byte) float64 { return float64(b) }),
		HumidityOut:    byteOrNil(p[23], func(b byte) float64 { return float64(b) }),
		WindSpeedAvg:   byteOrNil(p[24], mphByteToKph),
		WindSpeedPeak:  byteOrNil(p[25], mphByteToKph),
		WindDirAvg:     byteOrNil(p[26], compassToDegrees),
		WindDirPeak:    byteOrNil(p[27], compassToDegrees),
		UVIndex:        byteOrNil(p[28], func(b byte) float64 { return float64(b) / 10 }),
		ET:             byteOrNil(p[29], func(b byte) float64 { return float64(b) / 1000 * 25.4 }),
		SolarRadHigh:   wordOrNil(p[30:32], func(v uint16) float64 { return float64(v) }),
		UVIndexHigh:    byteOrNil(p[32], func(b byte) float64 { return float64(b) / 10 }),
	}

	return rec, nil
}

func compassToDegrees(b byte) float64 {
	return float64(b) * 22.5
}

// IsEmptyArchiveSlot reports whether a 52-byte archive record slot is unused
// (first byte 0xFF or 0x00), per the DMPAFT page format.
func IsEmptyArchiveSlot(p []byte) bool {
	return len(p) == 0 || p[0] == 0xFF || p[0] == 0x00
}

// DecodeArchiveDateTime unpacks the Davis packed date and time words.
//
// Archive timestamps are carried in the console's own clock with no time
// zone attached. This decodes them in loc (normally time.Local, matching the
// original assumption that the console clock tracks the host's
// local time) and the caller converts to UTC once the instant is anchored.
func DecodeArchiveDateTime(dateWord, timeWord uint16, loc *time.Location) time.Time {
	day := int(dateWord & 0x1F)
	month := time.Month((dateWord >> 5) & 0x0F)
	year := 2000 + int(dateWord>>9)

	hour := int(timeWord / 100)
	minute := int(timeWord % 100)

	if loc == nil {
		loc = time.Local
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

// EncodeDate packs a timestamp's (year, month, day) into the 2-byte
// little-endian word DMPAFT expects.
func EncodeDate(t time.Time) []byte {
	word := uint16(t.Day()) | uint16(t.Month())<<5 | uint16(t.Year()-2000)<<9
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, word)
	return b
}

// EncodeTime packs a timestamp's (hour, minute) into the 2-byte
// little-endian word DMPAFT expects.
func EncodeTime(t time.Time) []byte {
	word := uint16(t.Hour()*100 + t.Minute())
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, word)
	return b
}

// EncodeDMPAFTTimestamp builds the date||time||CRC16(date||time) payload
// sent as the second leg of the archive dialog.
func EncodeDMPAFTTimestamp(t time.Time) []byte {
	payload := append(EncodeDate(t), EncodeTime(t)...)
	return crc16.Append(payload)
}
