package crc16

import (
	"math/rand"
	"testing"
)

func TestVerifyRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		[]byte("LOO"),
		[]byte("the quick brown fox jumps over the lazy dog"),
	}
	for _, c := range cases {
		framed := Append(c)
		if !Verify(framed) {
			t.Errorf("Verify(Append(%v)) = false, want true", c)
		}
	}
}

func TestVerifyRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		buf := make([]byte, r.Intn(128))
		r.Read(buf)
		framed := Append(buf)
		if !Verify(framed) {
			t.Fatalf("Verify(Append(%v)) = false, want true", buf)
		}
		// Corrupting a byte should (overwhelmingly likely) break verification.
		if len(framed) > 0 {
			corrupted := append([]byte(nil), framed...)
			corrupted[0] ^= 0xFF
			if Verify(corrupted) {
				t.Fatalf("corrupted buffer unexpectedly verified: %v", corrupted)
			}
		}
	}
}

func TestComputeKnownTable(t *testing.T) {
	// CRC-CCITT (0x1021/init 0) of "123456789" is a commonly cited test vector: 0x31C3.
	got := Compute([]byte("123456789"))
	if got != 0x31C3 {
		t.Errorf("Compute(123456789) = %#04x, want 0x31c3", got)
	}
}
