package crc

import (
	"testing"
	"testing/quick"
	"time"

	crand "crypto/rand"
	mrand "math/rand"
)

const (
	Trials  = 512
	Residue = 0xF0B8
)

func TestCheckValue(t *testing.T) {
	if checksum := EC3K.Checksum([]byte("123456789")); checksum != 0x906E {
		t.Fatalf("Expected %04X got %04X\n", 0x906E, checksum)
	}
}

func TestEmpty(t *testing.T) {
	if checksum := EC3K.Checksum(nil); checksum != 0 {
		t.Fatalf("Expected %04X got %04X\n", 0, checksum)
	}
}

func TestKnownPayload(t *testing.T) {
	buf := make([]byte, 39)
	for idx := range buf {
		buf[idx] = byte(idx)
	}

	if checksum := EC3K.Checksum(buf); checksum != 0xCA28 {
		t.Fatalf("Expected %04X got %04X\n", 0xCA28, checksum)
	}
}

// Appending the checksum little-endian must leave the register at the residue.
func TestIdentity(t *testing.T) {
	t.Logf("%+v\n", EC3K)
	for trial := 0; trial < Trials; trial++ {
		length := mrand.Intn(64) + 3

		buf := make([]byte, length)
		crand.Read(buf[:length-2])

		intermediate := EC3K.Checksum(buf[:length-2])
		buf[length-2] = byte(intermediate)
		buf[length-1] = byte(intermediate >> 8)

		if check := Checksum(EC3K.Init, buf); check != Residue {
			t.Fatalf("%s failed: %02X %04X %04X\n", EC3K.Name, buf, intermediate, check)
		}
	}
}

// Flipping any single bit of a frame body must change the checksum.
func TestSingleBitFlip(t *testing.T) {
	err := quick.Check(func(body [39]byte, bit uint16) bool {
		bit %= uint16(len(body) << 3)

		before := EC3K.Checksum(body[:])
		body[bit>>3] ^= 1 << (bit & 7)
		after := EC3K.Checksum(body[:])

		return before != after
	}, nil)

	if err != nil {
		t.Fatal("Error testing single bit flips:", err)
	}
}

func TestDeterministic(t *testing.T) {
	err := quick.Check(func(body []byte) bool {
		return EC3K.Checksum(body) == EC3K.Checksum(append([]byte(nil), body...))
	}, nil)

	if err != nil {
		t.Fatal(err)
	}
}

func BenchmarkChecksum(b *testing.B) {
	buf := make([]byte, 39)
	crand.Read(buf)

	b.SetBytes(int64(len(buf)))
	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		EC3K.Checksum(buf)
	}
}

func init() {
	mrand.Seed(time.Now().UnixNano())
}
