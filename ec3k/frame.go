package ec3k

import (
	"github.com/pkg/errors"

	"github.com/bemasher/rtlec3k/parse"
)

const (
	// PayloadLen is the length in bytes of a frame, checksum included.
	PayloadLen = 41

	// ScanStart is the first descrambled bit worth looking at.
	ScanStart = 17
)

// framer removes stuffed bits and finds flags in a stream of line bits.
type framer struct {
	inside bool
	ones   int

	reg   byte
	nbits int

	// n counts bytes since the last flag, buf holds the first PayloadLen.
	n   int
	buf [PayloadLen]byte
}

// push feeds one line bit and reports whether a complete frame was closed.
func (f *framer) push(bit byte) bool {
	if bit != 0 {
		f.ones++
		f.shift(0x80)
		return false
	}

	switch {
	case f.ones < 5:
		f.shift(0)
	case f.ones == 6:
		if f.inside && f.n == PayloadLen {
			return true
		}
		f.inside = !f.inside
		f.nbits, f.n = 0, 0
	}
	// Five ones means the zero was stuffed, more than six is left alone.
	f.ones = 0

	return false
}

// Bits are sent least significant first.
func (f *framer) shift(high byte) {
	f.reg = f.reg>>1 | high
	f.nbits++

	if f.nbits == 8 && f.inside {
		if f.n < PayloadLen {
			f.buf[f.n] = f.reg
		}
		f.n++
		f.nbits = 0
	}
}

// ExtractFrame scans a level row and returns the first frame of PayloadLen
// bytes delimited by flags. Scanning stops at the first such frame.
func ExtractFrame(bits []byte) ([]byte, error) {
	var f framer

	for i := ScanStart; i < len(bits); i++ {
		if f.push(Descramble(bits, i)) {
			frame := f.buf
			return frame[:], nil
		}
	}

	return nil, errors.Wrapf(parse.ErrNoFrame, "scanned %d bits", len(bits))
}
