package gen

import (
	"crypto/rand"
	"math"

	"github.com/bemasher/rtlec3k/decode"
	"github.com/bemasher/rtlec3k/ec3k"
)

const (
	// Zeros sent ahead of the opening flag.
	Preamble = 16

	// Rows shorter than this are padded by holding the last level.
	RowBits = 600
)

// Flag delimits a frame on the line.
var Flag = []byte{0, 1, 1, 1, 1, 1, 1, 0}

// NewRandEC3K returns a random frame with zero padding and a valid checksum.
func NewRandEC3K() (pkt []byte, err error) {
	pkt = make([]byte, ec3k.PayloadLen)
	if _, err = rand.Read(pkt); err != nil {
		return nil, err
	}

	fields := ec3k.NewFields(pkt)
	fields.Pad1, fields.Pad2, fields.Pad3, fields.Pad4 = 0, 0, 0, 0

	return fields.Payload(), nil
}

// Stuff returns the bits of data least significant first with a zero
// inserted after every run of five ones.
func Stuff(data []byte) []byte {
	bits := make([]byte, 0, len(data)*10)

	ones := 0
	for _, b := range data {
		for bit := uint(0); bit < 8; bit++ {
			v := (b >> bit) & 1
			bits = append(bits, v)

			if v == 0 {
				ones = 0
				continue
			}

			ones++
			if ones == 5 {
				bits = append(bits, 0)
				ones = 0
			}
		}
	}

	return bits
}

// Frame returns the line bits of a frame: preamble zeros, a flag, the
// stuffed payload and a closing flag.
func Frame(payload []byte, preamble int) []byte {
	line := make([]byte, preamble, preamble+len(payload)*10+len(Flag)*2)
	line = append(line, Flag...)
	line = append(line, Stuff(payload)...)
	return append(line, Flag...)
}

// Scramble is the inverse of ec3k.Descramble. The first ec3k.ScanStart
// symbols carry no data.
func Scramble(line []byte) []byte {
	symbols := make([]byte, len(line)+ec3k.ScanStart)

	for idx, d := range line {
		i := idx + ec3k.ScanStart

		s := d ^ symbols[i-12]
		if i > 17 {
			s ^= symbols[i-17]
		}
		symbols[i] = s
	}

	return symbols
}

// NRZIEncode holds the level for a 1 and toggles it for a 0, starting from
// level 0.
func NRZIEncode(symbols []byte) []byte {
	levels := make([]byte, len(symbols))

	var level byte
	for idx, s := range symbols {
		if s == 0 {
			level ^= 1
		}
		levels[idx] = level
	}

	return levels
}

// Levels line codes raw line bits into a level row.
func Levels(line []byte) []byte {
	return NRZIEncode(Scramble(line))
}

// NewRow returns a level row carrying payload as a single frame.
func NewRow(payload []byte, sampleRate int, freqSep float64) decode.Row {
	levels := Levels(Frame(payload, Preamble))

	for len(levels) < RowBits {
		levels = append(levels, levels[len(levels)-1])
	}

	return decode.Row{
		Bits:           levels,
		SampleRate:     sampleRate,
		FreqSeparation: freqSep,
	}
}

// Modulate synthesizes interleaved 8-bit IQ samples of continuous phase FSK.
// Level 1 is sent at +dev Hz and level 0 at -dev Hz.
func Modulate(levels []byte, symbolLength int, dev, sampleRate float64) []byte {
	iq := make([]byte, 0, len(levels)*symbolLength<<1)

	var phase float64
	for _, l := range levels {
		step := 2 * math.Pi * dev / sampleRate
		if l == 0 {
			step = -step
		}

		for n := 0; n < symbolLength; n++ {
			s, c := math.Sincos(phase)
			iq = append(iq, uint8(c*127.5+127.5), uint8(s*127.5+127.5))
			phase = math.Mod(phase+step, 2*math.Pi)
		}
	}

	return iq
}

// Silence returns samples of an empty channel.
func Silence(samples int) []byte {
	iq := make([]byte, samples<<1)
	for idx := range iq {
		iq[idx] = 128
	}
	return iq
}
