// RTLEC3K - An rtl-sdr receiver for EnergyCount 3000 energy loggers.
// Copyright (C) 2015 Douglas Hall
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package decode

import (
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// PacketConfig specifies radio configuration for the FSK front end.
type PacketConfig struct {
	CenterFreq uint32
	SampleRate int
	DataRate   int

	SymbolLength          int
	BlockSize, BlockSize2 int

	// Magnitude squared a sample must reach to be part of a burst.
	Threshold float64
	// Number of consecutive quiet samples which end a burst.
	GapLimit int
	// Rows are truncated to this many bits.
	MaxRowBits int
}

// NewPacketConfig returns the defaults for EC3K transmitters: 868.2MHz,
// 20kbps (50us bit time) sampled at 1MHz.
func NewPacketConfig() (cfg PacketConfig) {
	cfg.CenterFreq = 868200000
	cfg.SampleRate = 1000000
	cfg.DataRate = 20000
	cfg.BlockSize = 16384
	cfg.Threshold = 0.01
	cfg.MaxRowBits = 2048

	return cfg.Normalize()
}

// Normalize fills derived fields from SampleRate and DataRate.
func (cfg PacketConfig) Normalize() PacketConfig {
	cfg.SymbolLength = cfg.SampleRate / cfg.DataRate
	if cfg.SymbolLength < 1 {
		cfg.SymbolLength = 1
	}

	cfg.BlockSize2 = cfg.BlockSize << 1

	// 3ms of silence ends a transmission.
	if cfg.GapLimit == 0 {
		cfg.GapLimit = cfg.SampleRate * 3 / 1000
	}

	return cfg
}

func (d Decoder) Log() {
	log.Println("CenterFreq:", d.Cfg.CenterFreq)
	log.Println("SampleRate:", d.Cfg.SampleRate)
	log.Println("DataRate:", d.Cfg.DataRate)
	log.Println("SymbolLength:", d.Cfg.SymbolLength)
	log.Println("BlockSize:", d.Cfg.BlockSize)
	log.Println("Threshold:", d.Cfg.Threshold)
	log.Println("GapLimit:", d.Cfg.GapLimit)
	log.Println("MaxRowBits:", d.Cfg.MaxRowBits)
}

// Decoder turns blocks of interleaved 8-bit IQ samples into rows of bit
// levels. A burst may span any number of blocks, so a Decoder must only be
// fed by a single goroutine.
type Decoder struct {
	Cfg PacketConfig

	lut IQLUT

	prev    complex128
	inBurst bool
	quiet   int

	burst    []float64
	filtered []float64
	csum     []float64
	lower    []float64
	upper    []float64
}

// Create a new decoder with the given packet configuration.
func NewDecoder(cfg PacketConfig) (d *Decoder) {
	d = new(Decoder)
	d.Cfg = cfg.Normalize()
	d.lut = NewIQLUT()

	maxBurst := (d.Cfg.MaxRowBits + 1) * d.Cfg.SymbolLength
	d.burst = make([]float64, 0, maxBurst)
	d.filtered = make([]float64, maxBurst)
	d.csum = make([]float64, maxBurst+1)
	d.lower = make([]float64, 0, maxBurst)
	d.upper = make([]float64, 0, maxBurst)

	return d
}

// Decode consumes a block of samples and returns every row whose burst ended
// within it.
func (d *Decoder) Decode(input []byte) (rows []Row) {
	// Converts phase difference to Hz.
	scale := float64(d.Cfg.SampleRate) / (2 * math.Pi)

	for idx := 0; idx+1 < len(input); idx += 2 {
		i, q := d.lut[input[idx]], d.lut[input[idx+1]]
		mag := i*i + q*q

		// Frequency discriminator, the argument of the product of the
		// sample and the conjugate of its predecessor.
		pr, pi := real(d.prev), imag(d.prev)
		freq := math.Atan2(q*pr-i*pi, i*pr+q*pi) * scale
		d.prev = complex(i, q)

		if mag >= d.Cfg.Threshold {
			d.quiet = 0

			// The first sample's predecessor is noise, skip it.
			if !d.inBurst {
				d.inBurst = true
				d.burst = d.burst[:0]
				continue
			}

			d.burst = append(d.burst, freq)
			if len(d.burst) == cap(d.burst) {
				rows = d.emit(rows)
			}
			continue
		}

		if d.inBurst {
			d.quiet++
			if d.quiet >= d.Cfg.GapLimit {
				rows = d.emit(rows)
			}
		}
	}

	return rows
}

// Flush closes a burst in progress, used at the end of a recording.
func (d *Decoder) Flush() (rows []Row) {
	if d.inBurst {
		rows = d.emit(rows)
	}
	return rows
}

func (d *Decoder) emit(rows []Row) []Row {
	d.inBurst = false
	d.quiet = 0

	if row, ok := d.Slice(d.burst); ok {
		rows = append(rows, row)
	}
	d.burst = d.burst[:0]

	return rows
}

// Slice estimates the two tones of a burst, decides the level of each sample
// and converts runs of equal level into bits.
func (d *Decoder) Slice(burst []float64) (row Row, ok bool) {
	if len(burst) < d.Cfg.SymbolLength {
		return row, false
	}

	// Smooth over a quarter symbol.
	window := d.Cfg.SymbolLength >> 2
	if window < 1 {
		window = 1
	}
	filtered := d.Filter(burst, window)

	// Split about the mean and take the mean of each half as tone estimates.
	mean := stat.Mean(filtered, nil)
	d.lower, d.upper = d.lower[:0], d.upper[:0]
	for _, f := range filtered {
		if f > mean {
			d.upper = append(d.upper, f)
		} else {
			d.lower = append(d.lower, f)
		}
	}

	mid := mean
	if len(d.lower) > 0 && len(d.upper) > 0 {
		f1 := stat.Mean(d.lower, nil)
		f2 := stat.Mean(d.upper, nil)
		mid = (f1 + f2) / 2
		row.FreqSeparation = f2 - f1
	}

	row.SampleRate = d.Cfg.SampleRate
	row.Bits = Quantize(filtered, mid, d.Cfg.SymbolLength, d.Cfg.MaxRowBits)

	return row, len(row.Bits) > 0
}

// Filter computes a moving average of the given width. Computing the
// cumulative summation over the signal simplifies each average to a single
// subtraction.
func (d *Decoder) Filter(input []float64, width int) []float64 {
	if width > len(input) {
		width = len(input)
	}

	var sum float64
	for idx, v := range input {
		sum += v
		d.csum[idx+1] = sum
	}

	output := d.filtered[:len(input)-width+1]
	scale := 1 / float64(width)
	for idx := range output {
		output[idx] = (d.csum[idx+width] - d.csum[idx]) * scale
	}

	return output
}

// Quantize compares each sample against the slicing level and converts runs
// of equal level into a whole number of bits, rounding to the nearest bit
// period.
func Quantize(input []float64, mid float64, symbolLength, maxBits int) (bits []byte) {
	if len(input) == 0 {
		return nil
	}

	emit := func(level byte, run int) {
		for n := (run + symbolLength>>1) / symbolLength; n > 0 && len(bits) < maxBits; n-- {
			bits = append(bits, level)
		}
	}

	level := levelOf(input[0], mid)
	run := 0
	for _, v := range input {
		if l := levelOf(v, mid); l != level {
			emit(level, run)
			level, run = l, 0
		}
		run++
	}
	emit(level, run)

	return bits
}

func levelOf(v, mid float64) byte {
	if v > mid {
		return 1
	}
	return 0
}

// IQLUT maps an unsigned 8-bit sample to [-1.0, 1.0] with the most common
// DC offset for rtl-sdr dongles.
type IQLUT [0x100]float64

func NewIQLUT() (lut IQLUT) {
	for idx := range lut {
		lut[idx] = (float64(idx) - 127.5) / 127.5
	}
	return
}
