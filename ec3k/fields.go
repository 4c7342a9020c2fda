package ec3k

import (
	"github.com/bemasher/rtlec3k/crc"
)

// UnpackNibbles reads count nibbles starting at nibble offset start, most
// significant first. Nibble 0 is the high nibble of p[0].
func UnpackNibbles(p []byte, start, count int) (v uint64) {
	for idx := start; idx < start+count; idx++ {
		b := p[idx>>1]
		if idx&1 == 0 {
			b >>= 4
		}
		v = v<<4 | uint64(b&0x0F)
	}
	return v
}

// PutNibbles is the inverse of UnpackNibbles. Bits of v above count nibbles
// are ignored.
func PutNibbles(p []byte, start, count int, v uint64) {
	for idx := start + count - 1; idx >= start; idx-- {
		n := byte(v & 0x0F)
		v >>= 4

		if idx&1 == 0 {
			p[idx>>1] = p[idx>>1]&0x0F | n<<4
		} else {
			p[idx>>1] = p[idx>>1]&0xF0 | n
		}
	}
}

// Fields holds the raw values of a frame. Power values are in tenths of a
// watt, energy in watt-seconds and times in seconds.
type Fields struct {
	ID             uint16
	TimeTotalLow   uint16
	Pad1           uint16
	TimeOnLow      uint16
	Pad2           uint32
	EnergyLow      uint32
	PowerCurrent   uint16
	PowerMax       uint16
	EnergyInternal uint32
	TimeTotalHigh  uint16
	Pad3           uint32
	EnergyHigh     uint16
	TimeOnHigh     uint16
	ResetCounter   uint8
	DeviceOn       uint8
	Pad4           uint8
	CRC            uint16
}

func NewFields(p []byte) (f Fields) {
	f.ID = uint16(UnpackNibbles(p, 1, 4))
	f.TimeTotalLow = uint16(UnpackNibbles(p, 5, 4))
	f.Pad1 = uint16(UnpackNibbles(p, 9, 4))
	f.TimeOnLow = uint16(UnpackNibbles(p, 13, 4))
	f.Pad2 = uint32(UnpackNibbles(p, 17, 7))
	f.EnergyLow = uint32(UnpackNibbles(p, 24, 7))
	f.PowerCurrent = uint16(UnpackNibbles(p, 31, 4))
	f.PowerMax = uint16(UnpackNibbles(p, 35, 4))
	f.EnergyInternal = uint32(UnpackNibbles(p, 39, 6))
	f.TimeTotalHigh = uint16(UnpackNibbles(p, 59, 3))
	f.Pad3 = uint32(UnpackNibbles(p, 62, 5))
	f.EnergyHigh = uint16(UnpackNibbles(p, 67, 4))
	f.TimeOnHigh = uint16(UnpackNibbles(p, 71, 3))
	f.ResetCounter = uint8(UnpackNibbles(p, 74, 2))
	f.DeviceOn = uint8(UnpackNibbles(p, 76, 1))
	f.Pad4 = uint8(UnpackNibbles(p, 77, 1))
	f.CRC = uint16(p[PayloadLen-2]) | uint16(p[PayloadLen-1])<<8

	return
}

// Payload packs the fields into a frame and appends a fresh checksum. The CRC
// field is ignored.
func (f Fields) Payload() []byte {
	p := make([]byte, PayloadLen)

	PutNibbles(p, 1, 4, uint64(f.ID))
	PutNibbles(p, 5, 4, uint64(f.TimeTotalLow))
	PutNibbles(p, 9, 4, uint64(f.Pad1))
	PutNibbles(p, 13, 4, uint64(f.TimeOnLow))
	PutNibbles(p, 17, 7, uint64(f.Pad2))
	PutNibbles(p, 24, 7, uint64(f.EnergyLow))
	PutNibbles(p, 31, 4, uint64(f.PowerCurrent))
	PutNibbles(p, 35, 4, uint64(f.PowerMax))
	PutNibbles(p, 39, 6, uint64(f.EnergyInternal))
	PutNibbles(p, 59, 3, uint64(f.TimeTotalHigh))
	PutNibbles(p, 62, 5, uint64(f.Pad3))
	PutNibbles(p, 67, 4, uint64(f.EnergyHigh))
	PutNibbles(p, 71, 3, uint64(f.TimeOnHigh))
	PutNibbles(p, 74, 2, uint64(f.ResetCounter))
	PutNibbles(p, 76, 1, uint64(f.DeviceOn))
	PutNibbles(p, 77, 1, uint64(f.Pad4))

	checksum := crc.EC3K.Checksum(p[:PayloadLen-2])
	p[PayloadLen-2] = byte(checksum)
	p[PayloadLen-1] = byte(checksum >> 8)

	return p
}

// Energy in watt-seconds.
func (f Fields) Energy() uint64 {
	return uint64(f.EnergyHigh)<<28 | uint64(f.EnergyLow)
}

func (f Fields) TimeTotal() uint32 {
	return uint32(f.TimeTotalLow) | uint32(f.TimeTotalHigh)<<16
}

func (f Fields) TimeOn() uint32 {
	return uint32(f.TimeOnLow) | uint32(f.TimeOnHigh)<<16
}

func (f Fields) PaddingOK() bool {
	return f.Pad1 == 0 && f.Pad2 == 0 && f.Pad3 == 0 && f.Pad4 == 0
}
