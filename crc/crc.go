package crc

import "fmt"

// EC3K is the checksum carried in the last two bytes of an EnergyCounter 3000
// frame. The update step is the reflected CCITT arrangement used by the
// device firmware, stored little-endian on air.
var EC3K = NewCRC("EC3K", 0xFFFF, 0xFFFF)

type CRC struct {
	Name   string
	Init   uint16
	XorOut uint16
}

func NewCRC(name string, init, xorOut uint16) (crc CRC) {
	crc.Name = name
	crc.Init = init
	crc.XorOut = xorOut

	return
}

func (crc CRC) String() string {
	return fmt.Sprintf("{Name:%s Init:0x%04X XorOut:0x%04X}", crc.Name, crc.Init, crc.XorOut)
}

// Checksum runs the register over data starting from Init and applies XorOut.
func (crc CRC) Checksum(data []byte) uint16 {
	return Checksum(crc.Init, data) ^ crc.XorOut
}

// Checksum returns the raw register after feeding data, without the final
// xor. Feeding a frame followed by its little-endian checksum leaves a
// constant residue.
func Checksum(init uint16, data []byte) (crc uint16) {
	crc = init
	for _, v := range data {
		crc = Update(crc, v)
	}
	return
}

// Update advances the register by one byte.
func Update(crc uint16, b byte) uint16 {
	ch := b ^ byte(crc)
	ch ^= ch << 4

	return (uint16(ch)<<8 | crc>>8) ^ uint16(ch>>4) ^ uint16(ch)<<3
}
