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

package ec3k

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/bemasher/rtlec3k/crc"
	"github.com/bemasher/rtlec3k/decode"
	"github.com/bemasher/rtlec3k/parse"
)

const Model = "EnergyCounter 3000"

func init() {
	parse.Register("ec3k", NewParser)
}

// Limits accepted by the parser, 90 to 225 bits at 200kHz.
var Limits = parse.Limits{
	MinBits:       90,
	MaxBits:       225,
	ReferenceRate: 200000,
	MinFreqSep:    20000,
	MaxFreqSep:    110000,
}

type Parser struct{}

func NewParser() parse.Parser {
	return Parser{}
}

func (Parser) Name() string {
	return "ec3k"
}

func (Parser) Limits() parse.Limits {
	return Limits
}

func (Parser) Parse(row decode.Row) ([]parse.Message, error) {
	tel, err := Decode(row)
	if err != nil {
		return nil, err
	}
	return []parse.Message{tel}, nil
}

// Decode recovers at most one frame from a row. A frame failing the checksum
// or carrying non-zero padding is rejected.
func Decode(row decode.Row) (tel Telemetry, err error) {
	payload, err := ExtractFrame(row.Bits)
	if err != nil {
		return tel, err
	}

	fields := NewFields(payload)

	if checksum := crc.EC3K.Checksum(payload[:PayloadLen-2]); checksum != fields.CRC {
		return tel, errors.Wrapf(parse.ErrChecksum, "computed 0x%04X, frame carries 0x%04X", checksum, fields.CRC)
	}

	if !fields.PaddingOK() {
		return tel, errors.Wrapf(parse.ErrPadding, "pad 0x%04X 0x%07X 0x%05X 0x%X",
			fields.Pad1, fields.Pad2, fields.Pad3, fields.Pad4,
		)
	}

	return NewTelemetry(fields), nil
}

// Header names the columns of Telemetry.Record.
var Header = []string{
	"model", "id", "power", "energy", "time_total", "time_on", "power_max",
	"reset_counter", "device_on", "energy_internal", "crc",
}

// Telemetry is a decoded frame in physical units, power in watts, energy in
// kilowatt-hours and times in seconds.
type Telemetry struct {
	Model          string  `json:"model" xml:",attr"`
	ID             uint16  `json:"id" xml:",attr"`
	Power          float64 `json:"power" xml:",attr"`
	Energy         float64 `json:"energy" xml:",attr"`
	TimeTotal      uint32  `json:"time_total" xml:",attr"`
	TimeOn         uint32  `json:"time_on" xml:",attr"`
	PowerMax       float64 `json:"power_max" xml:",attr"`
	ResetCounter   uint8   `json:"reset_counter" xml:",attr"`
	DeviceOn       bool    `json:"device_on" xml:",attr"`
	EnergyInternal uint32  `json:"energy_internal" xml:",attr"`
	CRC            uint16  `json:"crc" xml:"Checksum,attr"`
}

func NewTelemetry(f Fields) (tel Telemetry) {
	tel.Model = Model
	tel.ID = f.ID
	tel.Power = float64(f.PowerCurrent) / 10
	tel.Energy = float64(f.Energy()) / (1000 * 3600)
	tel.TimeTotal = f.TimeTotal()
	tel.TimeOn = f.TimeOn()
	tel.PowerMax = float64(f.PowerMax) / 10
	tel.ResetCounter = f.ResetCounter
	tel.DeviceOn = f.DeviceOn != 0
	tel.EnergyInternal = f.EnergyInternal
	tel.CRC = f.CRC

	return
}

func (tel Telemetry) MsgType() string {
	return "EC3K"
}

func (tel Telemetry) MeterID() uint32 {
	return uint32(tel.ID)
}

// Checksum in transmission order.
func (tel Telemetry) Checksum() []byte {
	return []byte{byte(tel.CRC), byte(tel.CRC >> 8)}
}

func (tel Telemetry) String() string {
	return fmt.Sprintf("{ID:%5d Power:%7.1f Energy:%12.6f TimeTotal:%8d TimeOn:%8d PowerMax:%7.1f Resets:%3d On:%t CRC:0x%04X}",
		tel.ID, tel.Power, tel.Energy, tel.TimeTotal, tel.TimeOn, tel.PowerMax, tel.ResetCounter, tel.DeviceOn, tel.CRC,
	)
}

func (tel Telemetry) Record() (r []string) {
	r = append(r, tel.Model)
	r = append(r, strconv.FormatUint(uint64(tel.ID), 10))
	r = append(r, strconv.FormatFloat(tel.Power, 'f', 1, 64))
	r = append(r, strconv.FormatFloat(tel.Energy, 'f', -1, 64))
	r = append(r, strconv.FormatUint(uint64(tel.TimeTotal), 10))
	r = append(r, strconv.FormatUint(uint64(tel.TimeOn), 10))
	r = append(r, strconv.FormatFloat(tel.PowerMax, 'f', 1, 64))
	r = append(r, strconv.FormatUint(uint64(tel.ResetCounter), 10))
	r = append(r, strconv.FormatBool(tel.DeviceOn))
	r = append(r, strconv.FormatUint(uint64(tel.EnergyInternal), 10))
	r = append(r, "0x"+strconv.FormatUint(uint64(tel.CRC), 16))

	return
}
