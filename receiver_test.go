package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bemasher/rtlec3k/decode"
	"github.com/bemasher/rtlec3k/ec3k"
	"github.com/bemasher/rtlec3k/gen"
)

const referenceHex = "03a5c123400000abc0000000123456704d20fa0abcdef000000000000000010000000020000510e5f5"

func referencePayload(t testing.TB) []byte {
	p, err := hex.DecodeString(referenceHex)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func payloadWithID(t testing.TB, id uint16) []byte {
	fields := ec3k.NewFields(referencePayload(t))
	fields.ID = id
	return fields.Payload()
}

func newTestReceiver(t *testing.T) (*Receiver, *captureEncoder) {
	t.Helper()

	enc := &captureEncoder{}
	rcvr := new(Receiver)
	require.NoError(t, rcvr.Init(decode.NewPacketConfig(), enc, prometheus.NewRegistry()))

	return rcvr, enc
}

// rows renders one text row per id, as written by -rowdump.
func rows(t *testing.T, ids ...uint16) string {
	var buf bytes.Buffer
	for _, id := range ids {
		fmt.Fprintln(&buf, gen.NewRow(payloadWithID(t, id), 1000000, 50000))
	}
	return buf.String()
}

func TestReplay(t *testing.T) {
	rcvr, enc := newTestReceiver(t)

	input := "# captured 2015-06-20\n" +
		rows(t, 14940) +
		"0101 samplerate=1000000\n" +
		"01x1\n" +
		"\n" +
		rows(t, 12)

	require.NoError(t, rcvr.Replay(strings.NewReader(input)))

	require.Len(t, enc.msgs, 2)
	assert.Equal(t, ec3k.NewTelemetry(ec3k.NewFields(referencePayload(t))), enc.msgs[0].Message)
	assert.Equal(t, "EC3K", enc.msgs[0].Type)
	assert.Equal(t, uint32(12), enc.msgs[1].MeterID())

	assert.Equal(t, 2.0, testutil.ToFloat64(rcvr.metrics.rows.WithLabelValues("ec3k", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rcvr.metrics.rows.WithLabelValues("ec3k", "out_of_range")))
	assert.Equal(t, 2.0, testutil.ToFloat64(rcvr.metrics.messages.WithLabelValues("ec3k")))
}

func TestReplayDefaults(t *testing.T) {
	rcvr, enc := newTestReceiver(t)

	// Without samplerate or freqsep the row assumes the receiver's rate and
	// the nominal separation.
	row := gen.NewRow(referencePayload(t), 1000000, 50000)
	line := strings.Fields(row.String())[0]

	require.NoError(t, rcvr.Replay(strings.NewReader(line+"\n")))
	assert.Len(t, enc.msgs, 1)
}

func TestReplayFreqSepOutOfRange(t *testing.T) {
	rcvr, enc := newTestReceiver(t)

	row := gen.NewRow(referencePayload(t), 1000000, 150000)
	require.NoError(t, rcvr.Replay(strings.NewReader(row.String()+"\n")))

	assert.Empty(t, enc.msgs)
	assert.Equal(t, 1.0, testutil.ToFloat64(rcvr.metrics.rows.WithLabelValues("ec3k", "out_of_range")))
}

func TestReplayReadError(t *testing.T) {
	rcvr, _ := newTestReceiver(t)

	err := rcvr.Replay(iotest.ErrReader(errors.New("device unplugged")))
	assert.Error(t, err)
}

func TestReplayFilter(t *testing.T) {
	rcvr, enc := newTestReceiver(t)
	rcvr.fc.Add(MeterIDFilter{UintMap{12: true}})
	rcvr.fc.Add(NewUniqueFilter())

	require.NoError(t, rcvr.Replay(strings.NewReader(rows(t, 14940, 12, 12, 7))))

	require.Len(t, enc.msgs, 1)
	assert.Equal(t, uint32(12), enc.msgs[0].MeterID())

	// Rejected messages still count.
	assert.Equal(t, 4.0, testutil.ToFloat64(rcvr.metrics.messages.WithLabelValues("ec3k")))
}

func TestReplaySingle(t *testing.T) {
	rcvr, enc := newTestReceiver(t)
	rcvr.single = true
	rcvr.pending = make(UintMap)

	require.NoError(t, rcvr.Replay(strings.NewReader(rows(t, 14940, 12))))

	assert.True(t, rcvr.Done())
	require.Len(t, enc.msgs, 1)
	assert.Equal(t, uint32(14940), enc.msgs[0].MeterID())
}

func TestReplaySingleFilterID(t *testing.T) {
	rcvr, enc := newTestReceiver(t)

	pending := UintMap{14940: true, 12: true}
	rcvr.single = true
	rcvr.pending = pending
	rcvr.fc.Add(MeterIDFilter{pending})

	require.NoError(t, rcvr.Replay(strings.NewReader(rows(t, 14940, 14940, 7, 12, 3))))

	assert.True(t, rcvr.Done())

	var ids []uint32
	for _, msg := range enc.msgs {
		ids = append(ids, msg.MeterID())
	}
	assert.Equal(t, []uint32{14940, 12}, ids)
}

func TestHandleRowDump(t *testing.T) {
	rcvr, enc := newTestReceiver(t)

	var dump bytes.Buffer
	rcvr.rowDump = decode.NewRowWriter(&dump)

	row := gen.NewRow(referencePayload(t), 1000000, 48210)
	noise := decode.Row{Bits: []byte{0, 1, 1, 0}, SampleRate: 1000000}

	found, err := rcvr.Handle(row, 512, 1024)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = rcvr.Handle(noise, 0, 0)
	require.NoError(t, err)
	assert.False(t, found)

	assert.Equal(t, row.String()+"\n"+noise.String()+"\n", dump.String())

	require.Len(t, enc.msgs, 1)
	assert.Equal(t, int64(512), enc.msgs[0].Offset)
	assert.Equal(t, 1024, enc.msgs[0].Length)
}

type failingEncoder struct{}

func (failingEncoder) Encode(interface{}) error {
	return errors.New("disk full")
}

func TestHandleEncodeError(t *testing.T) {
	rcvr := new(Receiver)
	require.NoError(t, rcvr.Init(decode.NewPacketConfig(), failingEncoder{}, prometheus.NewRegistry()))

	_, err := rcvr.Handle(gen.NewRow(referencePayload(t), 1000000, 50000), 0, 0)
	assert.Error(t, err)
}

// Samples through the demodulator, dumped as rows and replayed, decode to the
// same messages.
func TestDecodeThenReplay(t *testing.T) {
	cfg := decode.NewPacketConfig()
	d := decode.NewDecoder(cfg)

	var iq []byte
	iq = append(iq, gen.Silence(cfg.GapLimit+2000)...)
	for _, id := range []uint16{14940, 12} {
		row := gen.NewRow(payloadWithID(t, id), cfg.SampleRate, 50000)
		iq = append(iq, gen.Modulate(row.Bits, cfg.SymbolLength, 25000, float64(cfg.SampleRate))...)
		iq = append(iq, gen.Silence(cfg.GapLimit+2000)...)
	}

	var dump bytes.Buffer
	rw := decode.NewRowWriter(&dump)
	for idx := 0; idx < len(iq); idx += cfg.BlockSize2 {
		end := idx + cfg.BlockSize2
		if end > len(iq) {
			end = len(iq)
		}
		for _, row := range d.Decode(iq[idx:end]) {
			require.NoError(t, rw.Write(row))
		}
	}
	for _, row := range d.Flush() {
		require.NoError(t, rw.Write(row))
	}

	rcvr, enc := newTestReceiver(t)
	require.NoError(t, rcvr.Replay(&dump))

	require.Len(t, enc.msgs, 2)
	assert.Equal(t, uint32(14940), enc.msgs[0].MeterID())
	assert.Equal(t, uint32(12), enc.msgs[1].MeterID())
}
