package decode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bemasher/rtlec3k/decode"
	"github.com/bemasher/rtlec3k/ec3k"
	"github.com/bemasher/rtlec3k/gen"
	"github.com/bemasher/rtlec3k/parse"
)

const deviation = 25000

// signal returns a burst for each row of levels separated by quiet.
func signal(cfg decode.PacketConfig, rows ...[]byte) (iq []byte) {
	quiet := gen.Silence(cfg.GapLimit + 2000)

	iq = append(iq, quiet...)
	for _, levels := range rows {
		iq = append(iq, gen.Modulate(levels, cfg.SymbolLength, deviation, float64(cfg.SampleRate))...)
		iq = append(iq, quiet...)
	}

	return iq
}

// feed passes iq through d in blocks the size the receiver reads.
func feed(d *decode.Decoder, iq []byte) (rows []decode.Row) {
	for len(iq) > 0 {
		n := d.Cfg.BlockSize2
		if n > len(iq) {
			n = len(iq)
		}
		rows = append(rows, d.Decode(iq[:n])...)
		iq = iq[n:]
	}
	return append(rows, d.Flush()...)
}

func TestNewPacketConfig(t *testing.T) {
	cfg := decode.NewPacketConfig()

	assert.Equal(t, uint32(868200000), cfg.CenterFreq)
	assert.Equal(t, 50, cfg.SymbolLength)
	assert.Equal(t, cfg.BlockSize<<1, cfg.BlockSize2)
	assert.Equal(t, 3000, cfg.GapLimit)
}

func TestDecodeLevels(t *testing.T) {
	pkt, err := gen.NewRandEC3K()
	require.NoError(t, err)

	row := gen.NewRow(pkt, 1000000, 0)

	d := decode.NewDecoder(decode.NewPacketConfig())
	rows := feed(d, signal(d.Cfg, row.Bits))

	require.Len(t, rows, 1)
	assert.Equal(t, row.Bits, rows[0].Bits)
	assert.Equal(t, 1000000, rows[0].SampleRate)
	assert.InDelta(t, 2*deviation, rows[0].FreqSeparation, 7500)
}

func TestDecodeEC3K(t *testing.T) {
	var (
		pkts   [][]byte
		levels [][]byte
	)
	for i := 0; i < 3; i++ {
		pkt, err := gen.NewRandEC3K()
		require.NoError(t, err)

		pkts = append(pkts, pkt)
		levels = append(levels, gen.NewRow(pkt, 1000000, 0).Bits)
	}

	d := decode.NewDecoder(decode.NewPacketConfig())
	rows := feed(d, signal(d.Cfg, levels...))
	require.Len(t, rows, len(pkts))

	dispatcher := parse.Dispatcher{Parsers: []parse.Parser{ec3k.NewParser()}}
	for idx, row := range rows {
		msgs := dispatcher.Dispatch(row)
		require.Len(t, msgs, 1)

		tel := msgs[0].(ec3k.Telemetry)
		assert.Equal(t, ec3k.NewTelemetry(ec3k.NewFields(pkts[idx])), tel)
	}
}

// A burst still in progress at the end of a block is carried into the next.
func TestDecodeAcrossBlocks(t *testing.T) {
	pkt, err := gen.NewRandEC3K()
	require.NoError(t, err)

	row := gen.NewRow(pkt, 1000000, 0)

	cfg := decode.NewPacketConfig()
	cfg.BlockSize = 1000
	d := decode.NewDecoder(cfg)

	rows := feed(d, signal(d.Cfg, row.Bits))
	require.Len(t, rows, 1)
	assert.Equal(t, row.Bits, rows[0].Bits)
}

func TestFlush(t *testing.T) {
	d := decode.NewDecoder(decode.NewPacketConfig())

	levels := []byte{1, 0, 1, 1, 0, 0, 0, 1, 0, 1}
	iq := append(gen.Silence(100), gen.Modulate(levels, d.Cfg.SymbolLength, deviation, float64(d.Cfg.SampleRate))...)

	assert.Empty(t, d.Decode(iq))

	rows := d.Flush()
	require.Len(t, rows, 1)
	assert.Equal(t, levels, rows[0].Bits)

	assert.Empty(t, d.Flush())
}

func TestShortBurst(t *testing.T) {
	d := decode.NewDecoder(decode.NewPacketConfig())

	iq := gen.Modulate([]byte{1}, d.Cfg.SymbolLength/2, deviation, float64(d.Cfg.SampleRate))
	iq = append(iq, gen.Silence(d.Cfg.GapLimit)...)

	assert.Empty(t, d.Decode(iq))
}

func TestSilence(t *testing.T) {
	d := decode.NewDecoder(decode.NewPacketConfig())
	assert.Empty(t, feed(d, gen.Silence(100000)))
}

func TestQuantize(t *testing.T) {
	input := []float64{}
	for _, run := range []struct {
		v float64
		n int
	}{{1, 48}, {-1, 101}, {1, 26}, {-1, 24}, {1, 150}} {
		for i := 0; i < run.n; i++ {
			input = append(input, run.v)
		}
	}

	bits := decode.Quantize(input, 0, 50, 2048)
	assert.Equal(t, []byte{1, 0, 0, 1, 1, 1, 1}, bits)

	assert.Len(t, decode.Quantize(input, 0, 50, 3), 3)
	assert.Empty(t, decode.Quantize(nil, 0, 50, 2048))
}

func TestIQLUT(t *testing.T) {
	lut := decode.NewIQLUT()

	assert.InDelta(t, -1.0, lut[0], 1e-12)
	assert.InDelta(t, 1.0, lut[255], 1e-12)
	assert.InDelta(t, -lut[127], lut[128], 1e-12)
}

func BenchmarkDecode(b *testing.B) {
	d := decode.NewDecoder(decode.NewPacketConfig())

	pkt, err := gen.NewRandEC3K()
	if err != nil {
		b.Fatal(err)
	}
	iq := signal(d.Cfg, gen.NewRow(pkt, 1000000, 0).Bits)
	if len(iq) > d.Cfg.BlockSize2 {
		iq = iq[:d.Cfg.BlockSize2]
	}

	b.SetBytes(int64(len(iq)))
	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		d.Decode(iq)
	}
}

func BenchmarkFilter(b *testing.B) {
	d := decode.NewDecoder(decode.NewPacketConfig())
	input := make([]float64, d.Cfg.BlockSize)

	b.SetBytes(int64(len(input)))
	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		d.Filter(input, d.Cfg.SymbolLength>>2)
	}
}
