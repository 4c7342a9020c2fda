package decode

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Row is a burst of binary levels, one per bit period, as produced by the
// demodulator. SampleRate is the rate the burst was captured at and
// FreqSeparation is the estimated distance between the two FSK tones in Hz.
type Row struct {
	Bits           []byte
	SampleRate     int
	FreqSeparation float64
}

func (r Row) Len() int {
	return len(r.Bits)
}

// String formats the row the way RowReader expects it:
//
//	0110...0 samplerate=1000000 freqsep=48000
func (r Row) String() string {
	var b strings.Builder
	b.Grow(len(r.Bits) + 40)

	for _, bit := range r.Bits {
		b.WriteByte('0' + bit&1)
	}
	b.WriteString(" samplerate=")
	b.WriteString(strconv.Itoa(r.SampleRate))
	b.WriteString(" freqsep=")
	b.WriteString(strconv.FormatFloat(r.FreqSeparation, 'f', -1, 64))

	return b.String()
}

// ParseRow parses a single row in text form. Keys missing from the line are
// taken from def.
func ParseRow(line string, def Row) (row Row, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return row, errors.New("empty row")
	}

	row.SampleRate = def.SampleRate
	row.FreqSeparation = def.FreqSeparation

	row.Bits = make([]byte, len(fields[0]))
	for idx, c := range fields[0] {
		switch c {
		case '0':
		case '1':
			row.Bits[idx] = 1
		default:
			return row, errors.Errorf("invalid level %q at column %d", c, idx)
		}
	}

	for _, field := range fields[1:] {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return row, errors.Errorf("malformed field %q", field)
		}

		switch kv[0] {
		case "samplerate":
			row.SampleRate, err = strconv.Atoi(kv[1])
		case "freqsep":
			row.FreqSeparation, err = strconv.ParseFloat(kv[1], 64)
		default:
			err = errors.Errorf("unknown key %q", kv[0])
		}

		if err != nil {
			return row, errors.Wrapf(err, "field %q", field)
		}
	}

	return row, nil
}

// A SyntaxError describes a malformed row.
type SyntaxError struct {
	Line int
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// RowReader reads rows in text form, one per line. Blank lines and lines
// starting with '#' are skipped.
type RowReader struct {
	s    *bufio.Scanner
	def  Row
	line int
}

func NewRowReader(r io.Reader, def Row) *RowReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), 1<<20)

	return &RowReader{s: s, def: def}
}

// Next returns the next row or io.EOF once the input is exhausted. A
// malformed line yields a *SyntaxError and reading may continue.
func (rr *RowReader) Next() (Row, error) {
	for rr.s.Scan() {
		rr.line++

		line := strings.TrimSpace(rr.s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		row, err := ParseRow(line, rr.def)
		if err != nil {
			return row, &SyntaxError{rr.line, err}
		}

		return row, nil
	}

	if err := rr.s.Err(); err != nil {
		return Row{}, errors.Wrap(err, "reading rows")
	}

	return Row{}, io.EOF
}

// RowWriter writes rows in text form.
type RowWriter struct {
	w *bufio.Writer
}

func NewRowWriter(w io.Writer) *RowWriter {
	return &RowWriter{bufio.NewWriter(w)}
}

func (rw *RowWriter) Write(row Row) error {
	if _, err := rw.w.WriteString(row.String() + "\n"); err != nil {
		return err
	}
	return rw.w.Flush()
}
