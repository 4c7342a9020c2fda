package csv

import (
	"encoding/csv"
	"io"

	"golang.org/x/xerrors"
)

// Produces a list of fields making up a record.
type Recorder interface {
	Record() []string
}

// An Encoder writes CSV records to an output stream.
type Encoder struct {
	w      *csv.Writer
	header []string
}

// NewEncoder returns a new encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: csv.NewWriter(w)}
}

// WithHeader returns an encoder which writes header once, before the first
// record.
func (enc *Encoder) WithHeader(header ...string) *Encoder {
	enc.header = header
	return enc
}

// Encode writes a CSV record representing v to the stream followed by a
// newline character. Value given must implement the Recorder interface.
func (enc *Encoder) Encode(v interface{}) (err error) {
	defer func() {
		if r, _ := recover().(error); r != nil {
			err = xerrors.Errorf("recovered: %w", r)
		}
	}()

	record := v.(Recorder).Record()

	if enc.header != nil {
		if err = enc.w.Write(enc.header); err != nil {
			return xerrors.Errorf("writing header: %w", err)
		}
		enc.header = nil
	}

	if err = enc.w.Write(record); err != nil {
		return xerrors.Errorf("writing record: %w", err)
	}
	enc.w.Flush()

	return enc.w.Error()
}
