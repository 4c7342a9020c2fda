package csv

import (
	"bytes"
	"encoding/csv"
	"runtime"
	"testing"

	"golang.org/x/xerrors"
)

func TestRecorderNil(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := Encoder{w: csv.NewWriter(buf)}

	if err := enc.Encode(nil); err == nil {
		t.Fatalf("%+v\n", err)
	}
}

type Msg []string

func (m Msg) Record() []string {
	return m
}

func TestRecorder(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := NewEncoder(buf)

	if err := enc.Encode(Msg{"1", "2"}); err != nil {
		t.Fatalf("%+v\n", err)
	}

	if buf.String() != "1,2\n" {
		t.Fatalf("Expected %q got %q\n", "1,2\n", buf.String())
	}
}

func TestHeaderOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := NewEncoder(buf).WithHeader("id", "power")

	for _, m := range []Msg{{"1", "2.5"}, {"3", "0"}} {
		if err := enc.Encode(m); err != nil {
			t.Fatalf("%+v\n", err)
		}
	}

	expected := "id,power\n1,2.5\n3,0\n"
	if buf.String() != expected {
		t.Fatalf("Expected %q got %q\n", expected, buf.String())
	}
}

type NonRecorder struct{}

func TestNonRecorder(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := NewEncoder(buf).WithHeader("unused")

	err := enc.Encode(NonRecorder{})

	var runtimeErr runtime.Error
	if !xerrors.As(err, &runtimeErr) {
		t.Fatalf("%+v\n", err)
	}

	if buf.Len() != 0 {
		t.Fatalf("Expected no output got %q\n", buf.String())
	}
}
