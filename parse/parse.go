package parse

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bemasher/rtlec3k/csv"
	"github.com/bemasher/rtlec3k/decode"
)

const (
	TimeFormat = "2006-01-02T15:04:05.000"
)

// Reasons a row produces no message. None of these are faults, noise and
// partial frames are the normal state of a radio channel.
var (
	ErrOutOfRange = errors.New("row out of range")
	ErrNoFrame    = errors.New("no frame found")
	ErrChecksum   = errors.New("checksum mismatch")
	ErrPadding    = errors.New("padding violation")
)

// Reason maps a parse result to a short label for logging and metrics.
func Reason(err error) string {
	switch errors.Cause(err) {
	case nil:
		return "accepted"
	case ErrOutOfRange:
		return "out_of_range"
	case ErrNoFrame:
		return "no_frame"
	case ErrChecksum:
		return "checksum"
	case ErrPadding:
		return "padding"
	}
	return "error"
}

var (
	parserMutex sync.Mutex
	parsers     = make(map[string]NewParserFunc)
)

type NewParserFunc func() Parser

// Given a name and a parser, register a parser for use.
// Later used by underscore importing each parser package:
//
//	import _ "github.com/bemasher/rtlec3k/ec3k"
func Register(name string, parserFn NewParserFunc) {
	parserMutex.Lock()
	defer parserMutex.Unlock()

	if parserFn == nil {
		panic("parser: new parser func is nil")
	}
	if _, dup := parsers[name]; dup {
		panic(fmt.Sprintf("parser: parser already registered (%s)", name))
	}
	parsers[name] = parserFn
}

func NewParser(name string) (Parser, error) {
	parserMutex.Lock()
	defer parserMutex.Unlock()

	if parserFn, exists := parsers[name]; exists {
		return parserFn(), nil
	}
	return nil, errors.Errorf("invalid message type: %q", name)
}

// Names lists registered protocols in sorted order.
func Names() (names []string) {
	parserMutex.Lock()
	defer parserMutex.Unlock()

	for name := range parsers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Limits describe the rows a parser is willing to look at. Bit counts are
// given at ReferenceRate and scale linearly with the row's sample rate.
// Bounds are inclusive.
type Limits struct {
	MinBits, MaxBits       int
	ReferenceRate          int
	MinFreqSep, MaxFreqSep float64
}

func (l Limits) Check(row decode.Row) error {
	minBits := l.MinBits * row.SampleRate / l.ReferenceRate
	maxBits := l.MaxBits * row.SampleRate / l.ReferenceRate

	if n := row.Len(); n < minBits || n > maxBits {
		return errors.Wrapf(ErrOutOfRange, "%d bits outside [%d, %d]", n, minBits, maxBits)
	}

	// Frequency separation is compared rounded to the nearest Hz.
	sep := float64(int64(row.FreqSeparation + 0.5))
	if sep < l.MinFreqSep || sep > l.MaxFreqSep {
		return errors.Wrapf(ErrOutOfRange, "frequency separation %.0f outside [%.0f, %.0f]", sep, l.MinFreqSep, l.MaxFreqSep)
	}

	return nil
}

// A Parser converts a row into at most one message per frame it carries.
type Parser interface {
	Name() string
	Limits() Limits
	Parse(decode.Row) ([]Message, error)
}

type Message interface {
	csv.Recorder
	MsgType() string
	MeterID() uint32
	Checksum() []byte
}

// Dispatcher hands each row to every parser whose limits it satisfies.
type Dispatcher struct {
	Parsers []Parser

	// Observe is called once per parser per row with the protocol name and
	// the Reason for the outcome.
	Observe func(protocol, reason string)
}

func (d Dispatcher) Dispatch(row decode.Row) (msgs []Message) {
	for _, p := range d.Parsers {
		err := p.Limits().Check(row)

		var parsed []Message
		if err == nil {
			parsed, err = p.Parse(row)
		}

		if d.Observe != nil {
			d.Observe(p.Name(), Reason(err))
		}

		if err != nil {
			log.WithFields(log.Fields{
				"protocol": p.Name(),
				"bits":     row.Len(),
				"freqsep":  int64(row.FreqSeparation),
			}).Debug(err)
			continue
		}

		msgs = append(msgs, parsed...)
	}

	return msgs
}

// A LogMessage associates a message with a point in time and an offset and
// length into a binary sample file.
type LogMessage struct {
	Time   time.Time `xml:",attr"`
	Offset int64     `xml:",attr"`
	Length int       `xml:",attr"`
	Type   string    `xml:",attr"`
	Message
}

func (msg LogMessage) String() string {
	return fmt.Sprintf("{Time:%s Offset:%d Length:%d %s:%s}",
		msg.Time.Format(TimeFormat), msg.Offset, msg.Length, msg.MsgType(), msg.Message,
	)
}

func (msg LogMessage) StringNoOffset() string {
	return fmt.Sprintf("{Time:%s %s:%s}", msg.Time.Format(TimeFormat), msg.MsgType(), msg.Message)
}

func (msg LogMessage) Record() (r []string) {
	r = append(r, msg.Time.Format(time.RFC3339Nano))
	r = append(r, strconv.FormatInt(msg.Offset, 10))
	r = append(r, strconv.FormatInt(int64(msg.Length), 10))
	r = append(r, msg.Message.Record()...)
	return r
}

// A FilterChain takes a list of filters and applies them iteratively to
// messages sent through the chain.
type FilterChain []MessageFilter

func (fc *FilterChain) Add(filter MessageFilter) {
	*fc = append(*fc, filter)
}

func (fc FilterChain) Match(msg Message) bool {
	if len(fc) == 0 {
		return true
	}

	for _, filter := range fc {
		if !filter.Filter(msg) {
			return false
		}
	}

	return true
}

type MessageFilter interface {
	Filter(Message) bool
}
