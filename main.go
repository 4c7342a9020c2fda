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

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/bemasher/rtltcp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/bemasher/rtlec3k/decode"
	"github.com/bemasher/rtlec3k/parse"

	_ "github.com/bemasher/rtlec3k/ec3k"
)

// Rows read from a file without a freqsep are assumed to carry the nominal
// +/-25kHz deviation.
const nominalFreqSep = 50000

var rcvr Receiver

type Receiver struct {
	rtltcp.SDR
	d          *decode.Decoder
	dispatcher parse.Dispatcher
	fc         parse.FilterChain
	metrics    *Metrics
	enc        Encoder
	rowDump    *decode.RowWriter

	// With single set, pending holds the ids still to be heard from.
	single  bool
	pending UintMap
	done    bool

	stop chan struct{}
}

// Init prepares the decoder, every registered parser and the metrics. It
// does not touch the radio.
func (rcvr *Receiver) Init(cfg decode.PacketConfig, enc Encoder, reg prometheus.Registerer) error {
	rcvr.d = decode.NewDecoder(cfg)
	rcvr.enc = enc
	rcvr.metrics = NewMetrics(reg)
	rcvr.dispatcher.Observe = rcvr.metrics.Observe
	rcvr.stop = make(chan struct{}, 1)

	for _, name := range parse.Names() {
		p, err := parse.NewParser(name)
		if err != nil {
			return err
		}
		rcvr.dispatcher.Parsers = append(rcvr.dispatcher.Parsers, p)
	}

	return nil
}

func (rcvr *Receiver) NewReceiver() {
	cfg := decode.NewPacketConfig()

	gainFlagSet := false
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "centerfreq":
			cfg.CenterFreq = uint32(rcvr.Flags.CenterFreq)
		case "samplerate":
			cfg.SampleRate = int(rcvr.Flags.SampleRate)
			cfg.GapLimit = 0
		case "gainbyindex", "tunergainmode", "tunergain", "agcmode":
			gainFlagSet = true
		case "unique":
			if *unique {
				rcvr.fc.Add(NewUniqueFilter())
			}
		case "filterid":
			rcvr.fc.Add(meterID)
		}
	})

	rcvr.single = *single
	rcvr.pending = meterID.UintMap

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	if err := rcvr.Init(cfg, encoder, registry); err != nil {
		log.Fatal(err)
	}

	if *metricsListen != "" {
		ServeMetrics(*metricsListen, registry)
	}

	if rowDumpFile != nil {
		rcvr.rowDump = decode.NewRowWriter(rowDumpFile)
	}

	// Replaying rows needs no radio.
	if *rowFilename != "" {
		return
	}

	// Connect to rtl_tcp server.
	if err := rcvr.Connect(nil); err != nil {
		log.Fatal(err)
	}

	if err := rcvr.SDR.HandleFlags(); err != nil {
		log.Fatal(err)
	}

	rcvr.SetCenterFreq(cfg.CenterFreq)
	rcvr.SetSampleRate(uint32(cfg.SampleRate))

	if !gainFlagSet {
		rcvr.SetGainMode(true)
	}

	rcvr.d.Log()

	// Tell the user how many gain settings were reported by rtl_tcp.
	log.Println("GainCount:", rcvr.SDR.Info.GainCount)
}

func (rcvr *Receiver) Close() {
	rcvr.stop <- struct{}{}
	if rcvr.TCPConn != nil {
		rcvr.SDR.Close()
	}
}

// Done reports whether single shot execution has seen everything it waits
// for.
func (rcvr *Receiver) Done() bool {
	return rcvr.done
}

// Handle dispatches a row and encodes every message passing the filter
// chain. Offset and length locate the row's samples in the sample file.
func (rcvr *Receiver) Handle(row decode.Row, offset int64, length int) (found bool, err error) {
	if rcvr.rowDump != nil {
		if err := rcvr.rowDump.Write(row); err != nil {
			return false, errors.Wrap(err, "writing row")
		}
	}

	for _, msg := range rcvr.dispatcher.Dispatch(row) {
		rcvr.metrics.Message(msg)

		// If the filterchain rejects the message, skip it.
		if !rcvr.fc.Match(msg) {
			continue
		}

		var logMsg parse.LogMessage
		logMsg.Time = time.Now()
		logMsg.Offset = offset
		logMsg.Length = length
		logMsg.Type = msg.MsgType()
		logMsg.Message = msg

		if err := rcvr.enc.Encode(logMsg); err != nil {
			return found, errors.Wrap(err, "encoding message")
		}
		found = true

		if rcvr.single {
			if len(rcvr.pending) == 0 {
				rcvr.done = true
				break
			}

			delete(rcvr.pending, uint(msg.MeterID()))
			if len(rcvr.pending) == 0 {
				rcvr.done = true
				break
			}
		}
	}

	return found, nil
}

// Replay handles rows in text form until the input is exhausted. Malformed
// lines are logged and skipped.
func (rcvr *Receiver) Replay(r io.Reader) error {
	rr := decode.NewRowReader(r, decode.Row{
		SampleRate:     rcvr.d.Cfg.SampleRate,
		FreqSeparation: nominalFreqSep,
	})

	for !rcvr.done {
		row, err := rr.Next()
		if err == io.EOF {
			return nil
		}
		if _, ok := err.(*decode.SyntaxError); ok {
			log.Warn(err)
			continue
		}
		if err != nil {
			return err
		}

		if _, err := rcvr.Handle(row, 0, 0); err != nil {
			return err
		}
	}

	return nil
}

func (rcvr *Receiver) Run() {
	// Setup signal channel for interruption.
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)

	// Setup time limit channel
	tLimit := make(<-chan time.Time, 1)
	if *timeLimit != 0 {
		tLimit = time.After(*timeLimit)
	}

	sampleBuf := new(bytes.Buffer)
	start := time.Now()

	// Allocate a channel of blocks.
	blockCh := make(chan []byte)

	// Read and send sample blocks to the decoder.
	go func() {
		// Make two sample blocks, one for reading, and one for the receiver to
		// decode, these are exchanged each time we read a new block.
		blockA := make([]byte, rcvr.d.Cfg.BlockSize2)
		blockB := make([]byte, rcvr.d.Cfg.BlockSize2)

		// When exiting this goroutine, close the block channel.
		defer close(blockCh)

		for {
			select {
			// Exit if we've been told to stop.
			case <-rcvr.stop:
				return
			default:
				// Read new sample block.
				_, err := io.ReadFull(rcvr, blockA)

				// If we get an EOF, exit.
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					log.Println("encountered eof:", err)
					return
				}

				// If we get a network operation error.
				if opErr, ok := err.(*net.OpError); ok {
					// If temporary, keep reading.
					if opErr.Temporary() {
						log.Printf("operr: temporary: %+v\n", opErr)
						continue
					}

					// If it's not temporary, exit.
					log.Printf("operr: %+v\n", opErr)
					return
				}

				// Send the sample block.
				blockCh <- blockA

				// Exchange blocks for next read.
				blockA, blockB = blockB, blockA
			}
		}
	}()

	for {
		// Exit on interrupt or time limit, otherwise receive.
		select {
		case <-sigint:
			return
		case <-tLimit:
			log.Println("Time Limit Reached:", time.Since(start))
			return
		case block, ok := <-blockCh:
			// If blockCh is closed, exit.
			if !ok {
				return
			}

			// If dumping samples, discard the oldest block from the buffer if
			// it's full and write the new block to it.
			if *sampleFilename != os.DevNull {
				if sampleBuf.Len() > rcvr.d.Cfg.BlockSize2 {
					io.CopyN(io.Discard, sampleBuf, int64(len(block)))
				}
				sampleBuf.Write(block)
			}

			pktFound := false

			for _, row := range rcvr.d.Decode(block) {
				offset, _ := sampleFile.Seek(0, io.SeekCurrent)

				found, err := rcvr.Handle(row, offset, sampleBuf.Len())
				if err != nil {
					log.Fatal(err)
				}
				pktFound = pktFound || found

				if rcvr.done {
					break
				}
			}

			if pktFound && *sampleFilename != os.DevNull {
				if _, err := sampleFile.Write(sampleBuf.Bytes()); err != nil {
					log.Fatal("Error writing raw samples to file: ", err)
				}
			}

			if rcvr.done {
				return
			}
		}
	}
}

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
}

var (
	buildTag   = "dev"     // v#.#.#
	buildDate  = "unknown" // date -u '+%Y-%m-%d'
	commitHash = "unknown" // git rev-parse HEAD
)

func main() {
	rcvr.RegisterFlags()
	RegisterFlags()
	flag.Parse()

	// Config file first, then the environment, command line values win.
	set := SetFlags(flag.CommandLine)
	if *configFilename != "" {
		cfg, err := LoadConfig(*configFilename)
		if err != nil {
			log.Fatal(err)
		}
		if err := cfg.Apply(flag.CommandLine, set); err != nil {
			log.Fatal(err)
		}
	}
	EnvOverride(flag.CommandLine, set)

	if *version {
		fmt.Println("Build Tag: ", buildTag)
		fmt.Println("Build Date:", buildDate)
		fmt.Println("Commit:    ", commitHash)
		os.Exit(0)
	}

	HandleFlags()

	rcvr.NewReceiver()

	defer sampleFile.Close()
	defer rcvr.Close()
	if rowDumpFile != nil {
		defer rowDumpFile.Close()
	}

	if *rowFilename == "" {
		rcvr.Run()
		return
	}

	in := os.Stdin
	if *rowFilename != "-" {
		f, err := os.Open(*rowFilename)
		if err != nil {
			log.Fatal("Error opening row file: ", err)
		}
		defer f.Close()
		in = f
	}

	if err := rcvr.Replay(in); err != nil {
		log.Fatal("Error replaying rows: ", err)
	}
}
