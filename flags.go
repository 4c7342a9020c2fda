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
	"encoding/json"
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bemasher/rtlec3k/csv"
	"github.com/bemasher/rtlec3k/ec3k"
	"github.com/bemasher/rtlec3k/parse"
)

const envPrefix = "RTLEC3K_"

var sampleFilename = flag.String("samplefile", os.DevNull, "raw signal dump file")
var sampleFile *os.File

var rowFilename = flag.String("rowfile", "", "replay rows of levels from file instead of receiving, - for stdin")
var rowDumpFilename = flag.String("rowdump", "", "write every demodulated row to file for later replay")
var rowDumpFile *os.File

var timeLimit = flag.Duration("duration", 0, "time to run for, 0 for infinite, ex. 1h5m10s")
var meterID MeterIDFilter

var unique = flag.Bool("unique", false, "suppress duplicate messages from each device")

var encoder Encoder
var format = flag.String("format", "plain", "decoded message output format: plain, csv, json, or xml")

var single = flag.Bool("single", false, "one shot execution, if used with -filterid, will wait for exactly one packet from each device id")

var version = flag.Bool("version", false, "display build date and commit hash")

var logLevel = flag.String("loglevel", "info", "log level: debug, info, warn or error")

var configFilename = flag.String("config", "", "yaml configuration file, command line and environment take precedence")

var mqttCfg MQTTConfig
var metricsListen = flag.String("metrics.listen", "", "serve prometheus metrics on this address, ex. :9100")

var rtlec3kFlags = map[string]bool{
	"samplefile":     true,
	"rowfile":        true,
	"rowdump":        true,
	"duration":       true,
	"filterid":       true,
	"format":         true,
	"unique":         true,
	"single":         true,
	"version":        true,
	"loglevel":       true,
	"config":         true,
	"mqtt.broker":    true,
	"mqtt.topic":     true,
	"mqtt.clientid":  true,
	"mqtt.username":  true,
	"mqtt.password":  true,
	"mqtt.qos":       true,
	"mqtt.retain":    true,
	"metrics.listen": true,
}

func RegisterFlags() {
	meterID = MeterIDFilter{make(UintMap)}

	flag.Var(meterID, "filterid", "display only messages matching an id in a comma-separated list of ids.")

	flag.StringVar(&mqttCfg.Broker, "mqtt.broker", "", "publish messages to an mqtt broker, ex. tcp://localhost:1883")
	flag.StringVar(&mqttCfg.Topic, "mqtt.topic", "rtlec3k", "mqtt topic prefix, messages are published to <topic>/<id>")
	flag.StringVar(&mqttCfg.ClientID, "mqtt.clientid", "", "mqtt client id, random if empty")
	flag.StringVar(&mqttCfg.Username, "mqtt.username", "", "mqtt username")
	flag.StringVar(&mqttCfg.Password, "mqtt.password", "", "mqtt password")
	flag.IntVar(&mqttCfg.QoS, "mqtt.qos", 0, "mqtt quality of service: 0, 1 or 2")
	flag.BoolVar(&mqttCfg.Retain, "mqtt.retain", false, "publish retained messages")

	printDefaults := func(validFlags map[string]bool, inclusion bool) {
		flag.CommandLine.VisitAll(func(f *flag.Flag) {
			if validFlags[f.Name] != inclusion {
				return
			}

			format := "  -%s=%s: %s\n"
			fmt.Fprintf(os.Stderr, format, f.Name, f.Value, f.Usage)
		})
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		printDefaults(rtlec3kFlags, true)

		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "rtltcp specific:")
		printDefaults(rtlec3kFlags, false)
	}
}

// SetFlags returns the names of flags given on the command line.
func SetFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

// EnvName maps a flag name to the environment variable overriding it.
func EnvName(name string) string {
	return envPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(name))
}

// EnvOverride sets flags from the environment, skipping flags given on the
// command line.
func EnvOverride(fs *flag.FlagSet, set map[string]bool) {
	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}

		envName := EnvName(f.Name)
		flagValue := os.Getenv(envName)
		if flagValue == "" {
			return
		}

		if err := fs.Set(f.Name, flagValue); err != nil {
			log.Printf(
				"Environment variable %q failed to override flag %q with value %q: %q\n",
				envName, f.Name, flagValue, err,
			)
		} else {
			log.Printf("Environment variable %q overrides flag %q with %q\n", envName, f.Name, flagValue)
		}
	})
}

func HandleFlags() {
	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal("Error parsing log level: ", err)
	}
	log.SetLevel(level)

	sampleFile, err = os.Create(*sampleFilename)
	if err != nil {
		log.Fatal("Error creating sample file: ", err)
	}

	if *rowDumpFilename != "" {
		rowDumpFile, err = os.Create(*rowDumpFilename)
		if err != nil {
			log.Fatal("Error creating row dump file: ", err)
		}
	}

	encoder, err = NewEncoder(*format, os.Stdout, *sampleFilename)
	if err != nil {
		log.Fatal(err)
	}

	if mqttCfg.Broker != "" {
		pub, err := NewMQTTEncoder(mqttCfg)
		if err != nil {
			log.Fatal(err)
		}
		encoder = MultiEncoder{encoder, pub}
	}
}

// JSON, XML and CSV all implement this interface so we can simplify log
// output formatting.
type Encoder interface {
	Encode(interface{}) error
}

func NewEncoder(format string, w io.Writer, sampleFilename string) (Encoder, error) {
	switch strings.ToLower(format) {
	case "plain":
		return PlainEncoder{w, sampleFilename}, nil
	case "csv":
		header := append([]string{"time", "offset", "length"}, ec3k.Header...)
		return csv.NewEncoder(w).WithHeader(header...), nil
	case "json":
		return json.NewEncoder(w), nil
	case "xml":
		return xml.NewEncoder(w), nil
	}
	return nil, errors.Errorf("invalid format: %q", format)
}

// MultiEncoder encodes every message with each of its encoders in turn.
type MultiEncoder []Encoder

func (me MultiEncoder) Encode(msg interface{}) error {
	for _, enc := range me {
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
	return nil
}

type UintMap map[uint]bool

func (m UintMap) String() (s string) {
	var values []string
	for k := range m {
		values = append(values, strconv.FormatUint(uint64(k), 10))
	}
	sort.Strings(values)
	return strings.Join(values, ",")
}

func (m UintMap) Set(value string) error {
	values := strings.Split(value, ",")

	for _, v := range values {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return err
		}

		m[uint(n)] = true
	}

	return nil
}

type MeterIDFilter struct {
	UintMap
}

func (m MeterIDFilter) Filter(msg parse.Message) bool {
	return m.UintMap[uint(msg.MeterID())]
}

type UniqueFilter map[uint][]byte

func NewUniqueFilter() UniqueFilter {
	return make(UniqueFilter)
}

func (uf UniqueFilter) Filter(msg parse.Message) bool {
	checksum := msg.Checksum()
	mid := uint(msg.MeterID())

	if val, ok := uf[mid]; ok && bytes.Equal(val, checksum) {
		return false
	}

	uf[mid] = make([]byte, len(checksum))
	copy(uf[mid], checksum)
	return true
}

type PlainEncoder struct {
	w              io.Writer
	sampleFilename string
}

func (pe PlainEncoder) Encode(msg interface{}) (err error) {
	if m, ok := msg.(parse.LogMessage); ok && pe.sampleFilename == os.DevNull {
		_, err = fmt.Fprintln(pe.w, m.StringNoOffset())
	} else {
		_, err = fmt.Fprintln(pe.w, msg)
	}
	return
}
