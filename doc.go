/*
RTLEC3K is an rtl-sdr receiver for EnergyCount 3000 (EC3K) energy loggers
transmitting in the 868MHz SRD band.

Command-line Flags:

	-centerfreq=868200000

Sets the center frequency of the rtl_tcp server. Defaults to 868.2MHz.

	-samplerate=1000000

Sets the sample rate. Each bit lasts SampleRate / 20000 samples. Defaults to
1MHz.

	-duration=0

Sets time to receive for, 0 for infinite. If the time limit expires during
processing of a block it will exit on the next pass through the receive loop.

	-filterid=1234,5678

Display only messages from the given device ids. Any other messages are
silently ignored. Defaults to no filtering.

	-unique=false

Suppress a message if the previous message from the same device carried the
same checksum.

	-single=false

Provides one shot execution. Without -filterid the receiver exits after the
first message, with it the receiver waits for one message from each id.

	-format="plain"

Sets the output format: plain, csv, json or xml. Plain text looks like:

	{Time:2015-06-20T11:03:27.123 EC3K:{ID:14940 Power:  123.4 Energy:  154.433238 TimeTotal:   70196 TimeOn:    2748 PowerMax:  400.0 Resets:  5 On:true CRC:0xF5E5}}

Plain text omits offset and length fields unless dumping samples to file. Csv
output begins with a header row. For json and xml output each line is an
element, there is no root node.

	-samplefile="/dev/null"

Sets file to dump samples of blocks containing decoded messages to. Samples
are interleaved in-phase and quadrature unsigned bytes, unmodified output from
the dongle.

	-rowdump=""

Write every demodulated burst to file as a row of levels, one per line:

	0110...0 samplerate=1000000 freqsep=48210

	-rowfile=""

Decode rows from file instead of receiving, - reads stdin. Rows lacking
samplerate or freqsep assume 1MHz and 50kHz.

	-config=""

Read flag values from a yaml file:

	server: 127.0.0.1:1234
	format: json
	filterid: [14940]
	duration: 1h
	mqtt:
	  broker: tcp://localhost:1883
	  topic: home/energy
	metrics:
	  listen: :9100

Every flag can also be set from the environment as RTLEC3K_<FLAG>, with dots
replaced by underscores, ex. RTLEC3K_MQTT_BROKER. The command line overrides
the environment which overrides the config file.

	-mqtt.broker=""

Publish each message as json to <mqtt.topic>/<id>.

	-metrics.listen=""

Serve prometheus metrics on the given address under /metrics.

	-loglevel="info"

Set to debug to log the reason each row was rejected.
*/
package main
