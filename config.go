package main

import (
	"flag"
	"io"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config mirrors the command line flags for use from a yaml file. Zero values
// leave the corresponding flag alone.
type Config struct {
	Server     string        `yaml:"server"`
	CenterFreq string        `yaml:"centerfreq"`
	SampleRate string        `yaml:"samplerate"`
	Format     string        `yaml:"format"`
	FilterID   []uint        `yaml:"filterid"`
	Unique     bool          `yaml:"unique"`
	Single     bool          `yaml:"single"`
	Duration   time.Duration `yaml:"duration"`
	RowFile    string        `yaml:"rowfile"`
	RowDump    string        `yaml:"rowdump"`
	SampleFile string        `yaml:"samplefile"`
	LogLevel   string        `yaml:"loglevel"`

	MQTT    MQTTConfig    `yaml:"mqtt"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

func LoadConfig(path string) (cfg Config, err error) {
	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "opening config")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrapf(err, "parsing config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (cfg Config) Validate() error {
	switch strings.ToLower(cfg.Format) {
	case "", "plain", "csv", "json", "xml":
	default:
		return errors.Errorf("format must be one of plain, csv, json or xml, got %q", cfg.Format)
	}

	if cfg.LogLevel != "" {
		if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
			return errors.Wrap(err, "loglevel")
		}
	}

	if cfg.Duration < 0 {
		return errors.New("duration must be >= 0")
	}

	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return errors.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}

	if cfg.MQTT.Broker != "" {
		u, err := url.Parse(cfg.MQTT.Broker)
		if err != nil {
			return errors.Wrap(err, "mqtt.broker")
		}
		if u.Scheme == "" || u.Host == "" {
			return errors.Errorf("mqtt.broker must be a url, ex. tcp://localhost:1883, got %q", cfg.MQTT.Broker)
		}
	}

	return nil
}

// Flags returns flag values for every field set in the config.
func (cfg Config) Flags() map[string]string {
	values := make(map[string]string)

	setString := func(name, v string) {
		if v != "" {
			values[name] = v
		}
	}
	setBool := func(name string, v bool) {
		if v {
			values[name] = "true"
		}
	}

	setString("server", cfg.Server)
	setString("centerfreq", cfg.CenterFreq)
	setString("samplerate", cfg.SampleRate)
	setString("format", cfg.Format)
	setBool("unique", cfg.Unique)
	setBool("single", cfg.Single)
	setString("rowfile", cfg.RowFile)
	setString("rowdump", cfg.RowDump)
	setString("samplefile", cfg.SampleFile)
	setString("loglevel", cfg.LogLevel)

	if len(cfg.FilterID) > 0 {
		ids := make([]string, len(cfg.FilterID))
		for idx, id := range cfg.FilterID {
			ids[idx] = strconv.FormatUint(uint64(id), 10)
		}
		values["filterid"] = strings.Join(ids, ",")
	}

	if cfg.Duration > 0 {
		values["duration"] = cfg.Duration.String()
	}

	setString("mqtt.broker", cfg.MQTT.Broker)
	setString("mqtt.topic", cfg.MQTT.Topic)
	setString("mqtt.clientid", cfg.MQTT.ClientID)
	setString("mqtt.username", cfg.MQTT.Username)
	setString("mqtt.password", cfg.MQTT.Password)
	if cfg.MQTT.QoS > 0 {
		values["mqtt.qos"] = strconv.Itoa(cfg.MQTT.QoS)
	}
	setBool("mqtt.retain", cfg.MQTT.Retain)

	setString("metrics.listen", cfg.Metrics.Listen)

	return values
}

// Apply sets flags from the config, skipping flags given on the command line.
func (cfg Config) Apply(fs *flag.FlagSet, set map[string]bool) error {
	values := cfg.Flags()

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if set[name] {
			continue
		}

		if fs.Lookup(name) == nil {
			return errors.Errorf("config sets unknown flag %q", name)
		}

		if err := fs.Set(name, values[name]); err != nil {
			return errors.Wrapf(err, "config value for %q", name)
		}
	}

	return nil
}
