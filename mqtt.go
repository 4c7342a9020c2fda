package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bemasher/rtlec3k/parse"
)

const publishTimeout = 5 * time.Second

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientid"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEncoder publishes each message as json to <topic>/<id>. Publish
// failures are logged and otherwise ignored.
type MQTTEncoder struct {
	client publisher
	cfg    MQTTConfig
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "rtlec3k_" + hex.EncodeToString(b)
}

func NewMQTTEncoder(cfg MQTTConfig) (*MQTTEncoder, error) {
	if cfg.Topic == "" {
		return nil, errors.New("mqtt.topic is required when mqtt.broker is set")
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, errors.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.QoS)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	if cfg.ClientID == "" {
		cfg.ClientID = generateClientID()
	}
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connecting to mqtt broker %s", cfg.Broker)
	}

	return &MQTTEncoder{client, cfg}, nil
}

func (me *MQTTEncoder) Topic(msg parse.Message) string {
	return strings.TrimSuffix(me.cfg.Topic, "/") + "/" + strconv.FormatUint(uint64(msg.MeterID()), 10)
}

func (me *MQTTEncoder) Encode(v interface{}) error {
	var msg parse.Message
	switch m := v.(type) {
	case parse.LogMessage:
		msg = m.Message
	case parse.Message:
		msg = m
	default:
		return errors.Errorf("mqtt: cannot publish %T", v)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "mqtt: marshaling message")
	}

	topic := me.Topic(msg)
	token := me.client.Publish(topic, byte(me.cfg.QoS), me.cfg.Retain, data)

	if !token.WaitTimeout(publishTimeout) {
		log.WithField("topic", topic).Warn("MQTT: publish timed out")
	} else if err := token.Error(); err != nil {
		log.WithField("topic", topic).WithError(err).Warn("MQTT: publish failed")
	}

	return nil
}
