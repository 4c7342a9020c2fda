package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/bemasher/rtlec3k/ec3k"
	"github.com/bemasher/rtlec3k/parse"
)

// Metrics counts rows by outcome and tracks the latest reading of each
// device.
type Metrics struct {
	rows     *prometheus.CounterVec
	messages *prometheus.CounterVec
	power    *prometheus.GaugeVec
	energy   *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		rows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtlec3k_rows_total",
				Help: "Rows handed to each protocol by outcome",
			},
			[]string{"protocol", "reason"},
		),
		messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtlec3k_messages_total",
				Help: "Messages decoded",
			},
			[]string{"protocol"},
		),
		power: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rtlec3k_power_watts",
				Help: "Last reported power draw",
			},
			[]string{"id"},
		),
		energy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rtlec3k_energy_kwh",
				Help: "Last reported energy counter",
			},
			[]string{"id"},
		),
	}
}

func (m *Metrics) Observe(protocol, reason string) {
	m.rows.WithLabelValues(protocol, reason).Inc()
}

func (m *Metrics) Message(msg parse.Message) {
	m.messages.WithLabelValues(strings.ToLower(msg.MsgType())).Inc()

	tel, ok := msg.(ec3k.Telemetry)
	if !ok {
		return
	}

	id := strconv.FormatUint(uint64(tel.ID), 10)
	m.power.WithLabelValues(id).Set(tel.Power)
	m.energy.WithLabelValues(id).Set(tel.Energy)
}

// ServeMetrics exposes g on addr under /metrics.
func ServeMetrics(addr string, g prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	go func() {
		log.Println("Serving metrics on", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatal("Error serving metrics: ", err)
		}
	}()
}
