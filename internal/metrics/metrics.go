package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RelaySendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evrelay_relay_sends_total",
			Help: "Relay send outcomes by topic and result",
		},
		[]string{"topic", "result"}, // sent|retry|dead_letter
	)

	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "evrelay_outbox_pending",
			Help: "PENDING outbox rows at the last relay tick",
		},
	)

	ConsumerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evrelay_consumer_messages_total",
			Help: "Dispatcher outcomes by topic and result",
		},
		[]string{"topic", "result"}, // handled|no_handler|duplicate|retried|dead_letter
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evrelay_dead_letters_total",
			Help: "Dead-letter records persisted by failure source",
		},
		[]string{"source"}, // OUTBOX_PUBLISH|KAFKA_CONSUMER
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		RelaySendsTotal,
		OutboxPending,
		ConsumerMessagesTotal,
		DeadLettersTotal,
	)
}
