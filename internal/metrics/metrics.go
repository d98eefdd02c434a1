package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every smsbridge collector; health serves it on /metrics.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	SendsAccepted = factory.NewCounter(prometheus.CounterOpts{
		Name: "smsbridge_sends_accepted_total",
		Help: "Send requests handed to the transport.",
	})
	SendsRejected = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "smsbridge_sends_rejected_total",
		Help: "Send requests refused before or during submission, by reason.",
	}, []string{"reason"})
	StatusEvents = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "smsbridge_status_events_total",
		Help: "Status transitions published, by status.",
	}, []string{"status"})
	EventsDropped = factory.NewCounter(prometheus.CounterOpts{
		Name: "smsbridge_status_events_dropped_total",
		Help: "Status events published while no subscriber was attached.",
	})
	LateSignals = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "smsbridge_late_signals_total",
		Help: "Completion signals for ids no longer tracked, by kind.",
	}, []string{"kind"})
	trackedRecords = factory.NewGauge(prometheus.GaugeOpts{
		Name: "smsbridge_tracked_records",
		Help: "Sends currently awaiting a terminal status.",
	})
	channelSessions = factory.NewGauge(prometheus.GaugeOpts{
		Name: "smsbridge_channel_sessions",
		Help: "Open channel websocket sessions.",
	})
	queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Name: "smsbridge_gateway_queue_depth",
		Help: "Gateway submissions waiting for a worker.",
	})
)

// SetTracked records the number of live tracking records.
func SetTracked(n int) {
	trackedRecords.Set(float64(n))
}

// IncSessions increments the open session gauge.
func IncSessions() {
	channelSessions.Inc()
}

// DecSessions decrements the open session gauge.
func DecSessions() {
	channelSessions.Dec()
}

// SetQueueDepth records the number of waiting gateway submissions.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
