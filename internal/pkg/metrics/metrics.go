package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds all bridge metrics. The HTTP server exposes it on
	// /metrics via Handler().
	Registry = prometheus.NewRegistry()

	// LinkState reports the vehicle link state as a one-hot gauge.
	LinkState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rovlink_link_state",
			Help: "Current vehicle link state (1 for the active state, 0 otherwise).",
		},
		[]string{"state"},
	)

	// LinkReconnectsTotal counts link establishments, including the first.
	LinkReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rovlink_link_reconnects_total",
			Help: "Total number of vehicle link establishments.",
		},
	)

	// FramesReceivedTotal counts well-formed frames decoded from the vehicle.
	FramesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rovlink_frames_received_total",
			Help: "Total number of well-formed frames decoded from the vehicle.",
		},
	)

	// FramesDroppedTotal counts datagram bytes that failed framing or CRC.
	FramesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rovlink_frames_dropped_total",
			Help: "Total number of inbound frames dropped due to framing or checksum errors.",
		},
	)

	// CommandsTotal counts dispatched commands by kind and terminal status.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rovlink_commands_total",
			Help: "Total number of vehicle commands by kind and terminal status.",
		},
		[]string{"kind", "status"},
	)

	// Subscribers reports the number of live telemetry subscribers.
	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rovlink_telemetry_subscribers",
			Help: "Number of connected telemetry subscribers.",
		},
	)

	// BroadcastsTotal counts snapshot broadcast rounds.
	BroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rovlink_telemetry_broadcasts_total",
			Help: "Total number of snapshot broadcast rounds.",
		},
	)

	// StateVersion reports the current aggregated state version.
	StateVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rovlink_state_version",
			Help: "Monotonic version of the aggregated vehicle state.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		LinkState,
		LinkReconnectsTotal,
		FramesReceivedTotal,
		FramesDroppedTotal,
		CommandsTotal,
		Subscribers,
		BroadcastsTotal,
		StateVersion,
	)
}

// Handler returns the /metrics HTTP handler backed by Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetLinkState flips the one-hot link state gauge to the given state.
func SetLinkState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1.0
		}
		LinkState.WithLabelValues(s).Set(v)
	}
}
