package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for the client core. Each Registry owns
// its own prometheus.Registry so several can live in one process (tests).
type Registry struct {
	Prometheus *prometheus.Registry

	// Channel Metrics
	ChannelConnects        prometheus.Counter
	ChannelReconnects      prometheus.Counter
	ChannelUnableToConnect prometheus.Counter
	ChannelState           prometheus.Gauge
	LivenessTimeouts       prometheus.Counter
	MessagesIn             *prometheus.CounterVec
	MessagesOut            *prometheus.CounterVec
	MessagesMalformed      prometheus.Counter
	SendsDropped           prometheus.Counter

	// Clock Metrics
	ClockOffsetMs    prometheus.Gauge
	ClockSamples     prometheus.Counter
	ClockStaleEchoes prometheus.Counter

	// World Metrics
	StaleUpdatesDropped  *prometheus.CounterVec
	LocalActionsRejected *prometheus.CounterVec
	PlayersTracked       prometheus.Gauge
	AirportsTracked      prometheus.Gauge
}

// New initializes and returns a Registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Registry{
		Prometheus: reg,

		ChannelConnects: f.NewCounter(prometheus.CounterOpts{
			Name: "skycargo_channel_connects_total",
			Help: "Successful websocket handshakes",
		}),
		ChannelReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "skycargo_channel_reconnects_total",
			Help: "Reconnect attempts scheduled after a recoverable close",
		}),
		ChannelUnableToConnect: f.NewCounter(prometheus.CounterOpts{
			Name: "skycargo_channel_unable_to_connect_total",
			Help: "Unrecoverable closes that stopped the reconnect loop",
		}),
		ChannelState: f.NewGauge(prometheus.GaugeOpts{
			Name: "skycargo_channel_state",
			Help: "Current channel state (0 connecting, 1 open, 2 closed clean, 3 closed error, 4 reconnecting)",
		}),
		LivenessTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "skycargo_channel_liveness_timeouts_total",
			Help: "Connections force-closed because no ping arrived in time",
		}),
		MessagesIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "skycargo_messages_in_total",
			Help: "Inbound envelopes by stream",
		}, []string{"stream"}),
		MessagesOut: f.NewCounterVec(prometheus.CounterOpts{
			Name: "skycargo_messages_out_total",
			Help: "Outbound envelopes by type",
		}, []string{"type"}),
		MessagesMalformed: f.NewCounter(prometheus.CounterOpts{
			Name: "skycargo_messages_malformed_total",
			Help: "Inbound frames discarded as malformed",
		}),
		SendsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "skycargo_sends_dropped_total",
			Help: "Outbound envelopes dropped because the channel was not open",
		}),

		ClockOffsetMs: f.NewGauge(prometheus.GaugeOpts{
			Name: "skycargo_clock_offset_ms",
			Help: "Smoothed offset between server and local clock",
		}),
		ClockSamples: f.NewCounter(prometheus.CounterOpts{
			Name: "skycargo_clock_samples_total",
			Help: "Round-trip samples folded into the clock offset",
		}),
		ClockStaleEchoes: f.NewCounter(prometheus.CounterOpts{
			Name: "skycargo_clock_stale_echoes_total",
			Help: "Time sync echoes that matched no pending request",
		}),

		StaleUpdatesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "skycargo_stale_updates_dropped_total",
			Help: "Position updates older than the last applied one",
		}, []string{"entity"}),
		LocalActionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "skycargo_local_actions_rejected_total",
			Help: "Local plane actions refused because of the plane's state",
		}, []string{"action"}),
		PlayersTracked: f.NewGauge(prometheus.GaugeOpts{
			Name: "skycargo_players_tracked",
			Help: "Players currently held by the reconciler",
		}),
		AirportsTracked: f.NewGauge(prometheus.GaugeOpts{
			Name: "skycargo_airports_tracked",
			Help: "Airports currently held by the reconciler",
		}),
	}
}
