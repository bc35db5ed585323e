package metrics

import (
	"net/http"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements port.CallMetrics using Prometheus
type PrometheusCollector struct {
	registry *prometheus.Registry

	// Peer link metrics
	activeLinks   prometheus.Gauge
	linksOpened   *prometheus.CounterVec
	linksClosed   *prometheus.CounterVec
	negotiations  *prometheus.CounterVec
	bufferedCands prometheus.Counter

	// Signaling metrics
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	messagesStale    *prometheus.CounterVec
	malformed        prometheus.Counter

	// Media metrics
	trackReplacements *prometheus.CounterVec
}

// NewPrometheusCollector registers the call metrics, plus the Go and
// process collectors, on a dedicated registry.
func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		activeLinks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_active_peer_links",
			Help: "Number of open peer links",
		}),

		linksOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshcall_peer_links_opened_total",
				Help: "Total number of peer links opened",
			},
			[]string{"role"},
		),

		linksClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshcall_peer_links_closed_total",
				Help: "Total number of peer links closed",
			},
			[]string{"reason"},
		),

		negotiations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshcall_negotiations_completed_total",
				Help: "Total number of offer/answer exchanges that reached stable",
			},
			[]string{"role"},
		),

		bufferedCands: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_ice_candidates_buffered_total",
			Help: "Total number of remote ICE candidates held until a remote description was set",
		}),

		messagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshcall_signaling_messages_sent_total",
				Help: "Total number of signaling messages sent",
			},
			[]string{"message_type"},
		),

		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshcall_signaling_messages_received_total",
				Help: "Total number of signaling messages received",
			},
			[]string{"message_type"},
		),

		messagesStale: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshcall_signaling_messages_stale_total",
				Help: "Total number of signaling messages dropped as stale",
			},
			[]string{"message_type"},
		),

		malformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_signaling_messages_malformed_total",
			Help: "Total number of inbound relay frames dropped as malformed",
		}),

		trackReplacements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshcall_video_source_switches_total",
				Help: "Total number of outbound video source switches",
			},
			[]string{"source"},
		),
	}
}

func (c *PrometheusCollector) PeerLinkOpened(role domain.Role) {
	c.linksOpened.WithLabelValues(role.String()).Inc()
	c.activeLinks.Inc()
}

func (c *PrometheusCollector) PeerLinkClosed(reason domain.CloseReason) {
	c.linksClosed.WithLabelValues(reason.String()).Inc()
	c.activeLinks.Dec()
}

func (c *PrometheusCollector) NegotiationCompleted(role domain.Role) {
	c.negotiations.WithLabelValues(role.String()).Inc()
}

func (c *PrometheusCollector) SignalSent(t domain.MessageType) {
	c.messagesSent.WithLabelValues(string(t)).Inc()
}

func (c *PrometheusCollector) SignalReceived(t domain.MessageType) {
	c.messagesReceived.WithLabelValues(string(t)).Inc()
}

func (c *PrometheusCollector) StaleSignalDropped(t domain.MessageType) {
	c.messagesStale.WithLabelValues(string(t)).Inc()
}

func (c *PrometheusCollector) MalformedDropped() {
	c.malformed.Inc()
}

func (c *PrometheusCollector) CandidatesBuffered(n int) {
	c.bufferedCands.Add(float64(n))
}

func (c *PrometheusCollector) TrackReplaced(source domain.VideoSource) {
	c.trackReplacements.WithLabelValues(source.String()).Inc()
}

// Handler returns an HTTP handler for metrics endpoint
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
