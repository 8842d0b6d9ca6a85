// Package metrics exports relay events as Prometheus collectors.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "chat"

// Option configures a Collector.
type Option func(*options)

type options struct {
	namespace   string
	constLabels prometheus.Labels
}

// WithNamespace sets the metrics namespace (default "chat").
func WithNamespace(namespace string) Option {
	return func(o *options) {
		o.namespace = namespace
	}
}

// WithConstLabels adds constant labels to every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(o *options) {
		o.constLabels = labels
	}
}

// Collector implements the relay's Observer on top of Prometheus metrics.
type Collector struct {
	registrations   *prometheus.CounterVec
	activeClients   prometheus.Gauge
	disconnects     *prometheus.CounterVec
	messagesRouted  prometheus.Counter
	deliveries      *prometheus.CounterVec
	attachments     prometheus.Counter
	attachmentBytes prometheus.Counter
}

// New registers the relay metrics with reg.
func New(reg prometheus.Registerer, opts ...Option) *Collector {
	o := options{namespace: defaultNamespace}
	for _, opt := range opts {
		opt(&o)
	}
	factory := promauto.With(reg)

	return &Collector{
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "registrations_total",
			Help:        "Handshakes by reply code",
			ConstLabels: o.constLabels,
		}, []string{"code"}),

		activeClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   o.namespace,
			Name:        "active_clients",
			Help:        "Clients currently registered",
			ConstLabels: o.constLabels,
		}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "disconnects_total",
			Help:        "Registered clients removed, by reason",
			ConstLabels: o.constLabels,
		}, []string{"reason"}),

		messagesRouted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "messages_routed_total",
			Help:        "Chat lines routed",
			ConstLabels: o.constLabels,
		}),

		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "deliveries_total",
			Help:        "Copies handed to recipients, by kind",
			ConstLabels: o.constLabels,
		}, []string{"kind"}),

		attachments: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "attachments_total",
			Help:        "Attachments fully relayed",
			ConstLabels: o.constLabels,
		}),

		attachmentBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "attachment_bytes_total",
			Help:        "Attachment body bytes received from uploaders",
			ConstLabels: o.constLabels,
		}),
	}
}

func (c *Collector) Registered(string) {
	c.registrations.WithLabelValues("200").Inc()
	c.activeClients.Inc()
}

// Rejected counts a failed handshake under the numeric code of its reply.
func (c *Collector) Rejected(reply string) {
	code, _, _ := strings.Cut(reply, " ")
	c.registrations.WithLabelValues(code).Inc()
}

func (c *Collector) Disconnected(_ string, reason string) {
	c.disconnects.WithLabelValues(reason).Inc()
	c.activeClients.Dec()
}

func (c *Collector) Routed(recipients int) {
	c.messagesRouted.Inc()
	c.deliveries.WithLabelValues("message").Add(float64(recipients))
}

func (c *Collector) Attached(recipients int, bytes int64) {
	c.attachments.Inc()
	c.attachmentBytes.Add(float64(bytes))
	c.deliveries.WithLabelValues("attachment").Add(float64(recipients))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
