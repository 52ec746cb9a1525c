package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks broker and matchmaker activity.
type Collector struct {
	Published      *prometheus.CounterVec
	Consumed       *prometheus.CounterVec
	Dispatched     *prometheus.CounterVec
	DispatchErrors *prometheus.CounterVec
	Acked          prometheus.Counter
	Rejected       prometheus.Counter
	RepliesSent    *prometheus.CounterVec
	ReplyTimeouts  prometheus.Counter
	OrphanReplies  prometheus.Counter
	TicketsByState *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		Published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchwire_messages_published_total",
			Help: "Messages handed to the broker, by exchange.",
		}, []string{"exchange"}),
		Consumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchwire_messages_consumed_total",
			Help: "Deliveries received from the broker, by queue.",
		}, []string{"queue"}),
		Dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchwire_messages_dispatched_total",
			Help: "Messages dispatched to handlers, by message type.",
		}, []string{"type"}),
		DispatchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchwire_dispatch_errors_total",
			Help: "Handler and decode failures, by kind.",
		}, []string{"kind"}),
		Acked: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchwire_deliveries_acked_total",
			Help: "Deliveries acknowledged.",
		}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchwire_deliveries_rejected_total",
			Help: "Deliveries rejected without requeue.",
		}),
		RepliesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchwire_replies_sent_total",
			Help: "Replies published, by outcome.",
		}, []string{"outcome"}),
		ReplyTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchwire_reply_timeouts_total",
			Help: "Synchronous requests that timed out waiting for a reply.",
		}),
		OrphanReplies: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchwire_orphan_replies_total",
			Help: "Replies that failed correlation validation and were dropped.",
		}),
		TicketsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "matchwire_tickets",
			Help: "Matchmaking tickets currently known, by state.",
		}, []string{"state"}),
	}
}

// Handler exposes the prometheus scrape endpoint.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
