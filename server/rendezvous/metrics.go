package rendezvous

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "punchline_rendezvous"

// Drop reasons, as used in the dropped_total metric.
const (
	DropNotAllowed  = "not_allowed"
	DropRateLimited = "rate_limited"
	DropMalformed   = "malformed"
	DropUnknownType = "unknown_type"
	DropChat        = "chat"
	DropUnexpected  = "unexpected"
	DropUnknownPeer = "unknown_peer"
)

type Metrics struct {
	Joins        prometheus.Counter
	Heartbeats   prometheus.Counter
	DuplicateIDs prometheus.Counter
	Expired      prometheus.Counter
	StunRequests prometheus.Counter
	Dropped      *prometheus.CounterVec

	Entries prometheus.Gauge
	Groups  prometheus.Gauge
}

// NewMetrics creates the server metrics and registers them with reg; a nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Joins: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Join datagrams handled.",
		}),
		Heartbeats: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat datagrams handled.",
		}),
		DuplicateIDs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_ids_total",
			Help:      "Joins that overwrote a peer id registered from another endpoint.",
		}),
		Expired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_total",
			Help:      "Directory entries removed by the sweep.",
		}),
		StunRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stun_requests_total",
			Help:      "STUN binding requests answered.",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Datagrams dropped, by reason.",
		}, []string{"reason"}),
		Entries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "Current directory entries.",
		}),
		Groups: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "groups",
			Help:      "Current non-empty groups.",
		}),
	}
}
