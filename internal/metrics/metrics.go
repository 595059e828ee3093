// Package metrics exports the supernode's packet/error counters as
// Prometheus instruments, mounted at /metrics alongside the management
// HTTP server. The same counts also back the get_packetstats JSON-RPC
// method (internal/mgmt), so Counters is the single point of increment;
// Prometheus and JSON-RPC are two read-out paths over one source of
// truth.
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters implements session.Counters and dispatch's forwarding counters,
// backed by Prometheus counters instead of bare atomics, grounded
// in the domain stack's prometheus/client_golang usage.
type Counters struct {
	fwd       prometheus.Counter
	broadcast prometheus.Counter
	regNak    prometheus.Counter
	rxError   prometheus.Counter
}

// New registers the supernode's counters against reg and returns a
// Counters ready to hand to session.NewEngine and internal/dispatch.
func New(reg prometheus.Registerer) *Counters {
	c := &Counters{
		fwd: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "n3n",
			Name:      "sn_fwd_total",
			Help:      "Unicast packets forwarded to a known edge.",
		}),
		broadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "n3n",
			Name:      "sn_broadcast_total",
			Help:      "Broadcast/multicast packets fanned out.",
		}),
		regNak: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "n3n",
			Name:      "sn_reg_nak_total",
			Help:      "REGISTER/REGISTER_SUPER requests rejected with a NAK.",
		}),
		rxError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "n3n",
			Name:      "rx_error_total",
			Help:      "Inbound datagrams dropped: decode failure or unknown message kind.",
		}),
	}
	reg.MustRegister(c.fwd, c.broadcast, c.regNak, c.rxError)
	return c
}

func (c *Counters) IncFwd()       { c.fwd.Inc() }
func (c *Counters) IncBroadcast() { c.broadcast.Inc() }
func (c *Counters) IncRegNak()    { c.regNak.Inc() }
func (c *Counters) IncRxError()   { c.rxError.Inc() }

// Snapshot is the get_packetstats JSON-RPC payload shape.
type Snapshot struct {
	Fwd       float64 `json:"sn_fwd"`
	Broadcast float64 `json:"sn_broadcast"`
	RegNak    float64 `json:"sn_reg_nak"`
	RxError   float64 `json:"rx_error"`
}

// Snapshot reads the current counter values without touching the
// Prometheus registry, for get_packetstats.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Fwd:       readCounter(c.fwd),
		Broadcast: readCounter(c.broadcast),
		RegNak:    readCounter(c.regNak),
		RxError:   readCounter(c.rxError),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
